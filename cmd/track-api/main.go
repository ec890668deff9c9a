package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	app := mustBootstrapTrackAPI()
	err := app.Run()
	app.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("track-api stopped", "error", err.Error())
		os.Exit(1)
	}
}
