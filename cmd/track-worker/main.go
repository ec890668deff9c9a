package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/KuaidiBox/config"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		slog.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = RunTrackWorker(ctx, cfg, defaultWorkerFactories(), workerRunOpts{
		httpAddr:    cfg.KuaidiBox.WorkerHTTPAddr,
		swaggerPath: os.Getenv("workerSwaggerPath"),
	})
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("track-worker stopped", "error", err.Error())
		os.Exit(1)
	}
}
