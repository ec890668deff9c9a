package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	shipmentsapi "github.com/BearBump/KuaidiBox/internal/api/shipments_api"
	"github.com/BearBump/KuaidiBox/internal/broker/kafka"
	"github.com/BearBump/KuaidiBox/internal/broker/messages"
	"github.com/BearBump/KuaidiBox/internal/services/trackings"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	// пауза перед повторным запуском консьюмера после ошибки
	consumerRestartDelay time.Duration

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runTrackAPI(ctx context.Context, opts trackAPIOpts, svc *trackings.Service, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(httpLis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, httpLis, svc, opts.swaggerPath)
	}()

	go consumeUpdates(ctx, opts, svc, consumer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// consumeUpdates держит read-модель в синхронизации с воркером. Ошибка
// хендлера останавливает консьюмер без commit; после паузы он перезапускается,
// и сообщение приходит повторно.
func consumeUpdates(ctx context.Context, opts trackAPIOpts, svc *trackings.Service, consumer kafkaConsumer) {
	delay := opts.consumerRestartDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)

	for {
		err := consumer.Consume(ctx, func(_ []byte, value []byte) error {
			return handleUpdate(ctx, svc, value)
		})
		if ctx.Err() != nil {
			return
		}
		slog.Error("kafka consumer stopped", "topic", opts.topic, "error", fmt.Sprint(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func handleUpdate(ctx context.Context, svc *trackings.Service, value []byte) error {
	var m messages.ShipmentUpdated
	if err := json.Unmarshal(value, &m); err != nil {
		return errors.Wrap(kafka.ErrPoison, err.Error())
	}
	if err := svc.ApplyUpdate(ctx, m); err != nil {
		if errors.Is(err, trackings.ErrInvalidUpdate) {
			return errors.Wrap(kafka.ErrPoison, err.Error())
		}
		return err
	}
	return nil
}

func newRouter(svc *trackings.Service, swaggerPath string) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		shipmentsapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	shipmentsapi.New(svc).Routes(r)
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, svc *trackings.Service, swaggerPath string) error {
	srv := &http.Server{
		Handler:           newRouter(svc, swaggerPath),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
