package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/KuaidiBox/config"
	"github.com/BearBump/KuaidiBox/internal/broker/kafka"
	"github.com/BearBump/KuaidiBox/internal/cache"
	"github.com/BearBump/KuaidiBox/internal/cache/rediscache"
	"github.com/BearBump/KuaidiBox/internal/services/trackings"
	"github.com/BearBump/KuaidiBox/internal/storage/pgtracking"
)

type trackAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     trackAPIOpts
	svc      *trackings.Service
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := &trackAPIApp{ctx: ctx, cancel: cancel}

	st := mustOpenPostgresWithRetry(ctx, cfg.PostgresDSN(), 60*time.Second)
	app.closers = append(app.closers, st.Close)

	var c cache.BytesCache
	if addr := cfg.RedisAddr(); addr != "" {
		rc := rediscache.New(addr)
		if err := rc.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, cache misses will hit postgres", "addr", addr, "error", err.Error())
		}
		app.closers = append(app.closers, func() { _ = rc.Close() })
		c = rc
	}
	app.svc = trackings.New(st, c, cfg.CurrentStatusTTL())

	app.consumer = kafka.NewConsumer(cfg.KafkaBrokers(), cfg.Kafka.ShipmentUpdatedTopicName, cfg.KuaidiBox.KafkaConsumerGroup)
	app.closers = append(app.closers, func() { _ = app.consumer.Close() })

	app.opts = trackAPIOpts{
		httpAddr:      cfg.KuaidiBox.HTTPAddr,
		swaggerPath:   swaggerPath,
		topic:         cfg.Kafka.ShipmentUpdatedTopicName,
		consumerGroup: cfg.KuaidiBox.KafkaConsumerGroup,
	}
	return app
}

func mustOpenPostgresWithRetry(ctx context.Context, connString string, wait time.Duration) *pgtracking.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtracking.New(ctx, connString)
		if err == nil {
			return st
		}
		lastErr = err
		slog.Warn("postgres not ready, retrying", "error", err.Error())
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.svc, a.consumer)
}
