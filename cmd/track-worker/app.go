package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/BearBump/KuaidiBox/config"
	"github.com/BearBump/KuaidiBox/internal/broker/kafka"
	"github.com/BearBump/KuaidiBox/internal/cache/rediscache"
	"github.com/BearBump/KuaidiBox/internal/integrations/tianapi"
	"github.com/BearBump/KuaidiBox/internal/integrations/tianapi/fake"
	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/services/poller"
	"github.com/BearBump/KuaidiBox/internal/storage/pgtracking"
)

type workerFactories struct {
	newStorage     func(ctx context.Context, cfg *config.Config) (repo poller.StateRepository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) (p poller.Producer, closeFn func())
	newRateLimiter func(cfg *config.Config) poller.RateLimiter
	newFetcher     func(cfg *config.Config) poller.Fetcher
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (poller.StateRepository, func(), error) {
			st, err := pgtracking.New(ctx, cfg.PostgresDSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (poller.Producer, func()) {
			p := kafka.NewProducer(cfg.KafkaBrokers())
			return p, func() { _ = p.Close() }
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			if cfg.RedisAddr() == "" || cfg.Tianapi.RateLimitPerMinute <= 0 {
				return nil
			}
			return rediscache.NewRateLimiter(cfg.RedisAddr())
		},
		newFetcher: func(cfg *config.Config) poller.Fetcher {
			if cfg.Tianapi.Mode == config.TianapiModeFake {
				return fake.New()
			}
			return tianapi.New(cfg.Tianapi.BaseURL).WithTimeout(cfg.TianapiTimeout())
		},
	}
}

type workerRunOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

// RunTrackWorker registers the configured shipments, serves the control API
// and polls until ctx is cancelled.
func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerRunOpts) error {
	repo, closeRepo, err := f.newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		defer closeRepo()
	}

	producer, closeProducer := f.newProducer(cfg)
	if closeProducer != nil {
		defer closeProducer()
	}

	p := poller.New(f.newFetcher(cfg), producer, cfg.Kafka.ShipmentUpdatedTopicName).
		WithStateRepository(repo).
		WithInterval(cfg.PollIntervalOverride())
	if rl := f.newRateLimiter(cfg); rl != nil {
		p.WithRateLimiter(rl, int64(cfg.Tianapi.RateLimitPerMinute))
		if c, ok := rl.(io.Closer); ok {
			defer c.Close()
		}
	}
	defer p.Close()

	var ready atomic.Bool
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:      opts.httpAddr,
			swaggerPath:   opts.swaggerPath,
			onListen:      opts.onListen,
			registry:      p,
			cfg:           cfg,
			ready:         ready.Load,
			defaultAPIKey: defaultAPIKey(cfg),
		})
	}()

	registerConfigured(ctx, p, cfg.Queries())
	ready.Store(true)

	select {
	case <-ctx.Done():
		<-httpErr
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func registerConfigured(ctx context.Context, r shipmentRegistry, qs []models.TrackingQuery) {
	for _, q := range qs {
		if ctx.Err() != nil {
			return
		}
		id, err := r.Register(ctx, q)
		if err != nil {
			var cfgErr *models.ConfigurationError
			if errors.As(err, &cfgErr) {
				slog.Warn("skip configured shipment", "tracking_number", q.TrackingNumber, "error", err.Error())
				continue
			}
			slog.Error("register configured shipment", "tracking_number", q.TrackingNumber, "error", err.Error())
			continue
		}
		slog.Info("configured shipment ready", "shipment_id", id, "tracking_number", q.TrackingNumber)
	}
}

func defaultAPIKey(cfg *config.Config) string {
	if cfg.Tianapi.APIKey == "" && cfg.Tianapi.Mode == config.TianapiModeFake {
		return "demo"
	}
	return cfg.Tianapi.APIKey
}
