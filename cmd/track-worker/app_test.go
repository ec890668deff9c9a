package main

import (
	"context"
	"testing"

	"github.com/BearBump/KuaidiBox/config"
	"github.com/BearBump/KuaidiBox/internal/integrations/tianapi"
	"github.com/BearBump/KuaidiBox/internal/integrations/tianapi/fake"
	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/services/poller"
	"github.com/stretchr/testify/require"
)

type emptyRepo struct{}

func (emptyRepo) LoadState(ctx context.Context, shipmentID string) (models.CoordinatorState, bool, error) {
	return models.CoordinatorState{}, false, nil
}

type noopProducer struct{}

func (noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

func testFactories(closed *[]string) workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (poller.StateRepository, func(), error) {
			return emptyRepo{}, func() { *closed = append(*closed, "storage") }, nil
		},
		newProducer: func(cfg *config.Config) (poller.Producer, func()) {
			return noopProducer{}, func() { *closed = append(*closed, "producer") }
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter { return nil },
		newFetcher:     func(cfg *config.Config) poller.Fetcher { return fake.New() },
	}
}

func fakeModeConfig() *config.Config {
	cfg := &config.Config{
		Tianapi: config.TianapiConfig{Mode: config.TianapiModeFake},
		Shipments: []config.ShipmentConfig{
			{TrackingNumber: "SF1", DisplayName: "Books"},
			{TrackingNumber: "YT2"},
			{TrackingNumber: "SF1", DisplayName: "duplicate"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDefaultWorkerFactories_SelectFetcher(t *testing.T) {
	f := defaultWorkerFactories()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	_, ok := f.newFetcher(cfg).(*tianapi.Client)
	require.True(t, ok)

	cfg.Tianapi.Mode = config.TianapiModeFake
	_, ok = f.newFetcher(cfg).(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_ProducerAndRateLimiter(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
	}
	p, closeFn := f.newProducer(cfg)
	require.NotNil(t, p)
	closeFn()

	require.Nil(t, f.newRateLimiter(cfg))
	cfg.Redis = config.RedisConfig{Host: "localhost", Port: 6379}
	require.Nil(t, f.newRateLimiter(cfg))
	cfg.Tianapi.RateLimitPerMinute = 60
	require.NotNil(t, f.newRateLimiter(cfg))
}

func TestRunTrackWorker_ContextCanceled(t *testing.T) {
	var closed []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunTrackWorker(ctx, fakeModeConfig(), testFactories(&closed), workerRunOpts{httpAddr: "127.0.0.1:0"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"producer", "storage"}, closed)
}

func TestDefaultAPIKey(t *testing.T) {
	cfg := &config.Config{Tianapi: config.TianapiConfig{Mode: config.TianapiModeFake}}
	require.Equal(t, "demo", defaultAPIKey(cfg))
	cfg.Tianapi.APIKey = "k"
	require.Equal(t, "k", defaultAPIKey(cfg))
}
