package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/internal/config"
	pkgconfig "github.com/dmitrymomot/notifykit/pkg/config"
	"github.com/dmitrymomot/notifykit/pkg/preferences"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(pkgconfig.WithEnvironment(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.Equal(t, config.TransportWebSocket, cfg.Transport)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, int64(10000), cfg.Queue.MaxSize)
	assert.Equal(t, 8, cfg.Queue.MaxAttempts)
	assert.Equal(t, 20, cfg.RateLimit.User.PerMinute)
	assert.Equal(t, 100, cfg.RateLimit.GlobalMultiplier)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 30*time.Second, cfg.Metrics.FlushInterval)
	assert.Equal(t, uint64(1<<30), cfg.Memory.Critical)
	assert.Equal(t, 5, cfg.Notifier.Concurrency)
	assert.Equal(t, preferences.ChannelPush, cfg.Notifier.Channel)
	assert.Equal(t, time.Second, cfg.Notifier.Retry.Initial)
	assert.Empty(t, cfg.Telemetry.Endpoint)
}

func TestLoad_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(pkgconfig.WithEnvironment(map[string]string{
		"STORE":                     "redis",
		"REDIS_URL":                 "redis://cache:6379/1",
		"QUEUE_BATCH_SIZE":          "50",
		"RATELIMIT_USER_PER_MINUTE": "5",
		"NOTIFIER_CONCURRENCY":      "8",
	}))
	require.NoError(t, err)
	assert.Equal(t, config.StoreRedis, cfg.Store)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, 50, cfg.Queue.BatchSize)
	assert.Equal(t, 5, cfg.RateLimit.User.PerMinute)
	assert.Equal(t, 8, cfg.Notifier.Concurrency)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	_, err := config.Load(pkgconfig.WithEnvironment(map[string]string{"STORE": "etcd"}))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = config.Load(pkgconfig.WithEnvironment(map[string]string{"TRANSPORT": "http"}))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
