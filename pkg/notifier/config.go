package notifier

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/backoff"
	"github.com/dmitrymomot/notifykit/pkg/preferences"
)

// Config configures a Service.
type Config struct {
	ProcessInterval time.Duration `env:"PROCESS_INTERVAL" envDefault:"15s"`
	Concurrency     int           `env:"CONCURRENCY" envDefault:"5"`
	ChunkDelay      time.Duration `env:"CHUNK_DELAY" envDefault:"100ms"`
	// RecoverAfter is how long an item may stay in flight before Run puts
	// it back on startup.
	RecoverAfter  time.Duration       `env:"RECOVER_AFTER" envDefault:"5m"`
	SweepInterval time.Duration       `env:"SWEEP_INTERVAL" envDefault:"1m"`
	Channel       preferences.Channel `env:"CHANNEL" envDefault:"push"`
	// Retry spaces out redelivery of notifications the transport rejected.
	Retry backoff.Exponential `envPrefix:"RETRY_"`
}

func DefaultConfig() Config {
	return Config{
		ProcessInterval: 15 * time.Second,
		Concurrency:     5,
		ChunkDelay:      100 * time.Millisecond,
		RecoverAfter:    5 * time.Minute,
		SweepInterval:   time.Minute,
		Channel:         preferences.ChannelPush,
		Retry:           backoff.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = d.ProcessInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = d.ChunkDelay
	}
	if c.RecoverAfter <= 0 {
		c.RecoverAfter = d.RecoverAfter
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.Channel == "" {
		c.Channel = d.Channel
	}
	if c.Retry.Initial <= 0 {
		c.Retry = d.Retry
	}
	return c
}
