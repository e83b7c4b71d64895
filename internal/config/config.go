// Package config aggregates the daemon configuration.
package config

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/notifykit/internal/telemetry"
	"github.com/dmitrymomot/notifykit/pkg/circuitbreaker"
	pkgconfig "github.com/dmitrymomot/notifykit/pkg/config"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/memguard"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/notifier"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/ratelimit"
	"github.com/dmitrymomot/notifykit/pkg/redis"
	"github.com/dmitrymomot/notifykit/pkg/transport"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Transports.
const (
	TransportWebSocket = "websocket"
	TransportHTTP      = "http"
	TransportNoop      = "noop"
)

var ErrInvalidConfig = errors.New("config: invalid")

type Config struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL"`
	Store     string `env:"STORE" envDefault:"memory"`
	Transport string `env:"TRANSPORT" envDefault:"websocket"`
	// KeyPrefix namespaces every Redis key.
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"notify:"`

	HTTP      httpserver.Config     `envPrefix:"HTTP_"`
	Redis     redis.Config          `envPrefix:"REDIS_"`
	Telemetry telemetry.Config
	Notifier  notifier.Config       `envPrefix:"NOTIFIER_"`
	Queue     queue.Config          `envPrefix:"QUEUE_"`
	RateLimit ratelimit.Config      `envPrefix:"RATELIMIT_"`
	Breaker   circuitbreaker.Config `envPrefix:"BREAKER_"`
	Metrics   metrics.Config        `envPrefix:"METRICS_"`
	Memory    memguard.Config       `envPrefix:"MEMGUARD_"`
	Push      transport.HTTPConfig  `envPrefix:"PUSH_"`
	Hub       transport.HubConfig   `envPrefix:"WS_"`
}

// Load reads .env if present and parses the environment.
func Load(opts ...pkgconfig.Option) (Config, error) {
	opts = append([]pkgconfig.Option{pkgconfig.WithEnvFiles(".env")}, opts...)
	cfg, err := pkgconfig.Load[Config](opts...)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.Store))
	}
	switch c.Transport {
	case TransportWebSocket, TransportNoop:
	case TransportHTTP:
		if c.Push.URL == "" {
			errs = append(errs, errors.New("PUSH_URL is required for the http transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT %q", c.Transport))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}
