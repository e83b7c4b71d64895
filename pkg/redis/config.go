package redis

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/backoff"
)

// Config describes how to reach Redis. URL uses the go-redis format,
// e.g. "redis://:password@localhost:6379/0".
type Config struct {
	URL            string              `env:"URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int                 `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryBackoff   backoff.Exponential `envPrefix:"RETRY_"`
	ConnectTimeout time.Duration       `env:"CONNECT_TIMEOUT" envDefault:"30s"`
}
