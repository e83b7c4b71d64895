package ratelimit

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/backoff"
)

// Limits sets the ceiling for each window. A zero limit disables a window.
type Limits struct {
	Burst       int           `env:"BURST" envDefault:"10"`
	BurstWindow time.Duration `env:"BURST_WINDOW" envDefault:"30s"`
	PerMinute   int           `env:"PER_MINUTE" envDefault:"20"`
	PerHour     int           `env:"PER_HOUR" envDefault:"200"`
	PerDay      int           `env:"PER_DAY" envDefault:"1000"`
}

// Scale multiplies every limit by m.
func (l Limits) Scale(m int) Limits {
	if m <= 1 {
		return l
	}
	l.Burst *= m
	l.PerMinute *= m
	l.PerHour *= m
	l.PerDay *= m
	return l
}

// Window is one sliding window with its ceiling.
type Window struct {
	Name  string
	Size  time.Duration
	Limit int
}

// Windows returns the enabled windows from strictest to loosest.
func (l Limits) Windows() []Window {
	burstWindow := l.BurstWindow
	if burstWindow <= 0 {
		burstWindow = 30 * time.Second
	}
	all := []Window{
		{Name: "burst", Size: burstWindow, Limit: l.Burst},
		{Name: "minute", Size: time.Minute, Limit: l.PerMinute},
		{Name: "hour", Size: time.Hour, Limit: l.PerHour},
		{Name: "day", Size: 24 * time.Hour, Limit: l.PerDay},
	}
	out := all[:0]
	for _, w := range all {
		if w.Limit > 0 {
			out = append(out, w)
		}
	}
	return out
}

// Config configures a Limiter.
type Config struct {
	User             Limits              `envPrefix:"USER_"`
	GlobalMultiplier int                 `env:"GLOBAL_MULTIPLIER" envDefault:"100"`
	Backoff          backoff.Exponential `envPrefix:"BACKOFF_"`
	MaxRetryAfter    time.Duration       `env:"MAX_RETRY_AFTER" envDefault:"1h"`
	ViolationTTL     time.Duration       `env:"VIOLATION_TTL" envDefault:"1h"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		User: Limits{
			Burst:       10,
			BurstWindow: 30 * time.Second,
			PerMinute:   20,
			PerHour:     200,
			PerDay:      1000,
		},
		GlobalMultiplier: 100,
		Backoff:          backoff.Default(),
		MaxRetryAfter:    time.Hour,
		ViolationTTL:     time.Hour,
	}
}
