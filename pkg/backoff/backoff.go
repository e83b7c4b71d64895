// Package backoff computes retry delays for rate-limited and failed
// deliveries.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy calculates the delay before a retry. Attempt starts at 1.
// Implementations must be safe for concurrent use.
type Strategy interface {
	NextInterval(attempt int) time.Duration
}

// Exponential grows the delay geometrically and spreads it with jitter.
type Exponential struct {
	Initial    time.Duration `env:"INITIAL" envDefault:"1s"`
	Max        time.Duration `env:"MAX" envDefault:"15m"`
	Multiplier float64       `env:"MULTIPLIER" envDefault:"2"`
	Jitter     float64       `env:"JITTER" envDefault:"0.2"`
}

// Default returns the strategy used for delivery retries.
func Default() Exponential {
	return Exponential{
		Initial:    time.Second,
		Max:        15 * time.Minute,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// NextInterval returns min(Initial * Multiplier^(attempt-1) * (1 ± Jitter), Max).
func (e Exponential) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maxInterval := e.Max
	if maxInterval <= 0 {
		maxInterval = 15 * time.Minute
	}
	multiplier := e.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if e.Jitter > 0 {
		interval *= 1 + (rand.Float64()*2-1)*min(e.Jitter, 1)
	}
	if interval > float64(maxInterval) || math.IsInf(interval, 1) || math.IsNaN(interval) {
		return maxInterval
	}
	if interval < 0 {
		return 0
	}
	return time.Duration(interval)
}

// Linear grows the delay by a fixed step per attempt.
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

func (l Linear) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	step := l.Step
	if step <= 0 {
		step = time.Second
	}
	d := step * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Fixed always waits the same interval.
type Fixed time.Duration

func (f Fixed) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(f)
}
