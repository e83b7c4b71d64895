package circuitbreaker

import "time"

// Config configures a Breaker.
type Config struct {
	Name             string        `env:"NAME" envDefault:"transport"`
	FailureThreshold int           `env:"FAILURE_THRESHOLD" envDefault:"5"`
	ResetTimeout     time.Duration `env:"RESET_TIMEOUT" envDefault:"60s"`
	CallTimeout      time.Duration `env:"CALL_TIMEOUT" envDefault:"5s"`
	// DegradedFailureRate marks a closed breaker degraded once the lifetime
	// failure rate reaches it.
	DegradedFailureRate float64 `env:"DEGRADED_FAILURE_RATE" envDefault:"0.1"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		Name:                "transport",
		FailureThreshold:    5,
		ResetTimeout:        time.Minute,
		CallTimeout:         5 * time.Second,
		DegradedFailureRate: 0.1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.DegradedFailureRate <= 0 {
		c.DegradedFailureRate = d.DegradedFailureRate
	}
	return c
}
