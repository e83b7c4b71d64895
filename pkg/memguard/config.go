package memguard

import "time"

// Config holds the check interval and heap thresholds in bytes.
type Config struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"30s"`
	Warning  uint64        `env:"WARNING" envDefault:"268435456"`
	Cleanup  uint64        `env:"CLEANUP" envDefault:"536870912"`
	Critical uint64        `env:"CRITICAL" envDefault:"1073741824"`
}

func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Warning:  256 << 20,
		Cleanup:  512 << 20,
		Critical: 1 << 30,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Warning == 0 {
		c.Warning = d.Warning
	}
	if c.Cleanup < c.Warning {
		c.Cleanup = max(d.Cleanup, c.Warning)
	}
	if c.Critical < c.Cleanup {
		c.Critical = max(d.Critical, c.Cleanup)
	}
	return c
}
