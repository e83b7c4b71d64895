package metrics

import "time"

// Config configures a Collector.
type Config struct {
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"30s"`
	BufferSize    int           `env:"BUFFER_SIZE" envDefault:"100"`
	Retention     time.Duration `env:"RETENTION" envDefault:"720h"`
	// InsightWindow is the trailing window, in hours, GetPerformanceInsights
	// evaluates.
	InsightWindow int `env:"INSIGHT_WINDOW" envDefault:"1"`
}

func DefaultConfig() Config {
	return Config{
		FlushInterval: 30 * time.Second,
		BufferSize:    100,
		Retention:     720 * time.Hour,
		InsightWindow: 1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.InsightWindow <= 0 {
		c.InsightWindow = d.InsightWindow
	}
	return c
}
