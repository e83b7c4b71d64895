package queue

import "time"

// Config configures a Queue.
type Config struct {
	MaxSize        int64         `env:"MAX_SIZE" envDefault:"10000"`
	UserQueueLimit int64         `env:"USER_QUEUE_LIMIT" envDefault:"100"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"20"`
	MinBatchSize   int           `env:"MIN_BATCH_SIZE" envDefault:"5"`
	HighDepth      int64         `env:"HIGH_DEPTH" envDefault:"500"`
	VeryHighDepth  int64         `env:"VERY_HIGH_DEPTH" envDefault:"1000"`
	DedupWindow    time.Duration `env:"DEDUP_WINDOW" envDefault:"5m"`
	MaxWait        time.Duration `env:"MAX_WAIT" envDefault:"60s"`
	GroupBucket    time.Duration `env:"GROUP_BUCKET" envDefault:"15m"`
	MergeSpan      time.Duration `env:"MERGE_SPAN" envDefault:"5m"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"8"`
	// MemoryThreshold halves the batch size while process heap usage is
	// above it. Zero disables the check.
	MemoryThreshold uint64        `env:"MEMORY_THRESHOLD" envDefault:"536870912"`
	ItemCacheSize   int           `env:"ITEM_CACHE_SIZE" envDefault:"4096"`
	ItemCacheTTL    time.Duration `env:"ITEM_CACHE_TTL" envDefault:"10m"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		MaxSize:         10000,
		UserQueueLimit:  100,
		BatchSize:       20,
		MinBatchSize:    5,
		HighDepth:       500,
		VeryHighDepth:   1000,
		DedupWindow:     5 * time.Minute,
		MaxWait:         time.Minute,
		GroupBucket:     15 * time.Minute,
		MergeSpan:       5 * time.Minute,
		MaxAttempts:     8,
		MemoryThreshold: 512 << 20,
		ItemCacheSize:   4096,
		ItemCacheTTL:    10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	if c.UserQueueLimit <= 0 {
		c.UserQueueLimit = d.UserQueueLimit
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = d.MinBatchSize
	}
	if c.HighDepth <= 0 {
		c.HighDepth = d.HighDepth
	}
	if c.VeryHighDepth <= 0 {
		c.VeryHighDepth = d.VeryHighDepth
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = d.DedupWindow
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.GroupBucket <= 0 {
		c.GroupBucket = d.GroupBucket
	}
	if c.MergeSpan <= 0 {
		c.MergeSpan = d.MergeSpan
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.ItemCacheSize <= 0 {
		c.ItemCacheSize = d.ItemCacheSize
	}
	if c.ItemCacheTTL <= 0 {
		c.ItemCacheTTL = d.ItemCacheTTL
	}
	return c
}
