package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/store"
)

const hourKeyPfx = "metrics:hour:"

// Hourly hash fields.
const (
	fieldDelivered = "delivered"
	fieldFailed    = "failed"
	fieldBlocked   = "blocked"
	fieldQueued    = "queued"
	fieldRejected  = "rejected"
	fieldAttempts  = "attempts"
	fieldLatencyMs = "latency_ms"
	fieldBatchSize = "batch_size"
)

// DepthFunc reports the current number of pending notifications.
type DepthFunc func(ctx context.Context) (int64, error)

// ProcessSampler reports process resident memory and CPU usage.
type ProcessSampler interface {
	SampleProcess(ctx context.Context) (memBytes uint64, cpuPercent float64, err error)
}

// Collector buffers samples and aggregates them into hourly buckets.
type Collector struct {
	store   store.Hash
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
	depth   DepthFunc
	sampler ProcessSampler

	mu      sync.Mutex
	buffer  []Sample
	flushCh chan struct{}

	registry   *prometheus.Registry
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	dropped    prometheus.Counter
}

type Option func(*Collector)

func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithQueueDepth sets the source of Metrics.QueueDepth.
func WithQueueDepth(fn DepthFunc) Option {
	return func(c *Collector) { c.depth = fn }
}

// WithProcessSampler sets the source of Metrics.MemoryBytes and CPUPercent.
func WithProcessSampler(s ProcessSampler) Option {
	return func(c *Collector) { c.sampler = s }
}

// New creates a collector persisting hourly aggregates to st. It panics if
// st is nil.
func New(st store.Hash, cfg Config, opts ...Option) *Collector {
	if st == nil {
		panic(ErrStoreRequired)
	}
	cfg = cfg.withDefaults()
	c := &Collector{
		store:    st,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.Discard(),
		buffer:   make([]Sample, 0, cfg.BufferSize),
		flushCh:  make(chan struct{}, 1),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}

	factory := promauto.With(c.registry)
	c.deliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_total",
			Help: "Notifications recorded by outcome and type",
		},
		[]string{"outcome", "type"},
	)
	c.latency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Duration of transport calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"outcome"},
	)
	c.dropped = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_metric_samples_dropped_total",
			Help: "Samples lost because the backing store rejected a flush",
		},
	)
	c.registry.MustRegister(&snapshotCollector{c: c})
	return c
}

// Record buffers a sample. It never blocks on the store; a full buffer
// wakes Run to flush early.
func (c *Collector) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = c.now()
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 1
	}

	c.deliveries.WithLabelValues(string(s.Outcome), string(s.Type)).Add(float64(s.BatchSize))
	if s.attempt() {
		c.latency.WithLabelValues(string(s.Outcome)).Observe(s.Latency.Seconds())
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, s)
	full := len(c.buffer) >= c.cfg.BufferSize
	c.mu.Unlock()

	if full {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// Buffered returns the number of samples waiting for a flush.
func (c *Collector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Flush folds buffered samples into their hourly buckets. Samples of a
// bucket the store rejects are dropped and counted.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	samples := c.buffer
	c.buffer = make([]Sample, 0, c.cfg.BufferSize)
	c.mu.Unlock()

	if len(samples) == 0 {
		return nil
	}

	buckets := make(map[string]map[string]int64)
	counts := make(map[string]int)
	for _, s := range samples {
		key := hourKey(s.Timestamp)
		fields := buckets[key]
		if fields == nil {
			fields = make(map[string]int64)
			buckets[key] = fields
		}
		addSample(fields, s)
		counts[key]++
	}

	var firstErr error
	for key, fields := range buckets {
		if err := c.store.HIncrBy(ctx, key, fields, c.cfg.Retention); err != nil {
			c.dropped.Add(float64(counts[key]))
			if firstErr == nil {
				firstErr = fmt.Errorf("metrics: flush %s: %w", key, err)
			}
		}
	}
	return firstErr
}

// Run flushes every FlushInterval, and early when the buffer fills, until
// ctx is done. A final flush runs on the way out.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			c.flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			c.flush(ctx)
		case <-c.flushCh:
			c.flush(ctx)
		}
	}
}

func (c *Collector) flush(ctx context.Context) {
	if err := c.Flush(ctx); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "metrics flush failed, samples dropped",
			logger.Component("metrics"),
			logger.Error(err),
		)
	}
}

func addSample(fields map[string]int64, s Sample) {
	n := int64(s.BatchSize)
	fields[string(s.Outcome)] += n
	fields[typeField(s.Type, s.Outcome)] += n
	if s.attempt() {
		fields[fieldAttempts]++
		fields[fieldLatencyMs] += s.Latency.Milliseconds()
		fields[fieldBatchSize] += n
	}
}

func hourKey(t time.Time) string {
	return hourKeyPfx + t.UTC().Format("2006010215")
}
