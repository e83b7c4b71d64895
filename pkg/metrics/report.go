package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notification"
)

const typeFieldPfx = "type:"

// TypeStats counts outcomes for one notification type.
type TypeStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Blocked   int64 `json:"blocked"`
	Queued    int64 `json:"queued"`
	Rejected  int64 `json:"rejected"`
}

// Metrics is an aggregate over a trailing window of whole hours.
type Metrics struct {
	PeriodHours int `json:"period_hours"`
	// Total counts notifications handed to the transport.
	Total     int64 `json:"total"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Blocked   int64 `json:"blocked"`
	Queued    int64 `json:"queued"`
	Rejected  int64 `json:"rejected"`
	Attempts  int64 `json:"attempts"`

	DeliveryRate      float64 `json:"delivery_rate"`
	ErrorRate         float64 `json:"error_rate"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
	ThroughputPerHour float64 `json:"throughput_per_hour"`
	// BatchEfficiency is the mean number of notifications per transport call.
	BatchEfficiency float64 `json:"batch_efficiency"`

	QueueDepth  int64   `json:"queue_depth"`
	MemoryBytes uint64  `json:"memory_bytes"`
	CPUPercent  float64 `json:"cpu_percent"`

	TypeBreakdown map[notification.Type]TypeStats `json:"type_breakdown"`
}

// GetMetrics flushes pending samples and aggregates the last periodHours
// hourly buckets, the current one included. With no recorded attempts the
// delivery rate is 1.
func (c *Collector) GetMetrics(ctx context.Context, periodHours int) (Metrics, error) {
	if periodHours < 1 {
		return Metrics{}, ErrInvalidPeriod
	}
	if err := c.Flush(ctx); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "metrics flush failed before aggregation",
			logger.Component("metrics"),
			logger.Error(err),
		)
	}

	sums := make(map[string]int64)
	now := c.now()
	for h := range periodHours {
		fields, err := c.store.HGetAll(ctx, hourKey(now.Add(-time.Duration(h)*time.Hour)))
		if err != nil {
			return Metrics{}, err
		}
		for f, v := range fields {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			sums[f] += n
		}
	}

	m := Metrics{
		PeriodHours:   periodHours,
		Delivered:     sums[fieldDelivered],
		Failed:        sums[fieldFailed],
		Blocked:       sums[fieldBlocked],
		Queued:        sums[fieldQueued],
		Rejected:      sums[fieldRejected],
		Attempts:      sums[fieldAttempts],
		DeliveryRate:  1,
		TypeBreakdown: typeBreakdown(sums),
	}
	m.Total = m.Delivered + m.Failed
	if m.Total > 0 {
		m.DeliveryRate = float64(m.Delivered) / float64(m.Total)
		m.ErrorRate = float64(m.Failed) / float64(m.Total)
	}
	if m.Attempts > 0 {
		m.AverageLatencyMs = float64(sums[fieldLatencyMs]) / float64(m.Attempts)
		m.BatchEfficiency = float64(sums[fieldBatchSize]) / float64(m.Attempts)
	}
	m.ThroughputPerHour = float64(m.Delivered) / float64(periodHours)

	if c.depth != nil {
		if d, err := c.depth(ctx); err == nil {
			m.QueueDepth = d
		}
	}
	if c.sampler != nil {
		if mem, cpu, err := c.sampler.SampleProcess(ctx); err == nil {
			m.MemoryBytes = mem
			m.CPUPercent = cpu
		}
	}
	return m, nil
}

func typeField(t notification.Type, o Outcome) string {
	return typeFieldPfx + string(t) + ":" + string(o)
}

func typeBreakdown(sums map[string]int64) map[notification.Type]TypeStats {
	out := make(map[notification.Type]TypeStats)
	for f, n := range sums {
		rest, ok := strings.CutPrefix(f, typeFieldPfx)
		if !ok {
			continue
		}
		i := strings.LastIndexByte(rest, ':')
		if i < 0 {
			continue
		}
		t := notification.Type(rest[:i])
		ts := out[t]
		switch Outcome(rest[i+1:]) {
		case OutcomeDelivered:
			ts.Delivered += n
		case OutcomeFailed:
			ts.Failed += n
		case OutcomeBlocked:
			ts.Blocked += n
		case OutcomeQueued:
			ts.Queued += n
		case OutcomeRejected:
			ts.Rejected += n
		}
		out[t] = ts
	}
	return out
}
