package metrics

import (
	"context"
	"fmt"
)

// Level grades an insight.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Insight is an actionable observation about delivery health.
type Insight struct {
	Level          Level   `json:"level"`
	Category       string  `json:"category"`
	Message        string  `json:"message"`
	Recommendation string  `json:"recommendation"`
	Value          float64 `json:"value"`
	Threshold      float64 `json:"threshold"`
}

// Insight thresholds.
const (
	DeliveryRateCritical = 0.95
	DeliveryRateWarning  = 0.98
	LatencyCriticalMs    = 1000
	LatencyWarningMs     = 500
	QueueDepthCritical   = 1000
	QueueDepthWarning    = 500
	ErrorRateCritical    = 0.05
)

// GetPerformanceInsights evaluates the last InsightWindow hours. It returns
// a single info insight when nothing crosses a threshold.
func (c *Collector) GetPerformanceInsights(ctx context.Context) ([]Insight, error) {
	m, err := c.GetMetrics(ctx, c.cfg.InsightWindow)
	if err != nil {
		return nil, err
	}
	return Insights(m), nil
}

// Insights applies the fixed thresholds to m.
func Insights(m Metrics) []Insight {
	var out []Insight

	switch {
	case m.Total > 0 && m.DeliveryRate < DeliveryRateCritical:
		out = append(out, Insight{
			Level:          LevelCritical,
			Category:       "delivery",
			Message:        fmt.Sprintf("Delivery rate is %.1f%%", m.DeliveryRate*100),
			Recommendation: "Check transport health and circuit breaker state; failing sends are being retried.",
			Value:          m.DeliveryRate,
			Threshold:      DeliveryRateCritical,
		})
	case m.Total > 0 && m.DeliveryRate < DeliveryRateWarning:
		out = append(out, Insight{
			Level:          LevelWarning,
			Category:       "delivery",
			Message:        fmt.Sprintf("Delivery rate is %.1f%%", m.DeliveryRate*100),
			Recommendation: "Review recent transport errors for recurring causes.",
			Value:          m.DeliveryRate,
			Threshold:      DeliveryRateWarning,
		})
	}

	if m.ErrorRate > ErrorRateCritical {
		out = append(out, Insight{
			Level:          LevelCritical,
			Category:       "errors",
			Message:        fmt.Sprintf("Error rate is %.1f%%", m.ErrorRate*100),
			Recommendation: "Inspect transport failures and consider lowering send concurrency.",
			Value:          m.ErrorRate,
			Threshold:      ErrorRateCritical,
		})
	}

	switch {
	case m.AverageLatencyMs > LatencyCriticalMs:
		out = append(out, Insight{
			Level:          LevelCritical,
			Category:       "latency",
			Message:        fmt.Sprintf("Average delivery latency is %.0fms", m.AverageLatencyMs),
			Recommendation: "The transport is slow; increase batching or check the push gateway.",
			Value:          m.AverageLatencyMs,
			Threshold:      LatencyCriticalMs,
		})
	case m.AverageLatencyMs > LatencyWarningMs:
		out = append(out, Insight{
			Level:          LevelWarning,
			Category:       "latency",
			Message:        fmt.Sprintf("Average delivery latency is %.0fms", m.AverageLatencyMs),
			Recommendation: "Monitor transport latency; consider larger batches.",
			Value:          m.AverageLatencyMs,
			Threshold:      LatencyWarningMs,
		})
	}

	switch {
	case m.QueueDepth > QueueDepthCritical:
		out = append(out, Insight{
			Level:          LevelCritical,
			Category:       "queue",
			Message:        fmt.Sprintf("%d notifications pending", m.QueueDepth),
			Recommendation: "The queue is backing up; raise processor concurrency or rate limits.",
			Value:          float64(m.QueueDepth),
			Threshold:      QueueDepthCritical,
		})
	case m.QueueDepth > QueueDepthWarning:
		out = append(out, Insight{
			Level:          LevelWarning,
			Category:       "queue",
			Message:        fmt.Sprintf("%d notifications pending", m.QueueDepth),
			Recommendation: "Watch queue growth; batching is already scaled up.",
			Value:          float64(m.QueueDepth),
			Threshold:      QueueDepthWarning,
		})
	}

	if len(out) == 0 {
		out = append(out, Insight{
			Level:          LevelInfo,
			Category:       "overall",
			Message:        "Notification delivery is healthy",
			Recommendation: "No action needed.",
		})
	}
	return out
}
