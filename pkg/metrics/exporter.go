package metrics

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

var (
	descDeliveryRate = prometheus.NewDesc("notification_delivery_rate",
		"Share of transport calls that delivered over the last hour", nil, nil)
	descErrorRate = prometheus.NewDesc("notification_error_rate",
		"Share of transport calls that failed over the last hour", nil, nil)
	descLatency = prometheus.NewDesc("notification_average_latency_ms",
		"Mean transport latency over the last hour in milliseconds", nil, nil)
	descThroughput = prometheus.NewDesc("notification_throughput_per_hour",
		"Notifications delivered per hour", nil, nil)
	descQueueDepth = prometheus.NewDesc("notification_queue_depth",
		"Notifications waiting for delivery", nil, nil)
	descMemory = prometheus.NewDesc("notification_memory_usage_bytes",
		"Resident memory of the process", nil, nil)
)

// snapshotCollector exposes the derived one-hour figures at scrape time.
type snapshotCollector struct {
	c *Collector
}

func (s *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descDeliveryRate
	ch <- descErrorRate
	ch <- descLatency
	ch <- descThroughput
	ch <- descQueueDepth
	ch <- descMemory
}

func (s *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, err := s.c.GetMetrics(ctx, 1)
	if err != nil {
		s.c.logger.LogAttrs(ctx, slog.LevelWarn, "metrics snapshot failed",
			logger.Component("metrics"),
			logger.Error(err),
		)
		return
	}
	ch <- prometheus.MustNewConstMetric(descDeliveryRate, prometheus.GaugeValue, m.DeliveryRate)
	ch <- prometheus.MustNewConstMetric(descErrorRate, prometheus.GaugeValue, m.ErrorRate)
	ch <- prometheus.MustNewConstMetric(descLatency, prometheus.GaugeValue, m.AverageLatencyMs)
	ch <- prometheus.MustNewConstMetric(descThroughput, prometheus.GaugeValue, m.ThroughputPerHour)
	ch <- prometheus.MustNewConstMetric(descQueueDepth, prometheus.GaugeValue, float64(m.QueueDepth))
	ch <- prometheus.MustNewConstMetric(descMemory, prometheus.GaugeValue, float64(m.MemoryBytes))
}

// Registry returns the collector's Prometheus registry so callers can add
// their own metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry for pull-based scrapers.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(c.logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Export renders every registered metric in the text exposition format.
func (c *Collector) Export() (string, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
