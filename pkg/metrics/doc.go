// Package metrics records notification delivery attempts and turns them into
// health figures.
//
// Samples are buffered in memory and folded into hourly counter hashes in
// the backing store every FlushInterval, or as soon as BufferSize samples
// are waiting. GetMetrics sums the hourly hashes over a trailing window and
// derives delivery rate, error rate, latency, throughput and batch
// efficiency. GetPerformanceInsights compares those figures against fixed
// thresholds and returns leveled recommendations.
//
// A Collector also owns a Prometheus registry. Handler serves it for
// scrapers and Export renders it in the text exposition format.
package metrics
