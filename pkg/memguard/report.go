package memguard

import (
	"runtime"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Status grades memory health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Report is a point-in-time view of memory health.
type Report struct {
	Status         Status    `json:"status"`
	HeapAlloc      uint64    `json:"heap_alloc"`
	HeapHuman      string    `json:"heap_human"`
	Goroutines     int       `json:"goroutines"`
	Warning        uint64    `json:"warning_threshold"`
	Cleanup        uint64    `json:"cleanup_threshold"`
	Critical       uint64    `json:"critical_threshold"`
	Cleanups       uint64    `json:"cleanups"`
	FreedBytes     uint64    `json:"freed_bytes"`
	LastCleanup    time.Time `json:"last_cleanup,omitzero"`
	Recommendation string    `json:"recommendation"`
}

// Report returns the current memory health.
func (g *Guard) Report() Report {
	heap := g.heap()
	r := Report{
		HeapAlloc:  heap,
		HeapHuman:  logger.HumanBytes(heap),
		Goroutines: runtime.NumGoroutine(),
		Warning:    g.cfg.Warning,
		Cleanup:    g.cfg.Cleanup,
		Critical:   g.cfg.Critical,
		Cleanups:   g.cleanups.Load(),
		FreedBytes: g.freed.Load(),
	}
	if ns := g.lastCleanup.Load(); ns > 0 {
		r.LastCleanup = time.Unix(0, ns)
	}

	switch {
	case heap >= g.cfg.Critical:
		r.Status = StatusCritical
		r.Recommendation = "Heap is above the critical threshold. Reduce batch sizes or restart the process."
	case heap >= g.cfg.Warning:
		r.Status = StatusWarning
		r.Recommendation = "Heap is elevated. Caches are being trimmed; watch for growth."
	default:
		r.Status = StatusHealthy
		r.Recommendation = "Memory usage is normal."
	}
	return r
}
