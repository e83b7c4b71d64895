package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/circuitbreaker"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/memguard"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/ratelimit"
)

// HealthStatus grades the whole subsystem.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type RateLimitHealth struct {
	Global []ratelimit.WindowStatus `json:"global"`
	Stats  ratelimit.Stats          `json:"stats"`
}

type CircuitHealth struct {
	Health circuitbreaker.Health `json:"health"`
	Stats  circuitbreaker.Stats  `json:"stats"`
}

// HostMemory is physical memory of the machine, zero when unavailable.
type HostMemory struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
}

// SystemHealth aggregates the state of every component. Sections whose
// source failed are left empty and the failure is listed in Errors.
type SystemHealth struct {
	Status    HealthStatus      `json:"status"`
	Queue     queue.Stats       `json:"queue"`
	RateLimit RateLimitHealth   `json:"rate_limit"`
	Circuit   CircuitHealth     `json:"circuit"`
	Metrics   metrics.Metrics   `json:"metrics"`
	Insights  []metrics.Insight `json:"insights"`
	Memory    *memguard.Report  `json:"memory,omitempty"`
	Host      HostMemory        `json:"host"`
	Errors    []string          `json:"errors,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// GetSystemHealth collects a snapshot of every component and grades it.
// The breaker being open or memory above the critical threshold makes the
// system unhealthy; a degraded breaker, elevated memory or any critical
// insight makes it degraded.
func (s *Service) GetSystemHealth(ctx context.Context) SystemHealth {
	h := SystemHealth{CheckedAt: s.now()}
	fail := func(section string, err error) {
		h.Errors = append(h.Errors, section+": "+err.Error())
		s.logger.LogAttrs(ctx, slog.LevelWarn, "health section unavailable",
			logger.Component("notifier"),
			slog.String("section", section),
			logger.Error(err),
		)
	}

	if qs, err := s.deps.Queue.Stats(ctx); err != nil {
		fail("queue", err)
	} else {
		h.Queue = qs
	}

	h.RateLimit.Stats = s.deps.Limiter.Stats()
	if ws, err := s.deps.Limiter.GlobalStatus(ctx); err != nil {
		fail("rate_limit", err)
	} else {
		h.RateLimit.Global = ws
	}

	h.Circuit = CircuitHealth{
		Health: s.deps.Breaker.HealthCheck(),
		Stats:  s.deps.Breaker.Stats(),
	}

	if m, err := s.deps.Metrics.GetMetrics(ctx, 1); err != nil {
		fail("metrics", err)
	} else {
		h.Metrics = m
		h.Insights = metrics.Insights(m)
	}

	if s.deps.Guard != nil {
		r := s.deps.Guard.Report()
		h.Memory = &r
	}
	if total, used, err := memguard.SystemMemory(ctx); err == nil {
		h.Host = HostMemory{Total: total, Used: used}
	}

	h.Status = grade(h)
	return h
}

func grade(h SystemHealth) HealthStatus {
	if h.Circuit.Health.Status == circuitbreaker.HealthUnhealthy {
		return HealthUnhealthy
	}
	if h.Memory != nil && h.Memory.Status == memguard.StatusCritical {
		return HealthUnhealthy
	}
	if h.Circuit.Health.Status == circuitbreaker.HealthDegraded || len(h.Errors) > 0 {
		return HealthDegraded
	}
	if h.Memory != nil && h.Memory.Status == memguard.StatusWarning {
		return HealthDegraded
	}
	for _, in := range h.Insights {
		if in.Level == metrics.LevelCritical {
			return HealthDegraded
		}
	}
	return HealthHealthy
}
