package circuitbreaker

import (
	"fmt"
	"time"
)

// Stats is a snapshot of breaker counters.
type Stats struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	Successes       uint64    `json:"successes"`
	Failures        uint64    `json:"failures"`
	Timeouts        uint64    `json:"timeouts"`
	Rejected        uint64    `json:"rejected"`
	Total           uint64    `json:"total"`
	SuccessRate     float64   `json:"success_rate"`
	FailureRate     float64   `json:"failure_rate"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
	NextAttemptTime time.Time `json:"next_attempt_time,omitzero"`
	LastStateChange time.Time `json:"last_state_change"`
}

// HealthStatus grades the protected dependency.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the result of HealthCheck.
type Health struct {
	Status         HealthStatus `json:"status"`
	State          State        `json:"state"`
	FailureRate    float64      `json:"failure_rate"`
	Recommendation string       `json:"recommendation"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats()
}

// HealthCheck grades the breaker and suggests an operator action.
func (b *Breaker) HealthCheck() Health {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stats()
	h := Health{State: s.State, FailureRate: s.FailureRate}
	switch {
	case s.State == StateOpen:
		h.Status = HealthUnhealthy
		h.Recommendation = fmt.Sprintf(
			"%s is failing; calls are rejected until %s. Check transport availability and credentials.",
			s.Name, s.NextAttemptTime.Format(time.RFC3339))
	case s.State == StateHalfOpen:
		h.Status = HealthDegraded
		h.Recommendation = fmt.Sprintf("%s is recovering; a probe call is deciding whether to close the circuit.", s.Name)
	case s.Total > 0 && s.FailureRate >= b.cfg.DegradedFailureRate:
		h.Status = HealthDegraded
		h.Recommendation = fmt.Sprintf(
			"%s failure rate is %.1f%%; investigate transport errors before the breaker trips.",
			s.Name, s.FailureRate*100)
	case s.FailureCount > 0:
		h.Status = HealthDegraded
		h.Recommendation = fmt.Sprintf(
			"%s has %d recent failures out of a threshold of %d.",
			s.Name, s.FailureCount, b.cfg.FailureThreshold)
	default:
		h.Status = HealthHealthy
		h.Recommendation = "No action needed."
	}
	return h
}

// Must be called with lock held.
func (b *Breaker) stats() Stats {
	total := b.successes + b.failures
	s := Stats{
		Name:            b.cfg.Name,
		State:           b.state,
		FailureCount:    b.failureCount,
		Successes:       b.successes,
		Failures:        b.failures,
		Timeouts:        b.timeouts,
		Rejected:        b.rejected,
		Total:           total,
		LastFailureTime: b.lastFailureTime,
		NextAttemptTime: b.nextAttemptTime,
		LastStateChange: b.lastStateChange,
	}
	if total > 0 {
		s.SuccessRate = float64(b.successes) / float64(total)
		s.FailureRate = float64(b.failures) / float64(total)
	}
	return s
}
