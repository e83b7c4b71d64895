package metrics

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// Outcome is what happened to one notification.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeQueued    Outcome = "queued"
	// OutcomeRejected is a send refused outright: invalid input or a
	// bypass send over the global limit.
	OutcomeRejected  Outcome = "rejected"
)

// Sample is a single recorded event.
type Sample struct {
	Timestamp time.Time
	Type      notification.Type
	Outcome   Outcome
	Latency   time.Duration
	// BatchSize is the number of original notifications the attempt carried.
	// Zero is treated as one.
	BatchSize int
}

// Success reports whether the sample is a delivered notification.
func (s Sample) Success() bool { return s.Outcome == OutcomeDelivered }

// attempt reports whether the sample is a transport call.
func (s Sample) attempt() bool {
	return s.Outcome == OutcomeDelivered || s.Outcome == OutcomeFailed
}
