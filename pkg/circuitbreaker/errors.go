package circuitbreaker

import (
	"errors"
	"time"
)

var (
	// ErrCircuitOpen is matched by every rejection caused by an open breaker.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout is returned when the wrapped call exceeds the call timeout.
	ErrTimeout = errors.New("circuit breaker call timed out")
)

// OpenError is returned when a call is rejected. NextAttempt is when the
// breaker will allow a probe.
type OpenError struct {
	Name        string
	NextAttempt time.Time
}

func (e *OpenError) Error() string {
	if e.Name == "" {
		return ErrCircuitOpen.Error()
	}
	return ErrCircuitOpen.Error() + ": " + e.Name
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// IsOpen reports whether err was caused by an open breaker.
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
