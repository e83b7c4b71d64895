package ratelimit

import (
	"context"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/store"
)

// Store is the subset of the backing store the limiter needs.
type Store interface {
	store.SlidingWindow
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}

// Result is the outcome of a limit check. For rejected checks it describes
// the most restrictive window; for allowed checks the window with the least
// headroom left.
type Result struct {
	Allowed    bool
	Window     string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailOpen is set when the store could not be consulted and the request
	// was allowed without counting.
	FailOpen bool
}

// WindowStatus reports usage of one window without recording an attempt.
type WindowStatus struct {
	Window    string        `json:"window"`
	Size      time.Duration `json:"size"`
	Limit     int           `json:"limit"`
	Count     int           `json:"count"`
	Remaining int           `json:"remaining"`
	ResetAt   time.Time     `json:"reset_at,omitzero"`
}

// Stats counts limiter decisions since construction.
type Stats struct {
	Allowed  uint64 `json:"allowed"`
	Limited  uint64 `json:"limited"`
	FailOpen uint64 `json:"fail_open"`
}
