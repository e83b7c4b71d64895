package notifier

import "errors"

var (
	// ErrValidation is returned for malformed payloads, priorities or
	// recipients.
	ErrValidation = errors.New("notifier: validation failed")

	// ErrQueueFull is returned when a notification had to be queued and the
	// queue is at capacity.
	ErrQueueFull = errors.New("notifier: queue full")

	// ErrRateLimited is returned only when BypassRateLimit was requested and
	// the global limit still blocked the send.
	ErrRateLimited = errors.New("notifier: rate limited")

	ErrMissingDependency = errors.New("notifier: missing dependency")
)
