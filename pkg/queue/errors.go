package queue

import "errors"

var (
	// ErrQueueFull is returned by Enqueue when MaxSize items are pending.
	ErrQueueFull = errors.New("queue: full")

	// ErrInvalidItem is returned by Enqueue for items missing a user, a
	// valid priority or a valid payload.
	ErrInvalidItem = errors.New("queue: invalid item")

	// ErrMaxAttempts is returned by Requeue when the item has been retried
	// MaxAttempts times. The item is moved to the dead-letter set.
	ErrMaxAttempts = errors.New("queue: max attempts exceeded")

	// ErrStoreRequired is raised by New when no store is given.
	ErrStoreRequired = errors.New("queue: store is required")
)
