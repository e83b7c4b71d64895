package ratelimit

import "errors"

var (
	// ErrKeyRequired is returned when a user check is made without a user id.
	ErrKeyRequired = errors.New("ratelimit: key is required")

	// ErrStoreRequired is returned by New when no store is given.
	ErrStoreRequired = errors.New("ratelimit: store is required")
)
