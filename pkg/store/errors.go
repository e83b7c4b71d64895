package store

import "errors"

var (
	// ErrNotFound is returned by Get when the key does not exist or has expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")

	// ErrWrongType is returned when a key holds a value of another kind.
	ErrWrongType = errors.New("store: operation against a key holding the wrong kind of value")
)
