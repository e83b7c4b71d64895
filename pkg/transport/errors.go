package transport

import "errors"

var (
	ErrPermanent     = errors.New("transport: permanent failure")
	ErrTemporary     = errors.New("transport: temporary failure")
	ErrTimeout       = errors.New("transport: request timeout")
	ErrInvalidConfig = errors.New("transport: invalid configuration")
	ErrNotConnected  = errors.New("transport: user not connected")
	ErrHubClosed     = errors.New("transport: hub closed")
	ErrBadSignature  = errors.New("transport: invalid signature")
)
