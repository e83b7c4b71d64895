// Package transport delivers notification payloads to users.
//
// A Transport is the external, fallible edge of the delivery path. Callers
// wrap it in a circuit breaker and decide on retries; transports only report
// what happened. Errors wrap ErrPermanent when retrying cannot help and
// ErrTemporary otherwise.
package transport

import (
	"context"
	"errors"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// Transport sends one payload to one user.
type Transport interface {
	Send(ctx context.Context, userID string, p notification.Payload) error
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, userID string, p notification.Payload) error

func (f Func) Send(ctx context.Context, userID string, p notification.Payload) error {
	return f(ctx, userID, p)
}

// Noop accepts every payload and delivers nothing.
type Noop struct{}

func (Noop) Send(context.Context, string, notification.Payload) error { return nil }

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
