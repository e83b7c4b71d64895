// Package circuitbreaker protects a fallible dependency, such as a push
// delivery transport, from being called while it is failing.
//
// The breaker starts closed. Each failure increments a counter and each
// success decrements it, so isolated failures heal over time. When the
// counter reaches the threshold the breaker opens and rejects calls with
// ErrCircuitOpen until the reset timeout has passed. The next Execute after
// that runs a single half-open probe: success closes the breaker and clears
// the counter, failure reopens it for another reset timeout.
//
// Every call runs under a hard timeout; a timeout counts as a failure.
//
//	cb := circuitbreaker.New(circuitbreaker.DefaultConfig())
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//		return transport.Send(ctx, userID, payload)
//	})
//	var open *circuitbreaker.OpenError
//	if errors.As(err, &open) {
//		retryAt := open.NextAttempt
//	}
package circuitbreaker
