package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Breaker is a circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state           State
	failureCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	lastStateChange time.Time
	probing         bool

	successes uint64
	failures  uint64
	timeouts  uint64
	rejected  uint64

	now           func() time.Time
	logger        *slog.Logger
	onStateChange func(from, to State)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger logs state transitions.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithStateChange registers a hook called after every transition. The hook
// runs with the breaker lock held and must not call back into the breaker.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// New creates a closed breaker. Zero config fields take defaults.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		cfg:    cfg.withDefaults(),
		state:  StateClosed,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastStateChange = b.now()
	return b
}

// Execute runs fn unless the breaker is open. fn receives a context bounded
// by the call timeout. Cancellation of ctx by the caller is returned as is
// and not counted against the dependency.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("circuitbreaker: panic in wrapped call: %v", r)
			}
		}()
		done <- fn(callCtx)
	}()

	var (
		err      error
		timedOut bool
	)
	select {
	case err = <-done:
		timedOut = err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
	case <-callCtx.Done():
		if ctx.Err() == nil {
			timedOut = true
		}
		err = callCtx.Err()
	}

	if err != nil && !timedOut && ctx.Err() != nil {
		b.release()
		return err
	}
	if timedOut {
		err = fmt.Errorf("%w after %s", ErrTimeout, b.cfg.CallTimeout)
	}
	b.record(err, timedOut)
	return err
}

// State returns the current state. An open breaker whose reset timeout has
// passed still reports open until the next Execute probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// NextAttempt returns when an open breaker will allow a probe. It is zero
// while the breaker has never opened.
func (b *Breaker) NextAttempt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextAttemptTime
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(StateClosed)
	b.failureCount = 0
	b.probing = false
	b.lastFailureTime = time.Time{}
	b.nextAttemptTime = time.Time{}
	b.successes, b.failures, b.timeouts, b.rejected = 0, 0, 0, 0
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.nextAttemptTime) {
			b.rejected++
			return &OpenError{Name: b.cfg.Name, NextAttempt: b.nextAttemptTime}
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.rejected++
			return &OpenError{Name: b.cfg.Name, NextAttempt: b.nextAttemptTime}
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

func (b *Breaker) record(err error, timedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if err == nil {
		b.successes++
		switch b.state {
		case StateHalfOpen:
			b.failureCount = 0
			b.probing = false
			b.transition(StateClosed)
		case StateClosed:
			b.failureCount = max(b.failureCount-1, 0)
		}
		return
	}

	b.failures++
	if timedOut {
		b.timeouts++
	}
	b.lastFailureTime = now

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.nextAttemptTime = now.Add(b.cfg.ResetTimeout)
		b.transition(StateOpen)
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.nextAttemptTime = now.Add(b.cfg.ResetTimeout)
			b.transition(StateOpen)
		}
	}
}

// Must be called with lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = b.now()

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	b.logger.LogAttrs(context.Background(), level, "circuit breaker state changed",
		logger.Component("circuitbreaker"),
		slog.String("breaker", b.cfg.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("failure_count", b.failureCount),
	)
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
