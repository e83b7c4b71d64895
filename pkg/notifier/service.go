package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/circuitbreaker"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/memguard"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/preferences"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/ratelimit"
	"github.com/dmitrymomot/notifykit/pkg/transport"
)

const tracerName = "github.com/dmitrymomot/notifykit/pkg/notifier"

// Sweeper physically removes expired keys from a backing store.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Deps are the collaborators a Service wires together. Guard and Sweeper
// are optional.
type Deps struct {
	Queue       *queue.Queue
	Limiter     *ratelimit.Limiter
	Breaker     *circuitbreaker.Breaker
	Metrics     *metrics.Collector
	Transport   transport.Transport
	Preferences preferences.Store
	Guard       *memguard.Guard
	Sweeper     Sweeper
}

func (d Deps) validate() error {
	var missing []error
	if d.Queue == nil {
		missing = append(missing, errors.New("queue"))
	}
	if d.Limiter == nil {
		missing = append(missing, errors.New("limiter"))
	}
	if d.Breaker == nil {
		missing = append(missing, errors.New("breaker"))
	}
	if d.Metrics == nil {
		missing = append(missing, errors.New("metrics"))
	}
	if d.Transport == nil {
		missing = append(missing, errors.New("transport"))
	}
	if d.Preferences == nil {
		missing = append(missing, errors.New("preferences"))
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrMissingDependency}, missing...)...)
}

// Service admits and delivers notifications.
type Service struct {
	cfg    Config
	deps   Deps
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer

	// processing holds the keys ("" for the global pass) currently being
	// drained so a user's batch never runs twice at once.
	processing sync.Map
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// New validates deps and returns a Service.
func New(cfg Config, deps Deps, opts ...Option) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		now:    time.Now,
		logger: logger.Discard(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send admits one notification. See the package documentation for the
// decision order.
func (s *Service) Send(ctx context.Context, userID string, p notification.Payload, pr notification.Priority, opts Options) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "notifier.Send", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
		attribute.String("notification.type", string(p.Type())),
		attribute.String("notification.priority", pr.String()),
	))
	defer func() {
		span.SetAttributes(attribute.String("notification.status", string(res.Status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validate(userID, p, pr); err != nil {
		s.record(p.Type(), metrics.OutcomeRejected, 0, 1)
		return Result{Status: StatusRejected, Reason: "validation"}, err
	}

	now := s.now()
	prefs, err := s.deps.Preferences.GetPreferences(ctx, userID)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "preferences unavailable, using defaults",
			logger.Component("notifier"),
			logger.UserID(userID),
			logger.Error(err),
		)
		prefs = preferences.Default(userID)
	}

	if d := prefs.Check(p.Type(), pr, s.cfg.Channel, now); !d.Allowed {
		s.record(p.Type(), metrics.OutcomeBlocked, 0, 1)
		return Result{Status: StatusBlocked, Reason: string(d.Reason)}, nil
	}

	item := queue.Item{
		UserID:    userID,
		Payload:   p,
		Priority:  pr,
		Batchable: opts.Batchable,
		DedupKey:  opts.DedupKey,
		CreatedAt: now,
	}
	if pr == notification.PriorityCritical {
		item.Payload = critical(item.Payload)
	}

	if opts.ScheduleFor.After(now) {
		item.ScheduledFor = opts.ScheduleFor
		return s.enqueue(ctx, item, "scheduled")
	}

	if pr == notification.PriorityCritical {
		return s.sendCritical(ctx, item)
	}

	if prefs.ShouldBatch(p.Type()) {
		at := prefs.NextDelivery(now)
		item.ScheduledFor = at
		item.Batchable = true
		res, err := s.enqueue(ctx, item, "digest")
		if err == nil {
			res.BatchID = fmt.Sprintf("digest:%s:%s:%d", userID, p.Type(), at.Unix())
		}
		return res, err
	}

	if opts.BypassRateLimit {
		global, err := s.deps.Limiter.CheckGlobalLimit(ctx)
		if err == nil && !global.Allowed {
			s.record(p.Type(), metrics.OutcomeRejected, 0, 1)
			return Result{Status: StatusRejected, Reason: "rate_limited", RetryAt: now.Add(global.RetryAfter)},
				fmt.Errorf("%w: global %s window, retry after %s", ErrRateLimited, global.Window, global.RetryAfter)
		}
		if err := s.deps.Limiter.IncrementUserCounters(ctx, userID); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to count bypassed send",
				logger.Component("notifier"),
				logger.UserID(userID),
				logger.Error(err),
			)
		}
	} else if retryAfter, limited := s.limited(ctx, userID); limited {
		item.ScheduledFor = now.Add(retryAfter)
		return s.enqueue(ctx, item, "rate_limited")
	}

	return s.deliverNow(ctx, item)
}

// critical marks a payload as requiring interaction and gives it a unique
// tag so the client never collapses it into an earlier alert.
func critical(p notification.Payload) notification.Payload {
	return p.WithRequireInteraction(true).WithTag("critical-" + uuid.NewString())
}

// sendCritical delivers immediately, counting toward quotas without being
// gated. A failure is queued for retry, never dropped.
func (s *Service) sendCritical(ctx context.Context, item queue.Item) (Result, error) {
	if err := s.deps.Limiter.IncrementCounters(ctx, item.UserID); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to count critical send",
			logger.Component("notifier"),
			logger.UserID(item.UserID),
			logger.Error(err),
		)
	}
	return s.deliverNow(ctx, item)
}

func (s *Service) deliverNow(ctx context.Context, item queue.Item) (Result, error) {
	err := s.deliver(ctx, item.UserID, item.Payload, item.Type(), 1)
	if err == nil {
		return Result{Status: StatusDelivered, Success: true}, nil
	}

	item.Attempts = 1
	item.LastError = err.Error()
	item.ScheduledFor = s.retryAt(err, item.Attempts)
	reason := "transport_error"
	if circuitbreaker.IsOpen(err) {
		reason = "circuit_open"
	}
	return s.enqueue(ctx, item, reason)
}

// deliver calls the transport through the breaker and records the attempt.
func (s *Service) deliver(ctx context.Context, userID string, p notification.Payload, t notification.Type, size int) error {
	start := s.now()
	err := s.deps.Breaker.Execute(ctx, func(ctx context.Context) error {
		return s.deps.Transport.Send(ctx, userID, p)
	})
	latency := s.now().Sub(start)

	if err != nil {
		if !circuitbreaker.IsOpen(err) {
			s.record(t, metrics.OutcomeFailed, latency, size)
		}
		s.logger.LogAttrs(ctx, slog.LevelWarn, "notification delivery failed",
			logger.Component("notifier"),
			logger.UserID(userID),
			logger.NotificationType(t),
			logger.Duration(latency),
			logger.Error(err),
		)
		return err
	}
	s.record(t, metrics.OutcomeDelivered, latency, size)
	return nil
}

func (s *Service) enqueue(ctx context.Context, item queue.Item, reason string) (Result, error) {
	id, err := s.deps.Queue.Enqueue(ctx, item)
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		s.logger.LogAttrs(ctx, slog.LevelError, "queue full, notification rejected",
			logger.Component("notifier"),
			logger.UserID(item.UserID),
			logger.Priority(item.Priority),
		)
		return Result{Status: StatusRejected, Reason: "queue_full"}, fmt.Errorf("%w: %w", ErrQueueFull, err)
	case errors.Is(err, queue.ErrInvalidItem):
		return Result{Status: StatusRejected, Reason: "validation"}, fmt.Errorf("%w: %w", ErrValidation, err)
	case err != nil:
		// The store is unreachable; there is nowhere left to put it.
		return Result{Status: StatusRejected, Reason: "store_unavailable"}, fmt.Errorf("%w: %w", ErrQueueFull, err)
	}

	s.record(item.Type(), metrics.OutcomeQueued, 0, 1)
	res := Result{Status: StatusQueued, Queued: true, ID: id, Reason: reason}
	if item.ScheduledFor.After(s.now()) {
		res.RetryAt = item.ScheduledFor
	}
	return res, nil
}

// limited checks the user limit, then the global one.
func (s *Service) limited(ctx context.Context, userID string) (time.Duration, bool) {
	res, err := s.deps.Limiter.CheckUserLimit(ctx, userID)
	if err == nil && !res.Allowed {
		return res.RetryAfter, true
	}
	res, err = s.deps.Limiter.CheckGlobalLimit(ctx)
	if err == nil && !res.Allowed {
		return res.RetryAfter, true
	}
	return 0, false
}

// retryAt schedules redelivery: at the breaker's next probe when it is
// open, otherwise after the retry backoff for the attempt count.
func (s *Service) retryAt(err error, attempts int) time.Time {
	now := s.now()
	var open *circuitbreaker.OpenError
	if errors.As(err, &open) && open.NextAttempt.After(now) {
		return open.NextAttempt
	}
	return now.Add(s.cfg.Retry.NextInterval(max(attempts, 1)))
}

func (s *Service) record(t notification.Type, o metrics.Outcome, latency time.Duration, size int) {
	s.deps.Metrics.Record(metrics.Sample{
		Timestamp: s.now(),
		Type:      t,
		Outcome:   o,
		Latency:   latency,
		BatchSize: size,
	})
}

func validate(userID string, p notification.Payload, pr notification.Priority) error {
	var errs []error
	if userID == "" {
		errs = append(errs, errors.New("user id is required"))
	}
	if !pr.Valid() {
		errs = append(errs, fmt.Errorf("priority %d is out of range", pr))
	}
	if err := p.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrValidation}, errs...)...)
}
