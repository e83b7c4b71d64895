package ratelimit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/backoff"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

const (
	scopeUser   = "user"
	scopeGlobal = "global"
	lockStripes = 64
)

// Limiter evaluates user and global sliding windows.
type Limiter struct {
	store   Store
	cfg     Config
	user    []Window
	global  []Window
	backoff backoff.Strategy
	now     func() time.Time
	logger  *slog.Logger

	locks [lockStripes]sync.Mutex

	allowed  atomic.Uint64
	limited  atomic.Uint64
	failOpen atomic.Uint64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used to report fail-open decisions.
func WithLogger(l *slog.Logger) Option {
	return func(rl *Limiter) {
		if l != nil {
			rl.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(rl *Limiter) {
		if now != nil {
			rl.now = now
		}
	}
}

// WithBackoff replaces the strategy derived from Config.Backoff.
func WithBackoff(b backoff.Strategy) Option {
	return func(rl *Limiter) {
		if b != nil {
			rl.backoff = b
		}
	}
}

// New creates a Limiter. It panics if st is nil.
func New(st Store, cfg Config, opts ...Option) *Limiter {
	if st == nil {
		panic(ErrStoreRequired)
	}
	if cfg.GlobalMultiplier <= 0 {
		cfg.GlobalMultiplier = 1
	}
	if cfg.ViolationTTL <= 0 {
		cfg.ViolationTTL = time.Hour
	}
	l := &Limiter{
		store:   st,
		cfg:     cfg,
		user:    cfg.User.Windows(),
		global:  cfg.User.Scale(cfg.GlobalMultiplier).Windows(),
		backoff: cfg.Backoff,
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckUserLimit checks and, if allowed, records one send for userID.
func (l *Limiter) CheckUserLimit(ctx context.Context, userID string) (Result, error) {
	if userID == "" {
		return Result{}, ErrKeyRequired
	}
	return l.check(ctx, scopeUser, userID, l.user), nil
}

// CheckGlobalLimit checks and, if allowed, records one send system-wide.
func (l *Limiter) CheckGlobalLimit(ctx context.Context) (Result, error) {
	return l.check(ctx, scopeGlobal, "", l.global), nil
}

// IncrementCounters records a send for userID and globally without gating.
func (l *Limiter) IncrementCounters(ctx context.Context, userID string) error {
	if err := l.IncrementUserCounters(ctx, userID); err != nil {
		return err
	}
	return l.record(ctx, scopeGlobal, "", l.global)
}

// IncrementUserCounters records a send for userID only. It pairs with
// CheckGlobalLimit, which already counts the global windows it admits.
func (l *Limiter) IncrementUserCounters(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrKeyRequired
	}
	return l.record(ctx, scopeUser, userID, l.user)
}

func (l *Limiter) record(ctx context.Context, scope, id string, windows []Window) error {
	now := l.now()
	for _, w := range windows {
		if err := l.store.RecordWindow(ctx, windowKey(scope, id, w), now, w.Size); err != nil {
			return err
		}
	}
	return nil
}

// UserStatus reports per-window usage for userID.
func (l *Limiter) UserStatus(ctx context.Context, userID string) ([]WindowStatus, error) {
	if userID == "" {
		return nil, ErrKeyRequired
	}
	return l.status(ctx, scopeUser, userID, l.user)
}

// GlobalStatus reports per-window system-wide usage.
func (l *Limiter) GlobalStatus(ctx context.Context) ([]WindowStatus, error) {
	return l.status(ctx, scopeGlobal, "", l.global)
}

func (l *Limiter) Stats() Stats {
	return Stats{
		Allowed:  l.allowed.Load(),
		Limited:  l.limited.Load(),
		FailOpen: l.failOpen.Load(),
	}
}

func (l *Limiter) check(ctx context.Context, scope, id string, windows []Window) Result {
	if len(windows) == 0 {
		l.allowed.Add(1)
		return Result{Allowed: true}
	}

	mu := l.lockFor(scope + ":" + id)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()
	var (
		blocked   *Result
		tightest  Result
		tightInit bool
	)
	for _, w := range windows {
		st, err := l.store.CountWindow(ctx, windowKey(scope, id, w), now, w.Size)
		if err != nil {
			return l.openOnError(ctx, scope, id, err)
		}
		count := int(st.Count)
		if count >= w.Limit {
			resetAt := st.Oldest.Add(w.Size)
			if blocked == nil || resetAt.After(blocked.ResetAt) {
				blocked = &Result{Window: w.Name, Limit: w.Limit, ResetAt: resetAt}
			}
			continue
		}
		remaining := w.Limit - count - 1
		if !tightInit || remaining < tightest.Remaining {
			resetAt := now.Add(w.Size)
			if !st.Oldest.IsZero() {
				resetAt = st.Oldest.Add(w.Size)
			}
			tightest = Result{Allowed: true, Window: w.Name, Limit: w.Limit, Remaining: remaining, ResetAt: resetAt}
			tightInit = true
		}
	}

	vkey := violationKey(scope, id)
	if blocked != nil {
		violations, err := l.store.IncrBy(ctx, vkey, 1, l.cfg.ViolationTTL)
		if err != nil {
			violations = 1
		}
		blocked.RetryAfter = l.retryAfter(now, blocked.ResetAt, int(violations))
		l.limited.Add(1)
		return *blocked
	}

	for _, w := range windows {
		if err := l.store.RecordWindow(ctx, windowKey(scope, id, w), now, w.Size); err != nil {
			return l.openOnError(ctx, scope, id, err)
		}
	}
	_ = l.store.Delete(ctx, vkey)
	l.allowed.Add(1)
	return tightest
}

func (l *Limiter) retryAfter(now, resetAt time.Time, violations int) time.Duration {
	wait := resetAt.Sub(now)
	if l.backoff != nil {
		wait += l.backoff.NextInterval(violations)
	}
	if l.cfg.MaxRetryAfter > 0 && wait > l.cfg.MaxRetryAfter {
		wait = l.cfg.MaxRetryAfter
	}
	return max(wait, time.Millisecond)
}

func (l *Limiter) status(ctx context.Context, scope, id string, windows []Window) ([]WindowStatus, error) {
	now := l.now()
	out := make([]WindowStatus, 0, len(windows))
	for _, w := range windows {
		st, err := l.store.CountWindow(ctx, windowKey(scope, id, w), now, w.Size)
		if err != nil {
			return nil, err
		}
		ws := WindowStatus{
			Window:    w.Name,
			Size:      w.Size,
			Limit:     w.Limit,
			Count:     int(st.Count),
			Remaining: max(w.Limit-int(st.Count), 0),
		}
		if !st.Oldest.IsZero() {
			ws.ResetAt = st.Oldest.Add(w.Size)
		}
		out = append(out, ws)
	}
	return out, nil
}

func (l *Limiter) openOnError(ctx context.Context, scope, id string, err error) Result {
	l.failOpen.Add(1)
	l.logger.LogAttrs(ctx, slog.LevelWarn, "rate limit store unavailable, allowing request",
		logger.Component("ratelimit"),
		slog.String("scope", scope),
		logger.UserID(nonEmpty(id)),
		logger.Error(err),
	)
	return Result{Allowed: true, FailOpen: true}
}

func (l *Limiter) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.locks[h.Sum32()%lockStripes]
}

func windowKey(scope, id string, w Window) string {
	if scope == scopeGlobal {
		return "ratelimit:global:" + w.Name
	}
	return "ratelimit:user:" + id + ":" + w.Name
}

func violationKey(scope, id string) string {
	if scope == scopeGlobal {
		return "ratelimit:violations:global"
	}
	return "ratelimit:violations:user:" + id
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
