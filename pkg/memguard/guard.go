// Package memguard watches process heap usage and asks registered caches to
// shrink when it crosses configured thresholds.
package memguard

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Cleaner releases cached data. A light pass drops expired entries, an
// aggressive one drops everything. It returns how many entries it dropped.
type Cleaner interface {
	Cleanup(ctx context.Context, aggressive bool) int
}

// CleanerFunc adapts a function to Cleaner.
type CleanerFunc func(ctx context.Context, aggressive bool) int

func (f CleanerFunc) Cleanup(ctx context.Context, aggressive bool) int { return f(ctx, aggressive) }

// Action is what a Check did.
type Action string

const (
	ActionNone       Action = "none"
	ActionLight      Action = "light"
	ActionAggressive Action = "aggressive"
	ActionEmergency  Action = "emergency"
)

// Guard monitors heap usage. Create it with New.
type Guard struct {
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	heap    func() uint64
	collect func(aggressive bool)

	mu       sync.Mutex
	cleaners map[string]Cleaner

	emergency   atomic.Bool
	cleanups    atomic.Uint64
	freed       atomic.Uint64
	lastCleanup atomic.Int64

	procOnce sync.Once
	proc     processHandle
	procErr  error
}

type Option func(*Guard)

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithHeapReader replaces the runtime heap reading.
func WithHeapReader(fn func() uint64) Option {
	return func(g *Guard) {
		if fn != nil {
			g.heap = fn
		}
	}
}

// WithCollector replaces the garbage collection step run after cleaners.
func WithCollector(fn func(aggressive bool)) Option {
	return func(g *Guard) {
		if fn != nil {
			g.collect = fn
		}
	}
}

func New(cfg Config, opts ...Option) *Guard {
	g := &Guard{
		cfg:      cfg.withDefaults(),
		logger:   logger.Discard(),
		now:      time.Now,
		heap:     readHeapAlloc,
		collect:  collectGarbage,
		cleaners: make(map[string]Cleaner),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register adds a cleaner under name, replacing any previous one.
func (g *Guard) Register(name string, c Cleaner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleaners[name] = c
}

// HeapAlloc returns the bytes of allocated heap objects.
func (g *Guard) HeapAlloc() uint64 { return g.heap() }

// IsHealthy reports whether heap usage is below the cleanup threshold.
func (g *Guard) IsHealthy() bool { return g.heap() < g.cfg.Cleanup }

// Check reads heap usage once and reacts to it.
func (g *Guard) Check(ctx context.Context) Action {
	heap := g.heap()
	switch {
	case heap >= g.cfg.Critical:
		g.EmergencyCleanup(ctx)
		return ActionEmergency
	case heap >= g.cfg.Cleanup:
		g.cleanup(ctx, heap, true)
		return ActionAggressive
	case heap >= g.cfg.Warning:
		g.cleanup(ctx, heap, false)
		return ActionLight
	default:
		return ActionNone
	}
}

// EmergencyCleanup runs an aggressive pass unless one is already running,
// in which case it returns false immediately.
func (g *Guard) EmergencyCleanup(ctx context.Context) bool {
	if !g.emergency.CompareAndSwap(false, true) {
		return false
	}
	defer g.emergency.Store(false)

	heap := g.heap()
	g.logger.LogAttrs(ctx, slog.LevelError, "memory critical, running emergency cleanup",
		logger.Component("memguard"),
		logger.Bytes("heap", heap),
		logger.Bytes("threshold", g.cfg.Critical),
	)
	g.cleanup(ctx, heap, true)
	return true
}

// Run checks heap usage every Interval until ctx is done.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}

func (g *Guard) cleanup(ctx context.Context, before uint64, aggressive bool) {
	g.mu.Lock()
	cleaners := make(map[string]Cleaner, len(g.cleaners))
	for name, c := range g.cleaners {
		cleaners[name] = c
	}
	g.mu.Unlock()

	dropped := 0
	for _, c := range cleaners {
		dropped += c.Cleanup(ctx, aggressive)
	}
	g.collect(aggressive)

	after := g.heap()
	var freed uint64
	if after < before {
		freed = before - after
	}
	g.cleanups.Add(1)
	g.freed.Add(freed)
	g.lastCleanup.Store(g.now().UnixNano())

	level := slog.LevelInfo
	msg := "light memory cleanup"
	if aggressive {
		level = slog.LevelWarn
		msg = "aggressive memory cleanup"
	}
	g.logger.LogAttrs(ctx, level, msg,
		logger.Component("memguard"),
		logger.Count(dropped),
		logger.Bytes("before", before),
		logger.Bytes("after", after),
		logger.Bytes("freed", freed),
	)
}

func readHeapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

func collectGarbage(aggressive bool) {
	if aggressive {
		debug.FreeOSMemory()
		return
	}
	runtime.GC()
}
