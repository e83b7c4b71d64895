package store

import (
	"context"
	"time"
)

// Z is a sorted-set member with its score.
type Z struct {
	Member string
	Score  float64
}

// WindowState describes a sliding window after entries older than the
// window have been purged.
type WindowState struct {
	Count  int64
	Oldest time.Time
}

// KV covers plain keys and atomic counters.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value. A zero ttl keeps the key until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// IncrBy atomically adds n to an integer key and, when ttl > 0, resets
	// its expiry.
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
}

// Hash covers integer counters grouped under one key.
type Hash interface {
	// HIncrBy atomically applies every field increment and, when ttl > 0,
	// resets the key expiry.
	HIncrBy(ctx context.Context, key string, fields map[string]int64, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// SortedSet covers score-ordered members.
type SortedSet interface {
	ZAdd(ctx context.Context, key string, members ...Z) error
	// ZRem removes members and returns how many were present.
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRevRange returns members by descending score; stop -1 means the end.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]Z, error)
	// ZRangeByScore returns members with min <= score <= max by ascending
	// score. A limit <= 0 returns all of them.
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]Z, error)
	// ZRevRangeByScore returns members with min <= score <= max by
	// descending score, skipping the first offset. A limit <= 0 returns
	// the rest.
	ZRevRangeByScore(ctx context.Context, key string, max, min float64, offset, limit int64) ([]Z, error)
}

// SlidingWindow stores timestamped events per key.
type SlidingWindow interface {
	// CountWindow purges entries older than window and returns what remains.
	CountWindow(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error)
	// RecordWindow adds an event at now and keeps the key alive for window.
	RecordWindow(ctx context.Context, key string, now time.Time, window time.Duration) error
}

// Subscription delivers published messages until closed.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// PubSub signals between producers and background workers. Publishing never
// blocks on slow subscribers; undeliverable messages are dropped.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Store is the full backing-store contract.
type Store interface {
	KV
	Hash
	SortedSet
	SlidingWindow
	PubSub

	// Sweep physically removes expired keys and returns how many it dropped.
	Sweep(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

func windowScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func scoreTime(score float64) time.Time {
	return time.UnixMilli(int64(score))
}
