package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/cache"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/store"
)

const (
	keyItemPfx  = "queue:item:"
	keyQueuePfx = "queue:q:"
	keyDedupPfx = "queue:dedup:"
	keySincePfx = "queue:since:"
	keyRegistry = "queue:registry"
	keyInFlight = "queue:inflight"
	keyDead     = "queue:dead"
	keySize     = "queue:size"
)

// Store is the subset of the backing store the queue needs.
type Store interface {
	store.KV
	store.SortedSet
	store.PubSub
}

// Queue is a priority queue of notifications backed by a Store.
type Queue struct {
	store    Store
	cfg      Config
	cache    *cache.LRU[string, Item]
	now      func() time.Time
	memUsage func() uint64
	logger   *slog.Logger

	enqueued     atomic.Uint64
	deduplicated atomic.Uint64
	dequeued     atomic.Uint64
	merged       atomic.Uint64
	rejected     atomic.Uint64
	deadLettered atomic.Uint64
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithMemoryUsage supplies the current process memory in bytes, compared
// against Config.MemoryThreshold when sizing batches.
func WithMemoryUsage(fn func() uint64) Option {
	return func(q *Queue) { q.memUsage = fn }
}

// New creates a queue over st. It panics if st is nil.
func New(st Store, cfg Config, opts ...Option) *Queue {
	if st == nil {
		panic(ErrStoreRequired)
	}
	cfg = cfg.withDefaults()
	q := &Queue{
		store:  st,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cache = cache.New[string, Item](cfg.ItemCacheSize, cfg.ItemCacheTTL, cache.WithClock(q.now))
	return q
}

// Enqueue stores item and returns its id. Items with a DedupKey seen within
// the dedup window return the id of the first item instead. Missing ID,
// CreatedAt and ScheduledFor are filled in.
func (q *Queue) Enqueue(ctx context.Context, item Item) (string, error) {
	if err := item.validate(); err != nil {
		return "", err
	}

	now := q.now()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = now
	}

	dedupKey := ""
	if item.DedupKey != "" {
		dedupKey = keyDedupPfx + item.DedupKey
		existing, dup, err := q.claimDedup(ctx, dedupKey, item.ID)
		if err != nil {
			return "", fmt.Errorf("queue: dedup: %w", err)
		}
		if dup {
			q.deduplicated.Add(1)
			return existing, nil
		}
	}

	// Until the item is stored, a failure must release the dedup claim or
	// a retry would be reported as a duplicate of nothing.
	var inserting, committed bool
	defer func() {
		if !committed {
			q.abandon(ctx, item.ID, dedupKey, inserting)
		}
	}()

	depth, err := q.Depth(ctx)
	if err != nil {
		return "", fmt.Errorf("queue: depth: %w", err)
	}
	if depth >= q.cfg.MaxSize {
		q.rejected.Add(1)
		return "", ErrQueueFull
	}

	name, err := q.destination(ctx, item)
	if err != nil {
		return "", err
	}
	item.Queue = name
	inserting = true
	if err := q.insert(ctx, item, now); err != nil {
		return "", err
	}
	committed = true
	q.enqueued.Add(1)

	q.logger.LogAttrs(ctx, slog.LevelDebug, "notification enqueued",
		logger.Component("queue"),
		logger.NotificationID(item.ID),
		logger.UserID(item.UserID),
		logger.Priority(item.Priority),
		logger.Queue(name),
	)
	q.maybeTrigger(ctx, name, item.Priority, now)
	return item.ID, nil
}

// Requeue puts a dequeued item back with a new ScheduledFor. A non-nil
// cause counts as a failed attempt; a nil cause is a plain deferral. Past
// MaxAttempts the item goes to the dead-letter set and ErrMaxAttempts is
// returned.
func (q *Queue) Requeue(ctx context.Context, item Item, at time.Time, cause error) error {
	now := q.now()
	if cause != nil {
		item.Attempts++
		item.LastError = cause.Error()
	}
	if item.Attempts > q.cfg.MaxAttempts {
		if err := q.deadLetter(ctx, item, now); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s after %d attempts", ErrMaxAttempts, item.ID, item.Attempts-1)
	}

	item.ScheduledFor = at
	name, err := q.destination(ctx, item)
	if err != nil {
		return err
	}
	item.Queue = name
	if err := q.insert(ctx, item, now); err != nil {
		return err
	}
	if _, err := q.store.ZRem(ctx, keyInFlight, item.ID); err != nil {
		return err
	}
	return nil
}

// Ack confirms delivery of in-flight items and deletes them.
func (q *Queue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := q.store.ZRem(ctx, keyInFlight, ids...); err != nil {
		return err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyItemPfx + id
	}
	q.cache.Remove(ids...)
	return q.store.Delete(ctx, keys...)
}

// Recover returns items that have been in flight longer than olderThan to
// their queues. Use it at startup; recovered items may be delivered twice.
func (q *Queue) Recover(ctx context.Context, olderThan time.Duration) (int, error) {
	now := q.now()
	stale, err := q.store.ZRangeByScore(ctx, keyInFlight, math.Inf(-1), float64(now.Add(-olderThan).UnixMilli()), 0)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, z := range stale {
		item, err := q.load(ctx, z.Member)
		if errors.Is(err, store.ErrNotFound) {
			_, _ = q.store.ZRem(ctx, keyInFlight, z.Member)
			continue
		}
		if err != nil {
			return recovered, err
		}
		if err := q.insert(ctx, item, now); err != nil {
			return recovered, err
		}
		if _, err := q.store.ZRem(ctx, keyInFlight, item.ID); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		q.logger.LogAttrs(ctx, slog.LevelWarn, "recovered in-flight notifications",
			logger.Component("queue"),
			logger.Count(recovered),
		)
	}
	return recovered, nil
}

// Depth returns the number of pending items across all queues.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	v, err := q.store.Get(ctx, keySize)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return max(n, 0), nil
}

// BatchSize returns the adaptive batch size: the base size doubled above
// HighDepth, tripled above VeryHighDepth and halved (not below
// MinBatchSize) under memory pressure.
func (q *Queue) BatchSize(ctx context.Context) int {
	depth, err := q.Depth(ctx)
	if err != nil {
		depth = 0
	}
	size := q.cfg.BatchSize
	switch {
	case depth > q.cfg.VeryHighDepth:
		size *= 3
	case depth > q.cfg.HighDepth:
		size *= 2
	}
	if q.cfg.MemoryThreshold > 0 && q.memUsage != nil && q.memUsage() > q.cfg.MemoryThreshold {
		size = max(size/2, q.cfg.MinBatchSize)
	}
	return size
}

// Stats recounts every queue and resynchronises the depth counter.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	names, err := q.queueNames(ctx, "")
	if err != nil {
		return Stats{}, err
	}

	now := q.now()
	st := Stats{Queues: make(map[string]int64, len(names))}
	for _, name := range names {
		n, err := q.store.ZCard(ctx, keyQueuePfx+name)
		if err != nil {
			return Stats{}, err
		}
		if n == 0 {
			continue
		}
		st.Queues[name] = n
		st.Total += n
		if since, err := q.since(ctx, name); err == nil && !since.IsZero() {
			st.OldestPending = max(st.OldestPending, now.Sub(since))
		}
	}
	if err := q.store.Set(ctx, keySize, strconv.FormatInt(st.Total, 10), 0); err != nil {
		return Stats{}, err
	}
	if st.InFlight, err = q.store.ZCard(ctx, keyInFlight); err != nil {
		return Stats{}, err
	}
	if st.DeadLetters, err = q.store.ZCard(ctx, keyDead); err != nil {
		return Stats{}, err
	}

	st.BatchSize = q.BatchSize(ctx)
	st.Enqueued = q.enqueued.Load()
	st.Deduplicated = q.deduplicated.Load()
	st.Dequeued = q.dequeued.Load()
	st.Merged = q.merged.Load()
	st.Rejected = q.rejected.Load()
	st.DeadLettered = q.deadLettered.Load()
	return st, nil
}

// DeadLetters lists up to limit items that exhausted their attempts, most
// recent first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Item, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	zs, err := q.store.ZRevRange(ctx, keyDead, 0, stop)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(zs))
	for _, z := range zs {
		item, err := q.load(ctx, z.Member)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Subscribe returns the trigger subscription used by batch processors.
func (q *Queue) Subscribe(ctx context.Context) (store.Subscription, error) {
	return q.store.Subscribe(ctx, TriggerChannel)
}

// Cleanup drops expired item cache entries, or the whole cache when
// aggressive. It returns the number of entries dropped.
func (q *Queue) Cleanup(_ context.Context, aggressive bool) int {
	if aggressive {
		return q.cache.Clear()
	}
	return q.cache.Sweep()
}

func (q *Queue) claimDedup(ctx context.Context, key, id string) (string, bool, error) {
	for range 2 {
		ok, err := q.store.SetNX(ctx, key, id, q.cfg.DedupWindow)
		if err != nil {
			return "", false, err
		}
		if ok {
			return id, false, nil
		}
		existing, err := q.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", false, err
		}
		if err := q.store.Expire(ctx, key, q.cfg.DedupWindow); err != nil {
			return "", false, err
		}
		return existing, true, nil
	}
	return id, false, nil
}

func (q *Queue) destination(ctx context.Context, item Item) (string, error) {
	if item.Priority == notification.PriorityCritical {
		return CriticalQueue, nil
	}
	name := UserQueue(item.UserID)
	n, err := q.store.ZCard(ctx, keyQueuePfx+name)
	if err != nil {
		return "", err
	}
	if n >= q.cfg.UserQueueLimit {
		return GlobalQueue, nil
	}
	return name, nil
}

func (q *Queue) insert(ctx context.Context, item Item, now time.Time) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("queue: encode item: %w", err)
	}
	if err := q.store.Set(ctx, keyItemPfx+item.ID, string(data), 0); err != nil {
		return err
	}
	key := keyQueuePfx + item.Queue
	if err := q.store.ZAdd(ctx, key, store.Z{Member: item.ID, Score: Score(item.Priority, item.ScheduledFor)}); err != nil {
		return err
	}
	// Past this point a failure takes the member back out so the item is
	// either fully queued or not queued at all.
	err = q.register(ctx, item.Queue, now)
	if err == nil {
		_, err = q.store.IncrBy(ctx, keySize, 1, 0)
	}
	if err != nil {
		_, _ = q.store.ZRem(context.WithoutCancel(ctx), key, item.ID)
		return err
	}
	q.cache.Put(item.ID, item)
	return nil
}

func (q *Queue) register(ctx context.Context, name string, now time.Time) error {
	if err := q.store.ZAdd(ctx, keyRegistry, store.Z{Member: name, Score: float64(now.UnixMilli())}); err != nil {
		return err
	}
	_, err := q.store.SetNX(ctx, keySincePfx+name, strconv.FormatInt(now.UnixMilli(), 10), 0)
	return err
}

// abandon removes what a failed Enqueue left behind: its dedup claim and,
// once insert was attempted, the partly written item.
func (q *Queue) abandon(ctx context.Context, id, dedupKey string, written bool) {
	ctx = context.WithoutCancel(ctx)
	var keys []string
	if dedupKey != "" {
		keys = append(keys, dedupKey)
	}
	if written {
		keys = append(keys, keyItemPfx+id)
		q.cache.Remove(id)
	}
	if len(keys) == 0 {
		return
	}
	if err := q.store.Delete(ctx, keys...); err != nil {
		q.logger.LogAttrs(ctx, slog.LevelWarn, "failed to release abandoned notification",
			logger.Component("queue"),
			logger.NotificationID(id),
			logger.Error(err),
		)
	}
}

func (q *Queue) deadLetter(ctx context.Context, item Item, now time.Time) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("queue: encode item: %w", err)
	}
	if err := q.store.Set(ctx, keyItemPfx+item.ID, string(data), 0); err != nil {
		return err
	}
	if err := q.store.ZAdd(ctx, keyDead, store.Z{Member: item.ID, Score: float64(now.UnixMilli())}); err != nil {
		return err
	}
	if _, err := q.store.ZRem(ctx, keyInFlight, item.ID); err != nil {
		return err
	}
	q.cache.Remove(item.ID)
	q.deadLettered.Add(1)

	q.logger.LogAttrs(ctx, slog.LevelError, "notification moved to dead letters",
		logger.Component("queue"),
		logger.NotificationID(item.ID),
		logger.UserID(item.UserID),
		logger.RetryCount(item.Attempts-1),
		slog.String("last_error", item.LastError),
	)
	return nil
}

func (q *Queue) load(ctx context.Context, id string) (Item, error) {
	if item, ok := q.cache.Get(id); ok {
		return item, nil
	}
	data, err := q.store.Get(ctx, keyItemPfx+id)
	if err != nil {
		return Item{}, err
	}
	var item Item
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return Item{}, fmt.Errorf("queue: decode item %s: %w", id, err)
	}
	q.cache.Put(id, item)
	return item, nil
}

func (q *Queue) maybeTrigger(ctx context.Context, name string, p notification.Priority, now time.Time) {
	trigger := p == notification.PriorityCritical
	if !trigger {
		if n, err := q.store.ZCard(ctx, keyQueuePfx+name); err == nil && n >= int64(q.BatchSize(ctx)) {
			trigger = true
		}
	}
	if !trigger {
		if since, err := q.since(ctx, name); err == nil && !since.IsZero() && now.Sub(since) >= q.cfg.MaxWait {
			trigger = true
		}
	}
	if !trigger {
		return
	}
	if err := q.store.Publish(ctx, TriggerChannel, name); err != nil {
		q.logger.LogAttrs(ctx, slog.LevelWarn, "failed to publish batch trigger",
			logger.Component("queue"),
			logger.Queue(name),
			logger.Error(err),
		)
	}
}

func (q *Queue) since(ctx context.Context, name string) (time.Time, error) {
	v, err := q.store.Get(ctx, keySincePfx+name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// queueNames returns queues in scan order: critical, the user queue (or
// every registered user queue when userID is empty), then global.
func (q *Queue) queueNames(ctx context.Context, userID string) ([]string, error) {
	if userID != "" {
		return []string{CriticalQueue, UserQueue(userID), GlobalQueue}, nil
	}
	registered, err := q.store.ZRangeByScore(ctx, keyRegistry, math.Inf(-1), math.Inf(1), 0)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(registered)+2)
	names = append(names, CriticalQueue)
	for _, z := range registered {
		if strings.HasPrefix(z.Member, userQueuePfx) {
			names = append(names, z.Member)
		}
	}
	return append(names, GlobalQueue), nil
}
