package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueue(t *testing.T, cfg queue.Config, opts ...queue.Option) (*queue.Queue, *clock) {
	t.Helper()
	clk := newClock()
	st := store.NewMemoryStore(store.WithClock(clk.Now))
	t.Cleanup(func() { _ = st.Close() })
	opts = append([]queue.Option{queue.WithClock(clk.Now)}, opts...)
	return queue.New(st, cfg, opts...), clk
}

func item(user string, typ notification.Type, p notification.Priority, title string) queue.Item {
	return queue.Item{
		UserID:   user,
		Priority: p,
		Payload: notification.Payload{
			Title: title,
			Body:  "body",
			Data:  notification.Data{Type: typ, EntityID: title},
		},
	}
}

var errStoreDown = errors.New("store down")

// flakyStore fails the next ZAdd or IncrBy calls as many times as armed.
type flakyStore struct {
	*store.MemoryStore
	zadd atomic.Int32
	incr atomic.Int32
}

func (s *flakyStore) ZAdd(ctx context.Context, key string, members ...store.Z) error {
	if s.zadd.Add(-1) >= 0 {
		return errStoreDown
	}
	return s.MemoryStore.ZAdd(ctx, key, members...)
}

func (s *flakyStore) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	if s.incr.Add(-1) >= 0 {
		return 0, errStoreDown
	}
	return s.MemoryStore.IncrBy(ctx, key, n, ttl)
}

func TestEnqueue_Validation(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, item("", notification.TypeTaskDue, notification.PriorityNormal, "t"))
	assert.ErrorIs(t, err, queue.ErrInvalidItem)

	_, err = q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.Priority(9), "t"))
	assert.ErrorIs(t, err, queue.ErrInvalidItem)

	_, err = q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, ""))
	assert.ErrorIs(t, err, queue.ErrInvalidItem)
	assert.ErrorIs(t, err, notification.ErrInvalidPayload)
}

func TestEnqueue_DeduplicatesWithinWindow(t *testing.T) {
	t.Parallel()

	q, clk := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	it := item("u1", notification.TypeTaskDue, notification.PriorityNormal, "Pay rent")
	it.DedupKey = "task:42"

	first, err := q.Enqueue(ctx, it)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	second, err := q.Enqueue(ctx, it)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	// A hit slides the window, so wait a full window past the second call.
	clk.Advance(6 * time.Minute)
	third, err := q.Enqueue(ctx, it)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 1, stats.Deduplicated)
}

func TestEnqueue_QueueFull(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.MaxSize = 2
	q, _ := newQueue(t, cfg)
	ctx := context.Background()

	for i := range 2 {
		_, err := q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, fmt.Sprint(i)))
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, "overflow"))
	assert.ErrorIs(t, err, queue.ErrQueueFull)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 1, stats.Rejected)
}

func TestEnqueue_FailureReleasesDedupClaim(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		arm  func(s *flakyStore)
	}{
		{name: "queue insert fails", arm: func(s *flakyStore) { s.zadd.Store(1) }},
		{name: "size update fails after insert", arm: func(s *flakyStore) { s.incr.Store(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clk := newClock()
			st := &flakyStore{MemoryStore: store.NewMemoryStore(store.WithClock(clk.Now))}
			t.Cleanup(func() { _ = st.Close() })
			q := queue.New(st, queue.DefaultConfig(), queue.WithClock(clk.Now))
			ctx := context.Background()

			it := item("u1", notification.TypeTaskDue, notification.PriorityNormal, "Pay rent")
			it.DedupKey = "task:42"

			tt.arm(st)
			_, err := q.Enqueue(ctx, it)
			require.ErrorIs(t, err, errStoreDown)

			depth, err := q.Depth(ctx)
			require.NoError(t, err)
			assert.Zero(t, depth)

			id, err := q.Enqueue(ctx, it)
			require.NoError(t, err)

			depth, err = q.Depth(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 1, depth, "retry must store the item, not match a stale dedup claim")

			batches, err := q.DequeueBatch(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, batches, 1)
			require.Len(t, batches[0].Items, 1)
			assert.Equal(t, id, batches[0].Items[0].ID)

			stats, err := q.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.Deduplicated)
		})
	}
}

func TestEnqueue_Routing(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.UserQueueLimit = 2
	q, _ := newQueue(t, cfg)
	ctx := context.Background()

	for i := range 3 {
		_, err := q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, fmt.Sprint(i)))
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, item("u1", notification.TypeSystemAlert, notification.PriorityCritical, "down"))
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Total)
	assert.EqualValues(t, 2, stats.Queues[queue.UserQueue("u1")])
	assert.EqualValues(t, 1, stats.Queues[queue.GlobalQueue])
	assert.EqualValues(t, 1, stats.Queues[queue.CriticalQueue])
}

func TestDequeueBatch_NothingDue(t *testing.T) {
	t.Parallel()

	q, clk := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, batches)

	it := item("u1", notification.TypeTaskDue, notification.PriorityNormal, "later")
	it.ScheduledFor = clk.Now().Add(10 * time.Minute)
	_, err = q.Enqueue(ctx, it)
	require.NoError(t, err)

	batches, err = q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, batches)

	clk.Advance(10 * time.Minute)
	batches, err = q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "later", batches[0].Items[0].Payload.Title)
}

func TestDequeueBatch_DueItemsBehindFutureHigherTier(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.UserQueueLimit = 1
	q, clk := newQueue(t, cfg)
	ctx := context.Background()

	for i := range 101 {
		it := item("u1", notification.TypeTaskDue, notification.PriorityHigh, fmt.Sprint("later-", i))
		it.ScheduledFor = clk.Now().Add(time.Hour)
		_, err := q.Enqueue(ctx, it)
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, item("u1", notification.TypeProjectUpdate, notification.PriorityNormal, "now"))
	require.NoError(t, err)

	for _, userID := range []string{"", "u1"} {
		batches, err := q.DequeueBatch(ctx, userID)
		require.NoError(t, err)
		if userID == "" {
			require.Len(t, batches, 1)
			require.Len(t, batches[0].Items, 1)
			assert.Equal(t, "now", batches[0].Items[0].Payload.Title)
			continue
		}
		assert.Nil(t, batches, "future items stay queued")
	}

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 101, depth)
}

func TestDequeueBatch_UserDrainSkipsOtherUsers(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.UserQueueLimit = 1
	q, _ := newQueue(t, cfg)
	ctx := context.Background()

	// u2's overflow fills the global queue ahead of u1's lower-tier item.
	for i := range 151 {
		_, err := q.Enqueue(ctx, item("u2", notification.TypeTaskDue, notification.PriorityNormal, fmt.Sprint("u2-", i)))
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, "first"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, item("u1", notification.TypeProjectUpdate, notification.PriorityLow, "overflow"))
	require.NoError(t, err)

	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)

	var titles []string
	for _, b := range batches {
		assert.Equal(t, "u1", b.UserID)
		for _, it := range b.Items {
			titles = append(titles, it.Payload.Title)
		}
	}
	assert.ElementsMatch(t, []string{"first", "overflow"}, titles)
}

func TestDequeueBatch_MergesBatchableGroup(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	for _, title := range []string{"Report", "Invoice", "Slides"} {
		it := item("u1", notification.TypeTaskDeadline, notification.PriorityNormal, title)
		it.Batchable = true
		_, err := q.Enqueue(ctx, it)
		require.NoError(t, err)
	}

	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.True(t, b.Merged)
	assert.Equal(t, 3, b.Size())
	require.Len(t, b.Items, 1)

	merged := b.Items[0]
	assert.True(t, merged.Synthesized())
	assert.Equal(t, "3 Task Deadlines Approaching", merged.Payload.Title)
	assert.Contains(t, merged.Payload.Body, "Report")
	assert.Equal(t, "3", merged.Payload.Data.Extra["batch_size"])
	assert.Equal(t, "batch-task_deadline-u1", merged.Payload.Tag)
	assert.ElementsMatch(t, b.SourceIDs, merged.SourceIDs)
}

func TestDequeueBatch_MergedBodyTruncates(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	for i := range 5 {
		it := item("u1", notification.TypeHabitReminder, notification.PriorityLow, fmt.Sprintf("habit %d", i))
		it.Batchable = true
		_, err := q.Enqueue(ctx, it)
		require.NoError(t, err)
	}

	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "5 Habit Reminders", batches[0].Items[0].Payload.Title)
	assert.Contains(t, batches[0].Items[0].Payload.Body, "and 2 more")
}

func TestDequeueBatch_NeverMergesCritical(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	for i := range 3 {
		it := item("u1", notification.TypeSystemAlert, notification.PriorityCritical, fmt.Sprint("alert ", i))
		it.Batchable = true
		_, err := q.Enqueue(ctx, it)
		require.NoError(t, err)
	}

	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.False(t, batches[0].Merged)
	assert.Len(t, batches[0].Items, 3)
}

func TestDequeueBatch_DoesNotMergeMixedBatchable(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	for i, batchable := range []bool{true, false, true} {
		it := item("u1", notification.TypeNoteShared, notification.PriorityNormal, fmt.Sprint("note ", i))
		it.Batchable = batchable
		_, err := q.Enqueue(ctx, it)
		require.NoError(t, err)
	}

	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.False(t, batches[0].Merged)
	assert.Len(t, batches[0].Items, 3)
}

func TestDequeueBatch_PriorityOrder(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, item("u1", notification.TypeWeeklyReport, notification.PriorityLow, "low"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityHigh, "high"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, item("u1", notification.TypeNoteShared, notification.PriorityNormal, "normal"))
	require.NoError(t, err)

	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 3)

	var order []string
	for _, b := range batches {
		order = append(order, b.Items[0].Payload.Title)
	}
	assert.Equal(t, []string{"high", "normal", "low"}, order)
}

func TestDequeueBatch_ConcurrentClaimsAreExclusive(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	const total = 60
	for i := range total {
		_, err := q.Enqueue(ctx, item(fmt.Sprint("u", i%3), notification.TypeTaskDue, notification.PriorityNormal, fmt.Sprint(i)))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batches, err := q.DequeueBatch(ctx, "")
				if err != nil || batches == nil {
					return
				}
				mu.Lock()
				for _, b := range batches {
					for _, it := range b.Items {
						seen[it.ID]++
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s claimed more than once", id)
	}
}

func TestBatchSize_Adaptive(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.BatchSize = 10
	cfg.HighDepth = 2
	cfg.VeryHighDepth = 4
	q, _ := newQueue(t, cfg)
	ctx := context.Background()

	assert.Equal(t, 10, q.BatchSize(ctx))

	for i := range 3 {
		_, err := q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, fmt.Sprint(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 20, q.BatchSize(ctx))

	for i := range 2 {
		_, err := q.Enqueue(ctx, item("u2", notification.TypeTaskDue, notification.PriorityNormal, fmt.Sprint(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 30, q.BatchSize(ctx))
}

func TestBatchSize_MemoryPressure(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.BatchSize = 20
	cfg.MinBatchSize = 15
	cfg.MemoryThreshold = 100
	q, _ := newQueue(t, cfg, queue.WithMemoryUsage(func() uint64 { return 200 }))

	assert.Equal(t, 15, q.BatchSize(context.Background()))
}

func TestRequeue_DeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.MaxAttempts = 2
	q, clk := newQueue(t, cfg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, "flaky"))
	require.NoError(t, err)

	cause := errors.New("gateway unavailable")
	for attempt := 1; attempt <= 3; attempt++ {
		batches, err := q.DequeueBatch(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, batches, 1, "attempt %d", attempt)

		err = q.Requeue(ctx, batches[0].Items[0], clk.Now(), cause)
		if attempt <= 2 {
			require.NoError(t, err)
			continue
		}
		assert.ErrorIs(t, err, queue.ErrMaxAttempts)
	}

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, cause.Error(), dead[0].LastError)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.InFlight)
	assert.EqualValues(t, 1, stats.DeadLetters)
}

func TestRequeue_DelaysRedelivery(t *testing.T) {
	t.Parallel()

	q, clk := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, "retry"))
	require.NoError(t, err)
	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)

	// A deferral does not count as an attempt.
	require.NoError(t, q.Requeue(ctx, batches[0].Items[0], clk.Now().Add(time.Minute), nil))

	batches, err = q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, batches)

	clk.Advance(time.Minute)
	batches, err = q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Zero(t, batches[0].Items[0].Attempts)

	require.NoError(t, q.Requeue(ctx, batches[0].Items[0], clk.Now(), errors.New("503")))
	batches, err = q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Items[0].Attempts)
	assert.Equal(t, "503", batches[0].Items[0].LastError)
}

func TestAckAndRecover(t *testing.T) {
	t.Parallel()

	q, clk := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	id, err := q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, "crash"))
	require.NoError(t, err)
	_, err = q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.EqualValues(t, 1, stats.InFlight)

	n, err := q.Recover(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(2 * time.Minute)
	n, err = q.Recover(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, id, batches[0].Items[0].ID)

	require.NoError(t, q.Ack(ctx, id))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.InFlight)
	assert.Zero(t, stats.Total)
}

func TestEnqueue_PublishesTrigger(t *testing.T) {
	t.Parallel()

	cfg := queue.DefaultConfig()
	cfg.BatchSize = 2
	q, _ := newQueue(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := q.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	_, err = q.Enqueue(ctx, item("u1", notification.TypeSystemAlert, notification.PriorityCritical, "down"))
	require.NoError(t, err)
	select {
	case name := <-sub.Messages():
		assert.Equal(t, queue.CriticalQueue, name)
	case <-time.After(time.Second):
		t.Fatal("no trigger for critical item")
	}

	_, err = q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, "a"))
	require.NoError(t, err)
	select {
	case <-sub.Messages():
		t.Fatal("triggered below batch size")
	default:
	}

	_, err = q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, "b"))
	require.NoError(t, err)
	select {
	case name := <-sub.Messages():
		assert.Equal(t, queue.UserQueue("u1"), name)
	case <-time.After(time.Second):
		t.Fatal("no trigger at batch size")
	}
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, queue.DefaultConfig())
	ctx := context.Background()

	for i := range 3 {
		_, err := q.Enqueue(ctx, item("u1", notification.TypeTaskDue, notification.PriorityNormal, fmt.Sprint(i)))
		require.NoError(t, err)
	}
	assert.Zero(t, q.Cleanup(ctx, false))
	assert.Equal(t, 3, q.Cleanup(ctx, true))

	// Items are reloaded from the store after the cache is dropped.
	batches, err := q.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Items, 3)
}
