package memguard_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/memguard"
)

const mib = 1 << 20

type fakeHeap struct{ v atomic.Uint64 }

func (h *fakeHeap) read() uint64 { return h.v.Load() }

type recordingCleaner struct {
	mu    sync.Mutex
	calls []bool
}

func (c *recordingCleaner) Cleanup(_ context.Context, aggressive bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, aggressive)
	return 1
}

func (c *recordingCleaner) Calls() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.calls...)
}

func testConfig() memguard.Config {
	return memguard.Config{
		Interval: 10 * time.Millisecond,
		Warning:  100 * mib,
		Cleanup:  200 * mib,
		Critical: 400 * mib,
	}
}

func newGuard(heap *fakeHeap, gc *[]bool) *memguard.Guard {
	var mu sync.Mutex
	return memguard.New(testConfig(),
		memguard.WithHeapReader(heap.read),
		memguard.WithCollector(func(aggressive bool) {
			mu.Lock()
			defer mu.Unlock()
			*gc = append(*gc, aggressive)
			// Collection frees a quarter of the heap.
			heap.v.Store(heap.v.Load() / 4 * 3)
		}),
	)
}

func TestCheck_Thresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		heap    uint64
		action  memguard.Action
		cleaner []bool
		gc      []bool
	}{
		{"below warning", 50 * mib, memguard.ActionNone, nil, nil},
		{"warning", 150 * mib, memguard.ActionLight, []bool{false}, []bool{false}},
		{"cleanup", 250 * mib, memguard.ActionAggressive, []bool{true}, []bool{true}},
		{"critical", 500 * mib, memguard.ActionEmergency, []bool{true}, []bool{true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			heap := &fakeHeap{}
			heap.v.Store(tt.heap)
			var gc []bool
			g := newGuard(heap, &gc)
			c := &recordingCleaner{}
			g.Register("cache", c)

			assert.Equal(t, tt.action, g.Check(context.Background()))
			assert.Equal(t, tt.cleaner, c.Calls())
			assert.Equal(t, tt.gc, gc)
		})
	}
}

func TestReport(t *testing.T) {
	t.Parallel()

	heap := &fakeHeap{}
	var gc []bool
	g := newGuard(heap, &gc)

	heap.v.Store(10 * mib)
	r := g.Report()
	assert.Equal(t, memguard.StatusHealthy, r.Status)
	assert.True(t, g.IsHealthy())
	assert.Equal(t, "10.0 MiB", r.HeapHuman)
	assert.Zero(t, r.Cleanups)

	heap.v.Store(250 * mib)
	assert.False(t, g.IsHealthy())
	assert.Equal(t, memguard.StatusWarning, g.Report().Status)

	heap.v.Store(800 * mib)
	r = g.Report()
	assert.Equal(t, memguard.StatusCritical, r.Status)
	assert.NotEmpty(t, r.Recommendation)

	g.Check(context.Background())
	r = g.Report()
	assert.EqualValues(t, 1, r.Cleanups)
	assert.EqualValues(t, 200*mib, r.FreedBytes)
	assert.False(t, r.LastCleanup.IsZero())
}

func TestEmergencyCleanup_Idempotent(t *testing.T) {
	t.Parallel()

	heap := &fakeHeap{}
	heap.v.Store(500 * mib)

	started := make(chan struct{})
	release := make(chan struct{})
	g := memguard.New(testConfig(),
		memguard.WithHeapReader(heap.read),
		memguard.WithCollector(func(bool) {}),
	)
	var calls atomic.Int32
	g.Register("slow", memguard.CleanerFunc(func(context.Context, bool) int {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return 0
	}))

	ctx := context.Background()
	first := make(chan bool, 1)
	go func() { first <- g.EmergencyCleanup(ctx) }()

	<-started
	assert.False(t, g.EmergencyCleanup(ctx), "second call while running")
	close(release)
	assert.True(t, <-first)
	assert.EqualValues(t, 1, calls.Load())

	assert.True(t, g.EmergencyCleanup(ctx), "runs again once finished")
	assert.EqualValues(t, 2, calls.Load())
}

func TestRun(t *testing.T) {
	t.Parallel()

	heap := &fakeHeap{}
	heap.v.Store(150 * mib)
	g := memguard.New(testConfig(),
		memguard.WithHeapReader(heap.read),
		memguard.WithCollector(func(bool) {}),
	)
	c := &recordingCleaner{}
	g.Register("cache", c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool { return len(c.Calls()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSampleProcess(t *testing.T) {
	t.Parallel()

	g := memguard.New(memguard.DefaultConfig())
	rss, _, err := g.SampleProcess(context.Background())
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	assert.Positive(t, rss)
}
