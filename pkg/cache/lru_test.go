package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/notifykit/pkg/cache"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

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

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := cache.New[string, int](2, 0)
	c.Put("a", 1)
	c.Put("b", 2)

	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Put("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestLRU_Expiry(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := cache.New[string, string](10, time.Minute, cache.WithClock(clk.Now))

	c.Put("a", "x")
	c.Put("b", "y")
	clk.Advance(30 * time.Second)
	c.Put("b", "y2")
	clk.Advance(31 * time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok, "a expired")

	v, ok := c.Get("b")
	assert.True(t, ok, "b was refreshed by Put")
	assert.Equal(t, "y2", v)

	clk.Advance(time.Minute)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestLRU_RemoveFuncAndClear(t *testing.T) {
	t.Parallel()

	c := cache.New[int, int](10, 0)
	for i := range 6 {
		c.Put(i, i)
	}

	removed := c.RemoveFunc(func(_ int, v int) bool { return v%2 == 0 })
	assert.Equal(t, 3, removed)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 1, c.Remove(1, 42))
	assert.Equal(t, 2, c.Clear())
	assert.Equal(t, 0, c.Len())
}

func TestLRU_PanicsOnInvalidCapacity(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { cache.New[string, int](0, 0) })
}
