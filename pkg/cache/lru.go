package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// LRU is a thread-safe LRU cache with per-entry expiry.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	items     map[K]*list.Element
	order     *list.List
	now       func() time.Time
	hits      uint64
	misses    uint64
	evictions uint64
}

// Option configures an LRU.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates a cache holding at most capacity entries. A ttl of zero
// disables expiry. Panics if capacity is not positive.
func New[K comparable, V any](capacity int, ttl time.Duration, opts ...Option) *LRU[K, V] {
	if capacity <= 0 {
		panic("cache: capacity must be positive")
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		now:      o.now,
	}
}

// Get returns the value for key if present and not expired.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := elem.Value.(*entry[K, V])
	if c.expired(e, c.now()) {
		c.remove(elem)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return e.value, true
}

// Put inserts or replaces a value and refreshes its expiry.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
		c.evictions++
	}
}

// Remove deletes keys and reports how many were present.
func (c *LRU[K, V]) Remove(keys ...K) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, key := range keys {
		if elem, ok := c.items[key]; ok {
			c.remove(elem)
			n++
		}
	}
	return n
}

// RemoveFunc deletes every entry for which fn returns true.
func (c *LRU[K, V]) RemoveFunc(fn func(key K, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry[K, V])
		if fn(e.key, e.value) {
			c.remove(elem)
			n++
		}
		elem = prev
	}
	return n
}

// Sweep removes expired entries and returns how many were dropped.
func (c *LRU[K, V]) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*entry[K, V]), now) {
			c.remove(elem)
			n++
		}
		elem = prev
	}
	return n
}

// Clear drops every entry and returns how many there were.
func (c *LRU[K, V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.order.Len()
	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
	return n
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Len:       c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Must be called with lock held.
func (c *LRU[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Must be called with lock held.
func (c *LRU[K, V]) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}
