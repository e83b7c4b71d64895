// Package cache provides a bounded, expiring LRU cache used for hot-path
// lookups that would otherwise hit the backing store.
//
// Entries expire after the cache TTL and are evicted least-recently-used
// first once capacity is reached. Expired entries are skipped on read and
// physically removed by Sweep, which memory cleanup routines call:
//
//	c := cache.New[string, Item](1024, time.Minute)
//	c.Put(id, item)
//	if v, ok := c.Get(id); ok { ... }
//	removed := c.Sweep()
package cache
