package store

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type valueKind uint8

const (
	kindString valueKind = iota + 1
	kindHash
	kindZSet
)

type memoryValue struct {
	kind      valueKind
	str       string
	hash      map[string]int64
	zset      map[string]float64
	expiresAt time.Time
}

// MemoryStore is an in-process Store. All operations on a key are atomic.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]*memoryValue
	closed bool
	now    func() time.Time

	pubsub *memoryPubSub
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for key expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSubscriberBuffer sets the per-subscription channel buffer.
func WithSubscriberBuffer(size int) MemoryOption {
	return func(s *MemoryStore) {
		s.pubsub.bufferSize = max(size, 1)
	}
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		values: make(map[string]*memoryValue),
		now:    time.Now,
		pubsub: newMemoryPubSub(64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.lookup(key, kindString)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", ErrNotFound
	}
	return v.str, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.values[key] = &memoryValue{kind: kindString, str: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if s.live(key) != nil {
		return false, nil
	}
	s.values[key] = &memoryValue{kind: kindString, str: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if v := s.live(key); v != nil {
		v.expiresAt = s.deadline(ttl)
	}
	return nil
}

func (s *MemoryStore) IncrBy(_ context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.lookup(key, kindString)
	if err != nil {
		return 0, err
	}
	if v == nil {
		v = &memoryValue{kind: kindString, str: "0"}
		s.values[key] = v
	}
	cur, err := strconv.ParseInt(v.str, 10, 64)
	if err != nil {
		return 0, ErrWrongType
	}
	cur += n
	v.str = strconv.FormatInt(cur, 10)
	if ttl > 0 {
		v.expiresAt = s.deadline(ttl)
	}
	return cur, nil
}

func (s *MemoryStore) HIncrBy(_ context.Context, key string, fields map[string]int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.lookup(key, kindHash)
	if err != nil {
		return err
	}
	if v == nil {
		v = &memoryValue{kind: kindHash, hash: make(map[string]int64, len(fields))}
		s.values[key] = v
	}
	for f, n := range fields {
		v.hash[f] += n
	}
	if ttl > 0 {
		v.expiresAt = s.deadline(ttl)
	}
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.lookup(key, kindHash)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if v == nil {
		return out, nil
	}
	for f, n := range v.hash {
		out[f] = strconv.FormatInt(n, 10)
	}
	return out, nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, members ...Z) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.zset(key, true)
	if err != nil {
		return err
	}
	for _, m := range members {
		v.zset[m.Member] = m.Score
	}
	return nil
}

func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.zset(key, false)
	if err != nil || v == nil {
		return 0, err
	}
	var n int64
	for _, m := range members {
		if _, ok := v.zset[m]; ok {
			delete(v.zset, m)
			n++
		}
	}
	if len(v.zset) == 0 {
		delete(s.values, key)
	}
	return n, nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.zset(key, false)
	if err != nil || v == nil {
		return 0, err
	}
	return int64(len(v.zset)), nil
}

func (s *MemoryStore) ZRevRange(_ context.Context, key string, start, stop int64) ([]Z, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.zset(key, false)
	if err != nil || v == nil {
		return nil, err
	}
	sorted := sortedMembers(v.zset)
	slices.Reverse(sorted)

	n := int64(len(sorted))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return slices.Clone(sorted[start : stop+1]), nil
}

func (s *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64, limit int64) ([]Z, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.zset(key, false)
	if err != nil || v == nil {
		return nil, err
	}
	var out []Z
	for _, z := range sortedMembers(v.zset) {
		if z.Score < min || z.Score > max {
			continue
		}
		out = append(out, z)
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ZRevRangeByScore(_ context.Context, key string, max, min float64, offset, limit int64) ([]Z, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.zset(key, false)
	if err != nil || v == nil {
		return nil, err
	}
	sorted := sortedMembers(v.zset)
	slices.Reverse(sorted)

	var out []Z
	for _, z := range sorted {
		if z.Score < min || z.Score > max {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, z)
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CountWindow(_ context.Context, key string, now time.Time, window time.Duration) (WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.zset(key, false)
	if err != nil || v == nil {
		return WindowState{}, err
	}
	cutoff := windowScore(now.Add(-window))
	oldest := math.Inf(1)
	for m, score := range v.zset {
		if score <= cutoff {
			delete(v.zset, m)
			continue
		}
		oldest = min(oldest, score)
	}
	if len(v.zset) == 0 {
		delete(s.values, key)
		return WindowState{}, nil
	}
	return WindowState{Count: int64(len(v.zset)), Oldest: scoreTime(oldest)}, nil
}

func (s *MemoryStore) RecordWindow(_ context.Context, key string, now time.Time, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.zset(key, true)
	if err != nil {
		return err
	}
	v.zset[uuid.NewString()] = windowScore(now)
	v.expiresAt = s.deadline(window)
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel, message string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.pubsub.publish(channel, message)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.pubsub.subscribe(ctx, channel), nil
}

// Sweep removes expired keys and empty collections.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	now := s.now()
	n := 0
	for key, v := range s.values {
		if v.expired(now) || (v.kind == kindZSet && len(v.zset) == 0) || (v.kind == kindHash && len(v.hash) == 0) {
			delete(s.values, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of keys currently held, including expired ones
// not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close drops all data and closes every subscription. Safe to call twice.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.values = make(map[string]*memoryValue)
	s.mu.Unlock()

	s.pubsub.close()
	return nil
}

func (v *memoryValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && !now.Before(v.expiresAt)
}

// Must be called with lock held.
func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// live returns the value under key unless it has expired, deleting it lazily.
// Must be called with lock held.
func (s *MemoryStore) live(key string) *memoryValue {
	v, ok := s.values[key]
	if !ok {
		return nil
	}
	if v.expired(s.now()) {
		delete(s.values, key)
		return nil
	}
	return v
}

// Must be called with lock held.
func (s *MemoryStore) lookup(key string, kind valueKind) (*memoryValue, error) {
	if s.closed {
		return nil, ErrClosed
	}
	v := s.live(key)
	if v != nil && v.kind != kind {
		return nil, ErrWrongType
	}
	return v, nil
}

// Must be called with lock held.
func (s *MemoryStore) zset(key string, create bool) (*memoryValue, error) {
	v, err := s.lookup(key, kindZSet)
	if err != nil {
		return nil, err
	}
	if v == nil && create {
		v = &memoryValue{kind: kindZSet, zset: make(map[string]float64)}
		s.values[key] = v
	}
	return v, nil
}

// sortedMembers orders by score then member, matching Redis.
func sortedMembers(m map[string]float64) []Z {
	out := make([]Z, 0, len(m))
	for member, score := range m {
		out = append(out, Z{Member: member, Score: score})
	}
	slices.SortFunc(out, func(a, b Z) int {
		if c := cmp.Compare(a.Score, b.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Member, b.Member)
	})
	return out
}
