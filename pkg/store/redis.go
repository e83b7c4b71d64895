package store

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a go-redis client. The client is
// owned by the caller; Close only releases subscriptions.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	bufferSize int
	logger     *slog.Logger

	mu   sync.Mutex
	subs map[*redisSubscription]struct{}
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key and channel.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisSubscriberBuffer sets the per-subscription channel buffer.
func WithRedisSubscriberBuffer(size int) RedisOption {
	return func(s *RedisStore) { s.bufferSize = max(size, 1) }
}

// WithLogger sets the logger used for subscription diagnostics.
func WithLogger(l *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		prefix:     "notify:",
		bufferSize: 64,
		logger:     slog.New(slog.DiscardHandler),
		subs:       make(map[*redisSubscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, max(ttl, 0)).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), value, max(ttl, 0)).Result()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.client.Del(ctx, full...).Err()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Persist(ctx, s.key(key)).Err()
	}
	return s.client.PExpire(ctx, s.key(key), ttl).Err()
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	k := s.key(key)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.IncrBy(ctx, k, n)
		if ttl > 0 {
			p.PExpire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) HIncrBy(ctx context.Context, key string, fields map[string]int64, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for f, n := range fields {
			p.HIncrBy(ctx, k, f, n)
		}
		if ttl > 0 {
			p.PExpire(ctx, k, ttl)
		}
		return nil
	})
	return err
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key(key)).Result()
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, members ...Z) error {
	if len(members) == 0 {
		return nil
	}
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return s.client.ZAdd(ctx, s.key(key), zs...).Err()
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.ZRem(ctx, s.key(key), args...).Result()
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, s.key(key)).Result()
}

func (s *RedisStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]Z, error) {
	res, err := s.client.ZRevRangeWithScores(ctx, s.key(key), start, stop).Result()
	if err != nil {
		return nil, err
	}
	return fromRedisZ(res), nil
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]Z, error) {
	by := &redis.ZRangeBy{Min: formatScore(min), Max: formatScore(max)}
	if limit > 0 {
		by.Count = limit
	}
	res, err := s.client.ZRangeByScoreWithScores(ctx, s.key(key), by).Result()
	if err != nil {
		return nil, err
	}
	return fromRedisZ(res), nil
}

func (s *RedisStore) ZRevRangeByScore(ctx context.Context, key string, max, min float64, offset, limit int64) ([]Z, error) {
	by := &redis.ZRangeBy{Min: formatScore(min), Max: formatScore(max), Offset: offset, Count: -1}
	if limit > 0 {
		by.Count = limit
	}
	res, err := s.client.ZRevRangeByScoreWithScores(ctx, s.key(key), by).Result()
	if err != nil {
		return nil, err
	}
	return fromRedisZ(res), nil
}

func (s *RedisStore) CountWindow(ctx context.Context, key string, now time.Time, window time.Duration) (WindowState, error) {
	k := s.key(key)
	cutoff := formatScore(windowScore(now.Add(-window)))

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		card = p.ZCard(ctx, k)
		oldest = p.ZRangeWithScores(ctx, k, 0, 0)
		return nil
	})
	if err != nil {
		return WindowState{}, err
	}

	state := WindowState{Count: card.Val()}
	if zs := oldest.Val(); len(zs) > 0 {
		state.Oldest = scoreTime(zs[0].Score)
	}
	return state, nil
}

func (s *RedisStore) RecordWindow(ctx context.Context, key string, now time.Time, window time.Duration) error {
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, k, redis.Z{Score: windowScore(now), Member: uuid.NewString()})
		p.PExpire(ctx, k, window)
		return nil
	})
	return err
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	return s.client.Publish(ctx, s.key(channel), message).Err()
}

// Subscribe blocks until Redis confirms the subscription so messages
// published after it returns are not missed.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := s.client.Subscribe(ctx, s.key(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSubscription{
		ps:    ps,
		out:   make(chan string, s.bufferSize),
		done:  make(chan struct{}),
		owner: s,
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.pump(ctx, s.logger)
	return sub, nil
}

// Sweep is a no-op: Redis expires keys itself.
func (s *RedisStore) Sweep(context.Context) (int, error) { return 0, nil }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases all subscriptions opened through this store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[*redisSubscription]struct{})
	s.mu.Unlock()

	var errs []error
	for sub := range subs {
		if err := sub.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type redisSubscription struct {
	ps    *redis.PubSub
	out   chan string
	done  chan struct{}
	once  sync.Once
	owner *RedisStore
}

func (r *redisSubscription) Messages() <-chan string { return r.out }

func (r *redisSubscription) Close() error {
	r.owner.mu.Lock()
	delete(r.owner.subs, r)
	r.owner.mu.Unlock()
	return r.close()
}

func (r *redisSubscription) close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.ps.Close()
	})
	return err
}

func (r *redisSubscription) pump(ctx context.Context, logger *slog.Logger) {
	defer close(r.out)
	in := r.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = r.Close()
			return
		case <-r.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case r.out <- msg.Payload:
			default:
				logger.LogAttrs(ctx, slog.LevelDebug, "dropping pubsub message for slow subscriber",
					slog.String("channel", msg.Channel))
			}
		}
	}
}

func fromRedisZ(in []redis.Z) []Z {
	out := make([]Z, 0, len(in))
	for _, z := range in {
		member, _ := z.Member.(string)
		out = append(out, Z{Member: member, Score: z.Score})
	}
	return out
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
