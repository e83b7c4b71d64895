// Package store defines the backing store used by the delivery pipeline for
// rate-limit windows, queued items, dedup keys, metric aggregates and batch
// trigger signals, together with two interchangeable implementations.
//
// MemoryStore keeps everything in process and expires keys lazily on access
// and eagerly on Sweep. RedisStore maps every primitive onto Redis commands
// (pipelined where a read-modify-write must be atomic) and relies on native
// key expiry, so its Sweep is a no-op.
//
//	st := store.NewMemoryStore()
//	defer st.Close()
//
//	client, _ := redis.Connect(ctx, cfg)
//	st := store.NewRedisStore(client, store.WithKeyPrefix("notify:"))
package store
