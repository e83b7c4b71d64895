// Package redis connects to the Redis server that backs the distributed
// store and exposes a readiness probe for it.
//
// Connect retries with exponential backoff so the daemon tolerates Redis
// starting after it in a compose or Kubernetes rollout. Healthcheck plugs
// into the HTTP readiness endpoint.
//
//	client, err := redis.Connect(ctx, cfg.Redis, log)
//	if err != nil {
//		return err
//	}
//	st := store.NewRedisStore(client)
package redis
