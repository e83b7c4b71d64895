package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Connect parses cfg.URL and pings the server until it answers, waiting
// cfg.RetryBackoff between attempts. The whole call is bounded by
// cfg.ConnectTimeout.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyConnectionURL
	}
	if log == nil {
		log = logger.Discard()
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		if attempt == attempts {
			break
		}
		wait := cfg.RetryBackoff.NextInterval(attempt)
		log.LogAttrs(ctx, slog.LevelWarn, "redis not ready, retrying",
			logger.Component("redis"),
			logger.RetryCount(attempt),
			logger.Duration(wait),
			logger.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, errors.Join(ErrRedisNotReady, lastErr)
}
