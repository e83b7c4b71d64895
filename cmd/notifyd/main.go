// Command notifyd runs the notification delivery service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notifykit/internal/api"
	"github.com/dmitrymomot/notifykit/internal/config"
	"github.com/dmitrymomot/notifykit/internal/telemetry"
	"github.com/dmitrymomot/notifykit/pkg/circuitbreaker"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/memguard"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/notifier"
	"github.com/dmitrymomot/notifykit/pkg/preferences"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/ratelimit"
	"github.com/dmitrymomot/notifykit/pkg/redis"
	"github.com/dmitrymomot/notifykit/pkg/store"
	"github.com/dmitrymomot/notifykit/pkg/transport"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "notifyd: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, "notifyd"),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithAttr(slog.String("version", version)),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.LogAttrs(ctx, slog.LevelError, "notifyd stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	st, ready, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	guard := memguard.New(cfg.Memory, memguard.WithLogger(log))
	q := queue.New(st, cfg.Queue,
		queue.WithLogger(log),
		queue.WithMemoryUsage(guard.HeapAlloc),
	)
	guard.Register("queue-cache", q)

	collector := metrics.New(st, cfg.Metrics,
		metrics.WithLogger(log),
		metrics.WithQueueDepth(q.Depth),
		metrics.WithProcessSampler(guard),
	)
	circuitState := promauto.With(collector.Registry()).NewGauge(prometheus.GaugeOpts{
		Name: "notification_circuit_state",
		Help: "Transport circuit state: 0 closed, 1 open, 2 half-open",
	})
	breaker := circuitbreaker.New(cfg.Breaker,
		circuitbreaker.WithLogger(log),
		circuitbreaker.WithStateChange(func(_, to circuitbreaker.State) {
			circuitState.Set(float64(to))
		}),
	)

	tr, hub, err := openTransport(cfg, log)
	if err != nil {
		return err
	}
	if hub != nil {
		defer hub.Close()
	}

	prefs := preferences.NewKVStore(st)
	svc, err := notifier.New(cfg.Notifier, notifier.Deps{
		Queue:       q,
		Limiter:     ratelimit.New(st, cfg.RateLimit, ratelimit.WithLogger(log)),
		Breaker:     breaker,
		Metrics:     collector,
		Transport:   tr,
		Preferences: prefs,
		Guard:       guard,
		Sweeper:     st,
	}, notifier.WithLogger(log))
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Service:     svc,
		Preferences: prefs,
		Metrics:     collector,
		Hub:         hub,
		Ready:       ready,
		Logger:      log,
	})
	srv := httpserver.New(cfg.HTTP, router, httpserver.WithLogger(log))

	log.LogAttrs(ctx, slog.LevelInfo, "notifyd starting",
		slog.String("store", cfg.Store),
		slog.String("transport", cfg.Transport),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, []httpserver.Check, error) {
	if cfg.Store == config.StoreMemory {
		st := store.NewMemoryStore()
		return st, []httpserver.Check{{Name: "store", Fn: st.Ping}}, nil
	}

	client, err := redis.Connect(ctx, cfg.Redis, log)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	st := store.NewRedisStore(client,
		store.WithKeyPrefix(cfg.KeyPrefix),
		store.WithLogger(log),
	)
	return closer{Store: st, close: client.Close}, []httpserver.Check{
		{Name: "redis", Fn: redis.Healthcheck(client, 2*time.Second)},
	}, nil
}

// closer closes the Redis client after the store's subscriptions.
type closer struct {
	store.Store
	close func() error
}

func (c closer) Close() error {
	return errors.Join(c.Store.Close(), c.close())
}

func openTransport(cfg config.Config, log *slog.Logger) (transport.Transport, *transport.Hub, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		tr, err := transport.NewHTTP(cfg.Push, transport.WithHTTPLogger(log))
		return tr, nil, err
	case config.TransportNoop:
		return transport.Noop{}, nil, nil
	default:
		hub := transport.NewHub(cfg.Hub, transport.WithHubLogger(log))
		return hub, hub, nil
	}
}
