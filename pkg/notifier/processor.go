package notifier

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/queue"
)

// unit is one delivery: a single item, or a synthesized item standing in
// for the sources it replaced.
type unit struct {
	item   queue.Item
	ack    []string
	size   int
	merged bool
}

func units(batches []queue.Batch) []unit {
	var out []unit
	for _, b := range batches {
		if b.Merged {
			out = append(out, unit{item: b.Items[0], ack: b.SourceIDs, size: b.Size(), merged: true})
			continue
		}
		for _, item := range b.Items {
			out = append(out, unit{item: item, ack: []string{item.ID}, size: max(len(item.SourceIDs), 1)})
		}
	}
	return out
}

// ProcessPending drains due notifications for userID, or for every queue
// when userID is empty. It returns the number of notifications delivered.
// A call for a key that is already being processed returns immediately.
func (s *Service) ProcessPending(ctx context.Context, userID string) (int, error) {
	if _, busy := s.processing.LoadOrStore(userID, struct{}{}); busy {
		return 0, nil
	}
	defer s.processing.Delete(userID)

	ctx, span := s.tracer.Start(ctx, "notifier.ProcessPending",
		trace.WithAttributes(attribute.String("notification.user_id", userID)))
	defer span.End()

	batches, err := s.deps.Queue.DequeueBatch(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	work := units(batches)
	if len(work) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("notification.units", len(work)))

	var (
		mu        sync.Mutex
		delivered int
	)
	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	for start := 0; start < len(work); start += s.cfg.Concurrency {
		if start > 0 && s.cfg.ChunkDelay > 0 {
			if err := sleep(ctx, s.cfg.ChunkDelay); err != nil {
				s.release(ctx, work[start:])
				return delivered, err
			}
		}

		chunk := work[start:min(start+s.cfg.Concurrency, len(work))]
		var g errgroup.Group
		for i, u := range chunk {
			if err := sem.Acquire(ctx, 1); err != nil {
				_ = g.Wait()
				s.release(ctx, work[start+i:])
				return delivered, err
			}
			g.Go(func() error {
				defer sem.Release(1)
				n := s.process(ctx, u)
				mu.Lock()
				delivered += n
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	if delivered > 0 {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "pending notifications processed",
			logger.Component("notifier"),
			logger.UserID(userID),
			logger.Count(delivered),
		)
	}
	span.SetAttributes(attribute.Int("notification.delivered", delivered))
	return delivered, nil
}

// process delivers one unit and returns how many notifications it carried
// on success.
func (s *Service) process(ctx context.Context, u unit) int {
	item := u.item
	if item.Priority == notification.PriorityCritical {
		if err := s.deps.Limiter.IncrementCounters(ctx, item.UserID); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to count critical send",
				logger.Component("notifier"),
				logger.UserID(item.UserID),
				logger.Error(err),
			)
		}
	} else if retryAfter, limited := s.limited(ctx, item.UserID); limited {
		s.requeue(ctx, u, s.now().Add(retryAfter), nil)
		return 0
	}

	err := s.deliver(ctx, item.UserID, item.Payload, item.Type(), u.size)
	if err == nil {
		if err := s.deps.Queue.Ack(ctx, u.ack...); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "failed to ack delivered notification",
				logger.Component("notifier"),
				logger.NotificationID(item.ID),
				logger.Error(err),
			)
		}
		return u.size
	}
	s.requeue(ctx, u, s.retryAt(err, item.Attempts+1), err)
	return 0
}

// requeue puts a unit back. A merged unit is stored as its synthesized
// item and the sources are acknowledged, so the group is not merged again.
func (s *Service) requeue(ctx context.Context, u unit, at time.Time, cause error) {
	err := s.deps.Queue.Requeue(ctx, u.item, at, cause)
	switch {
	case errors.Is(err, queue.ErrMaxAttempts):
		s.logger.LogAttrs(ctx, slog.LevelError, "notification moved to dead letters",
			logger.Component("notifier"),
			logger.NotificationID(u.item.ID),
			logger.UserID(u.item.UserID),
			logger.RetryCount(u.item.Attempts),
			logger.Error(cause),
		)
	case err != nil:
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to requeue notification",
			logger.Component("notifier"),
			logger.NotificationID(u.item.ID),
			logger.Error(err),
		)
		return
	default:
		s.record(u.item.Type(), metrics.OutcomeQueued, 0, u.size)
	}
	if u.merged {
		if err := s.deps.Queue.Ack(ctx, u.ack...); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to release merged sources",
				logger.Component("notifier"),
				logger.BatchID(u.item.ID),
				logger.Error(err),
			)
		}
	}
}

// release returns claimed but unprocessed units to their queues without
// counting an attempt.
func (s *Service) release(ctx context.Context, work []unit) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	for _, u := range work {
		s.requeue(ctx, u, now, nil)
	}
}

// Run recovers stale in-flight items and then drives the background
// workers until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if n, err := s.deps.Queue.Recover(ctx, s.cfg.RecoverAfter); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to recover in-flight notifications",
			logger.Component("notifier"),
			logger.Error(err),
		)
	} else if n > 0 {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "in-flight notifications recovered",
			logger.Component("notifier"),
			logger.Count(n),
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.processLoop(ctx) })
	g.Go(func() error { return s.deps.Metrics.Run(ctx) })
	if s.deps.Guard != nil {
		g.Go(func() error { return s.deps.Guard.Run(ctx) })
	}
	if s.deps.Sweeper != nil {
		g.Go(func() error { return s.sweepLoop(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) processLoop(ctx context.Context) error {
	sub, err := s.deps.Queue.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(s.cfg.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.processAsync(ctx, &wg, "")
		case name, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			// Critical and global triggers drain everything.
			var userID string
			if id, ok := strings.CutPrefix(name, queue.UserQueue("")); ok {
				userID = id
			}
			s.processAsync(ctx, &wg, userID)
		}
	}
}

func (s *Service) processAsync(ctx context.Context, wg *sync.WaitGroup, userID string) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.ProcessPending(ctx, userID); err != nil && ctx.Err() == nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "batch processing failed",
				logger.Component("notifier"),
				logger.UserID(userID),
				logger.Error(err),
			)
		}
	}()
}

func (s *Service) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.deps.Sweeper.Sweep(ctx)
			if err != nil {
				s.logger.LogAttrs(ctx, slog.LevelWarn, "store sweep failed",
					logger.Component("notifier"),
					logger.Error(err),
				)
				continue
			}
			if n > 0 {
				s.logger.LogAttrs(ctx, slog.LevelDebug, "expired keys swept",
					logger.Component("notifier"),
					logger.Count(n),
				)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
