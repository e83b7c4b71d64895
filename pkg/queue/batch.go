package queue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/store"
)

// maxListedTitles caps how many source titles a merged body names.
const maxListedTitles = 3

var aggregateTitles = map[notification.Type]string{
	notification.TypeTaskDue:       "%d Tasks Due Soon",
	notification.TypeTaskDeadline:  "%d Task Deadlines Approaching",
	notification.TypeHabitReminder: "%d Habit Reminders",
	notification.TypeWeeklyReport:  "%d Weekly Reports Ready",
	notification.TypeProjectUpdate: "%d Project Updates",
	notification.TypeNoteShared:    "%d Notes Shared With You",
	notification.TypeCalendarEvent: "%d Upcoming Events",
}

// AggregateTitle returns the title of a merged notification of type t.
func AggregateTitle(t notification.Type, n int) string {
	format, ok := aggregateTitles[t]
	if !ok {
		format = "%d New Notifications"
	}
	return fmt.Sprintf(format, n)
}

// DequeueBatch claims up to BatchSize due items and returns them grouped.
// With a userID only that user's items are considered; otherwise every
// registered queue is scanned. Claimed items stay in flight until Ack or
// Requeue. It returns nil when nothing is due.
func (q *Queue) DequeueBatch(ctx context.Context, userID string) ([]Batch, error) {
	names, err := q.queueNames(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("queue: list queues: %w", err)
	}

	limit := q.BatchSize(ctx)
	now := q.now()
	claimed := make([]Item, 0, limit)
	for _, name := range names {
		if len(claimed) >= limit {
			break
		}
		items, err := q.claim(ctx, name, userID, limit-len(claimed), now)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, items...)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	q.dequeued.Add(uint64(len(claimed)))
	slices.SortStableFunc(claimed, func(a, b Item) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.ScheduledFor.Compare(b.ScheduledFor); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	batches := q.group(claimed)
	for i := range batches {
		if batches[i].Merged {
			continue
		}
		if merged, ok := q.merge(batches[i]); ok {
			batches[i] = merged
			q.merged.Add(uint64(merged.Size()))
			q.logger.LogAttrs(ctx, slog.LevelDebug, "notifications merged",
				logger.Component("queue"),
				logger.BatchID(merged.ID),
				logger.UserID(merged.UserID),
				logger.NotificationType(merged.Type),
				logger.Count(merged.Size()),
			)
		}
	}
	return batches, nil
}

// claim atomically removes due items from queue name, highest tier first.
// An item counts as claimed only if this call removed it, so concurrent
// workers never deliver the same item twice.
func (q *Queue) claim(ctx context.Context, name, userID string, want int, now time.Time) ([]Item, error) {
	out := make([]Item, 0, want)
	for p := notification.PriorityCritical; p >= notification.PriorityLow && len(out) < want; p-- {
		items, err := q.claimBand(ctx, name, userID, p, want-len(out), now)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}

	if len(out) > 0 {
		if err := q.settle(ctx, name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// claimBand pages through the due items of one tier. Members it leaves in
// place advance the offset; claimed and orphaned ones drop out of the range.
func (q *Queue) claimBand(ctx context.Context, name, userID string, p notification.Priority, want int, now time.Time) ([]Item, error) {
	key := keyQueuePfx + name
	lo, hi := dueBand(p, now)
	page := int64(max(want*4, 100))

	var (
		out    []Item
		offset int64
	)
	for len(out) < want {
		zs, err := q.store.ZRevRangeByScore(ctx, key, hi, lo, offset, page)
		if err != nil {
			return nil, fmt.Errorf("queue: scan %s: %w", name, err)
		}
		for _, z := range zs {
			if len(out) >= want {
				break
			}
			item, err := q.load(ctx, z.Member)
			if errors.Is(err, store.ErrNotFound) {
				// Orphaned id; drop it.
				n, err := q.store.ZRem(ctx, key, z.Member)
				if err != nil {
					offset++
				} else if n == 1 {
					_, _ = q.store.IncrBy(ctx, keySize, -1, 0)
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			if item.ScheduledFor.After(now) || (userID != "" && item.UserID != userID) {
				offset++
				continue
			}
			n, err := q.store.ZRem(ctx, key, item.ID)
			if err != nil {
				return nil, err
			}
			if n != 1 {
				continue
			}
			if err := q.store.ZAdd(ctx, keyInFlight, store.Z{Member: item.ID, Score: float64(now.UnixMilli())}); err != nil {
				return nil, err
			}
			if _, err := q.store.IncrBy(ctx, keySize, -1, 0); err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		if int64(len(zs)) < page {
			break
		}
	}
	return out, nil
}

// settle resets the pending-since marker of a queue after a drain and
// unregisters it once empty.
func (q *Queue) settle(ctx context.Context, name string) error {
	left, err := q.store.ZCard(ctx, keyQueuePfx+name)
	if err != nil {
		return err
	}
	if left > 0 {
		return q.store.Set(ctx, keySincePfx+name, strconv.FormatInt(q.now().UnixMilli(), 10), 0)
	}
	if err := q.store.Delete(ctx, keySincePfx+name); err != nil {
		return err
	}
	_, err = q.store.ZRem(ctx, keyRegistry, name)
	return err
}

type groupKey struct {
	user     string
	typ      notification.Type
	priority notification.Priority
	bucket   int64
}

func (q *Queue) group(items []Item) []Batch {
	index := make(map[groupKey]int)
	var batches []Batch
	for _, item := range items {
		k := groupKey{
			user:     item.UserID,
			typ:      item.Type(),
			priority: item.Priority,
			bucket:   item.ScheduledFor.Truncate(q.cfg.GroupBucket).UnixMilli(),
		}
		i, ok := index[k]
		if !ok {
			i = len(batches)
			index[k] = i
			batches = append(batches, Batch{
				ID:       uuid.NewString(),
				UserID:   item.UserID,
				Type:     k.typ,
				Priority: item.Priority,
			})
		}
		batches[i].Items = append(batches[i].Items, item)
		if item.Synthesized() {
			batches[i].SourceIDs = append(batches[i].SourceIDs, item.SourceIDs...)
		} else {
			batches[i].SourceIDs = append(batches[i].SourceIDs, item.ID)
		}
	}
	return batches
}

// merge folds a group into one synthesized item when every member is
// batchable, the tier is below critical and the members fall within
// MergeSpan of each other.
func (q *Queue) merge(b Batch) (Batch, bool) {
	if len(b.Items) < 2 || b.Priority == notification.PriorityCritical {
		return b, false
	}
	first, last := b.Items[0].ScheduledFor, b.Items[0].ScheduledFor
	for _, item := range b.Items {
		if !item.Batchable || item.Synthesized() {
			return b, false
		}
		if item.ScheduledFor.Before(first) {
			first = item.ScheduledFor
		}
		if item.ScheduledFor.After(last) {
			last = item.ScheduledFor
		}
	}
	if last.Sub(first) > q.cfg.MergeSpan {
		return b, false
	}

	n := len(b.Items)
	titles := make([]string, 0, maxListedTitles)
	entities := make([]string, 0, n)
	for i, item := range b.Items {
		if i < maxListedTitles {
			titles = append(titles, item.Payload.Title)
		}
		if id := item.Payload.Data.EntityID; id != "" {
			entities = append(entities, id)
		}
	}
	body := strings.Join(titles, ", ")
	if n > maxListedTitles {
		body += fmt.Sprintf(" and %d more", n-maxListedTitles)
	}

	lead := b.Items[0]
	payload := notification.Payload{
		Title: AggregateTitle(b.Type, n),
		Body:  body,
		Icon:  lead.Payload.Icon,
		Data: notification.Data{
			Type: b.Type,
			URL:  lead.Payload.Data.URL,
		},
	}
	payload = payload.
		WithTag(fmt.Sprintf("batch-%s-%s", b.Type, b.UserID)).
		WithExtra("batch_size", strconv.Itoa(n))
	if len(entities) > 0 {
		payload = payload.WithExtra("entity_ids", strings.Join(entities, ","))
	}

	synth := Item{
		ID:           uuid.NewString(),
		UserID:       b.UserID,
		Payload:      payload,
		Priority:     b.Priority,
		ScheduledFor: first,
		CreatedAt:    q.now(),
		Queue:        lead.Queue,
		SourceIDs:    b.SourceIDs,
	}
	b.Items = []Item{synth}
	b.Merged = true
	return b, true
}
