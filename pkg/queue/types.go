package queue

import (
	"fmt"
	"math"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// Queue names.
const (
	CriticalQueue = "critical"
	GlobalQueue   = "global"
	userQueuePfx  = "user:"
)

// TriggerChannel carries the name of a queue that should be drained now.
const TriggerChannel = "queue:trigger"

// UserQueue returns the per-user queue name.
func UserQueue(userID string) string { return userQueuePfx + userID }

// Item is a queued notification.
type Item struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id"`
	Payload      notification.Payload  `json:"payload"`
	Priority     notification.Priority `json:"priority"`
	ScheduledFor time.Time             `json:"scheduled_for"`
	Attempts     int                   `json:"attempts"`
	CreatedAt    time.Time             `json:"created_at"`
	Batchable    bool                  `json:"batchable"`
	DedupKey     string                `json:"dedup_key,omitempty"`
	Queue        string                `json:"queue,omitempty"`
	// SourceIDs lists the items a synthesized notification replaces.
	SourceIDs []string `json:"source_ids,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

// Type is a shortcut for the payload type.
func (i Item) Type() notification.Type { return i.Payload.Type() }

// Synthesized reports whether the item was produced by merging a group.
func (i Item) Synthesized() bool { return len(i.SourceIDs) > 0 }

func (i Item) validate() error {
	if i.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidItem)
	}
	if !i.Priority.Valid() {
		return fmt.Errorf("%w: priority %d", ErrInvalidItem, i.Priority)
	}
	if err := i.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}
	return nil
}

// Batch is a group of items produced by one DequeueBatch call. A merged
// batch holds exactly one synthesized item replacing SourceIDs.
type Batch struct {
	ID        string
	UserID    string
	Type      notification.Type
	Priority  notification.Priority
	Items     []Item
	SourceIDs []string
	Merged    bool
}

// Size is the number of original notifications in the batch.
func (b Batch) Size() int { return len(b.SourceIDs) }

// Stats describes queue health.
type Stats struct {
	Total         int64            `json:"total"`
	Queues        map[string]int64 `json:"queues"`
	InFlight      int64            `json:"in_flight"`
	DeadLetters   int64            `json:"dead_letters"`
	OldestPending time.Duration    `json:"oldest_pending"`
	BatchSize     int              `json:"batch_size"`
	Enqueued      uint64           `json:"enqueued"`
	Deduplicated  uint64           `json:"deduplicated"`
	Dequeued      uint64           `json:"dequeued"`
	Merged        uint64           `json:"merged"`
	Rejected      uint64           `json:"rejected"`
	DeadLettered  uint64           `json:"dead_lettered"`
}

const (
	tierWidth = 1e13
	horizon   = 1e13
)

// Score ranks an item inside its queue: higher is dequeued first. Tiers are
// 1e13 apart, wider than the millisecond range of any realistic timestamp,
// so a lower tier can never outrank a higher one.
func Score(p notification.Priority, scheduledFor time.Time) float64 {
	return float64(int(p)+1)*tierWidth + inverseTime(scheduledFor)
}

// dueBand returns the score range of tier p items scheduled at or before
// now. Inside a tier earlier items score higher, so every due item
// outranks every future one.
func dueBand(p notification.Priority, now time.Time) (lo, hi float64) {
	base := float64(int(p)+1) * tierWidth
	return base + inverseTime(now), base + tierWidth - 1
}

func inverseTime(t time.Time) float64 {
	inverse := horizon - float64(t.UnixMilli())
	return math.Max(0, math.Min(inverse, tierWidth-1))
}
