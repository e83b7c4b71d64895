package preferences

import (
	"slices"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// Reason explains why a notification was blocked.
type Reason string

const (
	ReasonChannelDisabled Reason = "channel_disabled"
	ReasonTypeDisabled    Reason = "type_disabled"
	ReasonBelowPriority   Reason = "below_min_priority"
	ReasonQuietHours      Reason = "quiet_hours"
)

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Check applies channel, type, priority floor and quiet hour rules in that
// order. Only PriorityCritical passes through quiet hours.
func (p Preferences) Check(t notification.Type, pr notification.Priority, ch Channel, now time.Time) Decision {
	if enabled, ok := p.Channels[ch]; ok && !enabled {
		return Decision{Reason: ReasonChannelDisabled}
	}
	if enabled, ok := p.Types[t]; ok && !enabled {
		return Decision{Reason: ReasonTypeDisabled}
	}
	if pr < p.MinPriority {
		return Decision{Reason: ReasonBelowPriority}
	}
	if pr != notification.PriorityCritical && p.InQuietHours(now) {
		return Decision{Reason: ReasonQuietHours}
	}
	return Decision{Allowed: true}
}

// ShouldBatch reports whether notifications of type t are held for a
// digest instead of being sent right away.
func (p Preferences) ShouldBatch(t notification.Type) bool {
	if !p.Batching.Enabled {
		return false
	}
	if p.DigestMode == "" || p.DigestMode == DigestImmediate {
		return false
	}
	allowed := p.Batching.Types
	if len(allowed) == 0 {
		allowed = DefaultBatchableTypes
	}
	return slices.Contains(allowed, t)
}

// NextDelivery returns when a batched notification created at now should
// be released according to the digest mode.
func (p Preferences) NextDelivery(now time.Time) time.Time {
	switch p.DigestMode {
	case DigestBatched:
		window := p.Batching.Window
		if window <= 0 {
			window = Default(p.UserID).Batching.Window
		}
		return now.Add(window)
	case DigestHourly:
		local := now.In(p.Location())
		top := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, local.Location())
		return top.Add(time.Hour)
	case DigestDaily:
		local := now.In(p.Location())
		next := time.Date(local.Year(), local.Month(), local.Day(), p.DigestHour, 0, 0, 0, local.Location())
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	default:
		return now
	}
}
