// Package preferences models per-user notification settings and decides
// whether and when a notification may be sent.
package preferences

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// Channel is a delivery channel a user can switch off.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

// DigestMode controls when batchable notifications are released.
type DigestMode string

const (
	DigestImmediate DigestMode = "immediate"
	DigestBatched   DigestMode = "batched"
	DigestHourly    DigestMode = "hourly"
	DigestDaily     DigestMode = "daily"
)

// DefaultBatchableTypes is the batching allow-list used when a user has not
// set one.
var DefaultBatchableTypes = []notification.Type{
	notification.TypeTaskDue,
	notification.TypeHabitReminder,
	notification.TypeProjectUpdate,
	notification.TypeNoteShared,
	notification.TypeWeeklyReport,
}

// Window is a weekly recurring quiet period. Start and End are "HH:MM" in
// the user's time zone; End before Start spans midnight. Empty Days means
// every day.
type Window struct {
	Days  []time.Weekday `json:"days,omitempty"`
	Start string         `json:"start"`
	End   string         `json:"end"`
}

// QuietHours is the do-not-disturb schedule.
type QuietHours struct {
	Enabled  bool     `json:"enabled"`
	Timezone string   `json:"timezone,omitempty"`
	Windows  []Window `json:"windows,omitempty"`
}

// Batching holds the user's batching settings.
type Batching struct {
	Enabled bool          `json:"enabled"`
	Window  time.Duration `json:"window"`
	// Types limits batching to these notification types. Empty means
	// DefaultBatchableTypes.
	Types []notification.Type `json:"types,omitempty"`
}

// Preferences is a user's notification configuration. Channels and types
// missing from the maps are enabled.
type Preferences struct {
	UserID      string                     `json:"user_id"`
	Channels    map[Channel]bool           `json:"channels,omitempty"`
	Types       map[notification.Type]bool `json:"types,omitempty"`
	QuietHours  QuietHours                 `json:"quiet_hours"`
	Batching    Batching                   `json:"batching"`
	MinPriority notification.Priority      `json:"min_priority"`
	DigestMode  DigestMode                 `json:"digest_mode"`
	// DigestHour is the local hour daily digests are released.
	DigestHour int `json:"digest_hour"`
}

// Default returns the preferences used for users without stored settings:
// everything enabled, no quiet hours, immediate delivery.
func Default(userID string) Preferences {
	return Preferences{
		UserID:      userID,
		MinPriority: notification.PriorityLow,
		DigestMode:  DigestImmediate,
		DigestHour:  9,
		Batching: Batching{
			Enabled: true,
			Window:  15 * time.Minute,
		},
	}
}

// Validate reports every problem joined into one error wrapping
// ErrInvalidPreferences.
func (p Preferences) Validate() error {
	var errs []error
	if p.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if !p.MinPriority.Valid() {
		errs = append(errs, fmt.Errorf("min_priority %d is out of range", p.MinPriority))
	}
	switch p.DigestMode {
	case "", DigestImmediate, DigestBatched, DigestHourly, DigestDaily:
	default:
		errs = append(errs, fmt.Errorf("unknown digest_mode %q", p.DigestMode))
	}
	if p.DigestHour < 0 || p.DigestHour > 23 {
		errs = append(errs, fmt.Errorf("digest_hour %d is out of range", p.DigestHour))
	}
	if p.Batching.Window < 0 {
		errs = append(errs, errors.New("batching.window must not be negative"))
	}
	if p.QuietHours.Timezone != "" {
		if _, err := time.LoadLocation(p.QuietHours.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("quiet_hours.timezone: %w", err))
		}
	}
	for i, w := range p.QuietHours.Windows {
		if _, err := parseClock(w.Start); err != nil {
			errs = append(errs, fmt.Errorf("quiet_hours.windows[%d].start: %w", i, err))
		}
		if _, err := parseClock(w.End); err != nil {
			errs = append(errs, fmt.Errorf("quiet_hours.windows[%d].end: %w", i, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidPreferences}, errs...)...)
}

// Location returns the user's time zone, falling back to UTC.
func (p Preferences) Location() *time.Location {
	if p.QuietHours.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.QuietHours.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
