package preferences

import (
	"fmt"
	"slices"
	"time"
)

// InQuietHours reports whether now falls inside any enabled quiet window.
func (p Preferences) InQuietHours(now time.Time) bool {
	if !p.QuietHours.Enabled {
		return false
	}
	local := now.In(p.Location())
	for _, w := range p.QuietHours.Windows {
		if w.contains(local) {
			return true
		}
	}
	return false
}

func (w Window) contains(local time.Time) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	day := local.Weekday()

	switch {
	case start == end:
		return w.on(day)
	case start < end:
		return w.on(day) && minute >= start && minute < end
	default:
		// Spans midnight: the evening belongs to today, the morning to the
		// day the window started.
		if minute >= start {
			return w.on(day)
		}
		return minute < end && w.on((day+6)%7)
	}
}

func (w Window) on(day time.Weekday) bool {
	return len(w.Days) == 0 || slices.Contains(w.Days, day)
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
