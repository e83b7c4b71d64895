package preferences_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/preferences"
	"github.com/dmitrymomot/notifykit/pkg/store"
)

// 2024-01-10 is a Wednesday.
func at(hour, minute int) time.Time {
	return time.Date(2024, time.January, 10, hour, minute, 0, 0, time.UTC)
}

func TestCheck(t *testing.T) {
	t.Parallel()

	prefs := preferences.Default("u1")
	prefs.Channels = map[preferences.Channel]bool{preferences.ChannelEmail: false}
	prefs.Types = map[notification.Type]bool{notification.TypeWeeklyReport: false}
	prefs.MinPriority = notification.PriorityNormal
	prefs.QuietHours = preferences.QuietHours{
		Enabled: true,
		Windows: []preferences.Window{{Start: "22:00", End: "07:00"}},
	}

	tests := []struct {
		name    string
		typ     notification.Type
		pr      notification.Priority
		ch      preferences.Channel
		now     time.Time
		allowed bool
		reason  preferences.Reason
	}{
		{"allowed", notification.TypeTaskDue, notification.PriorityNormal, preferences.ChannelPush, at(12, 0), true, ""},
		{"channel off", notification.TypeTaskDue, notification.PriorityHigh, preferences.ChannelEmail, at(12, 0), false, preferences.ReasonChannelDisabled},
		{"type off", notification.TypeWeeklyReport, notification.PriorityHigh, preferences.ChannelPush, at(12, 0), false, preferences.ReasonTypeDisabled},
		{"below floor", notification.TypeTaskDue, notification.PriorityLow, preferences.ChannelPush, at(12, 0), false, preferences.ReasonBelowPriority},
		{"quiet evening", notification.TypeTaskDue, notification.PriorityHigh, preferences.ChannelPush, at(23, 30), false, preferences.ReasonQuietHours},
		{"quiet morning", notification.TypeTaskDue, notification.PriorityHigh, preferences.ChannelPush, at(6, 59), false, preferences.ReasonQuietHours},
		{"quiet ends", notification.TypeTaskDue, notification.PriorityHigh, preferences.ChannelPush, at(7, 0), true, ""},
		{"critical bypasses quiet hours", notification.TypeSystemAlert, notification.PriorityCritical, preferences.ChannelPush, at(23, 30), true, ""},
		{"critical respects channel", notification.TypeSystemAlert, notification.PriorityCritical, preferences.ChannelEmail, at(12, 0), false, preferences.ReasonChannelDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := prefs.Check(tt.typ, tt.pr, tt.ch, tt.now)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestInQuietHours_DaysAndTimezone(t *testing.T) {
	t.Parallel()

	prefs := preferences.Default("u1")
	prefs.QuietHours = preferences.QuietHours{
		Enabled:  true,
		Timezone: "America/New_York",
		Windows: []preferences.Window{
			// Friday night into Saturday morning only.
			{Days: []time.Weekday{time.Friday}, Start: "23:00", End: "08:00"},
		},
	}

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	fri := time.Date(2024, time.January, 12, 23, 30, 0, 0, ny)
	sat := time.Date(2024, time.January, 13, 7, 0, 0, 0, ny)
	satNight := time.Date(2024, time.January, 13, 23, 30, 0, 0, ny)
	thuMorning := time.Date(2024, time.January, 11, 7, 0, 0, 0, ny)

	assert.True(t, prefs.InQuietHours(fri.UTC()))
	assert.True(t, prefs.InQuietHours(sat.UTC()))
	assert.False(t, prefs.InQuietHours(satNight.UTC()))
	assert.False(t, prefs.InQuietHours(thuMorning.UTC()))

	prefs.QuietHours.Enabled = false
	assert.False(t, prefs.InQuietHours(fri.UTC()))
}

func TestShouldBatch(t *testing.T) {
	t.Parallel()

	prefs := preferences.Default("u1")
	assert.False(t, prefs.ShouldBatch(notification.TypeTaskDue), "immediate digest")

	prefs.DigestMode = preferences.DigestHourly
	assert.True(t, prefs.ShouldBatch(notification.TypeTaskDue))
	assert.False(t, prefs.ShouldBatch(notification.TypeSystemAlert), "not in allow-list")

	prefs.Batching.Types = []notification.Type{notification.TypeSystemAlert}
	assert.True(t, prefs.ShouldBatch(notification.TypeSystemAlert))
	assert.False(t, prefs.ShouldBatch(notification.TypeTaskDue))

	prefs.Batching.Enabled = false
	assert.False(t, prefs.ShouldBatch(notification.TypeSystemAlert))
}

func TestNextDelivery(t *testing.T) {
	t.Parallel()

	now := at(10, 20)
	prefs := preferences.Default("u1")

	assert.Equal(t, now, prefs.NextDelivery(now))

	prefs.DigestMode = preferences.DigestBatched
	assert.Equal(t, now.Add(15*time.Minute), prefs.NextDelivery(now))

	prefs.DigestMode = preferences.DigestHourly
	assert.True(t, at(11, 0).Equal(prefs.NextDelivery(now)))

	prefs.DigestMode = preferences.DigestDaily
	prefs.DigestHour = 18
	assert.True(t, at(18, 0).Equal(prefs.NextDelivery(now)))

	prefs.DigestHour = 9
	assert.True(t, at(9, 0).AddDate(0, 0, 1).Equal(prefs.NextDelivery(now)))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, preferences.Default("u1").Validate())

	bad := preferences.Default("")
	bad.DigestMode = "weekly"
	bad.DigestHour = 25
	bad.QuietHours.Timezone = "Mars/Olympus"
	bad.QuietHours.Windows = []preferences.Window{{Start: "25:00", End: "7am"}}

	err := bad.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, preferences.ErrInvalidPreferences)
	assert.ErrorIs(t, err, preferences.ErrUserIDRequired)
	for _, s := range []string{"digest_mode", "digest_hour", "timezone", "windows[0].start", "windows[0].end"} {
		assert.Contains(t, err.Error(), s)
	}
}

func TestKVStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	prefs := preferences.NewKVStore(st)

	got, err := prefs.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, preferences.Default("u1"), got)

	custom := preferences.Default("u1")
	custom.DigestMode = preferences.DigestDaily
	custom.MinPriority = notification.PriorityHigh
	custom.QuietHours = preferences.QuietHours{
		Enabled:  true,
		Timezone: "Europe/Berlin",
		Windows:  []preferences.Window{{Days: []time.Weekday{time.Sunday}, Start: "00:00", End: "00:00"}},
	}
	require.NoError(t, prefs.SetPreferences(ctx, custom))

	got, err = prefs.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, custom, got)

	invalid := custom
	invalid.DigestHour = -1
	assert.ErrorIs(t, prefs.SetPreferences(ctx, invalid), preferences.ErrInvalidPreferences)

	require.NoError(t, prefs.DeletePreferences(ctx, "u1"))
	got, err = prefs.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, preferences.Default("u1"), got)

	_, err = prefs.GetPreferences(ctx, "")
	assert.ErrorIs(t, err, preferences.ErrUserIDRequired)
}
