package notification

// Type identifies the application event a notification was produced for.
type Type string

const (
	TypeTaskDue       Type = "task_due"
	TypeTaskDeadline  Type = "task_deadline"
	TypeHabitReminder Type = "habit_reminder"
	TypeWeeklyReport  Type = "weekly_report"
	TypeProjectUpdate Type = "project_update"
	TypeNoteShared    Type = "note_shared"
	TypeCalendarEvent Type = "calendar_event"
	TypeSystemAlert   Type = "system_alert"
)

// ActionStyle hints how a client renders an action button.
type ActionStyle string

const (
	ActionStylePrimary   ActionStyle = "primary"
	ActionStyleSecondary ActionStyle = "secondary"
	ActionStyleDanger    ActionStyle = "danger"
)

// Action is a user-facing button attached to a notification.
type Action struct {
	Action string      `json:"action"`
	Label  string      `json:"label"`
	URL    string      `json:"url,omitempty"`
	Style  ActionStyle `json:"style,omitempty"`
}

// Data is the structured part of a payload that clients route on.
type Data struct {
	Type     Type              `json:"type"`
	EntityID string            `json:"entity_id,omitempty"`
	URL      string            `json:"url,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}
