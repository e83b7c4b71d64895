package notification_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

func validPayload() notification.Payload {
	return notification.Payload{
		Title: "Task due",
		Body:  "Finish the report",
		Data: notification.Data{
			Type:     notification.TypeTaskDue,
			EntityID: "task-1",
			Extra:    map[string]string{"project": "alpha"},
		},
		Actions: []notification.Action{{Action: "open", Label: "Open"}},
	}
}

func TestPayload_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(p *notification.Payload)
		wantErr bool
	}{
		{name: "valid", mutate: func(*notification.Payload) {}},
		{name: "missing title", mutate: func(p *notification.Payload) { p.Title = "" }, wantErr: true},
		{name: "title too long", mutate: func(p *notification.Payload) { p.Title = strings.Repeat("a", notification.MaxTitleLength+1) }, wantErr: true},
		{name: "missing type", mutate: func(p *notification.Payload) { p.Data.Type = "" }, wantErr: true},
		{name: "action without label", mutate: func(p *notification.Payload) { p.Actions[0].Label = "" }, wantErr: true},
		{
			name: "too many actions",
			mutate: func(p *notification.Payload) {
				for range notification.MaxActions {
					p.Actions = append(p.Actions, notification.Action{Action: "x", Label: "x"})
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validPayload()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, notification.ErrInvalidPayload)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPayload_WithHelpersDoNotMutate(t *testing.T) {
	t.Parallel()

	orig := validPayload()
	tagged := orig.WithTag("t1").WithRequireInteraction(true).WithExtra("k", "v")

	assert.Empty(t, orig.Tag)
	assert.False(t, orig.RequireInteraction)
	assert.NotContains(t, orig.Data.Extra, "k")

	assert.Equal(t, "t1", tagged.Tag)
	assert.True(t, tagged.RequireInteraction)
	assert.Equal(t, "v", tagged.Data.Extra["k"])
	assert.Equal(t, notification.TypeTaskDue, tagged.Type())
}

func TestPriority(t *testing.T) {
	t.Parallel()

	t.Run("ordering", func(t *testing.T) {
		t.Parallel()
		assert.Greater(t, notification.PriorityCritical, notification.PriorityHigh)
		assert.Greater(t, notification.PriorityHigh, notification.PriorityNormal)
		assert.Greater(t, notification.PriorityNormal, notification.PriorityLow)
	})

	t.Run("parse", func(t *testing.T) {
		t.Parallel()
		p, err := notification.ParsePriority("CRITICAL")
		require.NoError(t, err)
		assert.Equal(t, notification.PriorityCritical, p)

		_, err = notification.ParsePriority("urgent")
		assert.ErrorIs(t, err, notification.ErrInvalidPayload)
	})

	t.Run("json round trip as text", func(t *testing.T) {
		t.Parallel()
		var v struct {
			P notification.Priority `json:"p"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"p":"high"}`), &v))
		assert.Equal(t, notification.PriorityHigh, v.P)

		out, err := json.Marshal(v)
		require.NoError(t, err)
		assert.JSONEq(t, `{"p":"high"}`, string(out))
	})
}
