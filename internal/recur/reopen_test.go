package recur_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/recur"
)

func recurring(due int64, lead int) model.Item {
	return model.Item{
		ID:                      1,
		Title:                   "water plants",
		Done:                    true,
		Due:                     due,
		Recurrence:              model.RecurWeekly,
		RecurrenceResetLeadTime: lead,
	}
}

func TestAdvanceOnCompleteMovesDueOneCycle(t *testing.T) {
	now := time.Now().Unix()
	it := model.Item{Due: now + 3600, Recurrence: model.RecurWeekly, NotifiedFor: 42}

	recur.AdvanceOnComplete(&it, now)

	assert.Equal(t, now+3600+604800, it.Due)
	assert.Zero(t, it.NotifiedFor)
}

func TestAdvanceOnCompleteImmediateReopen(t *testing.T) {
	now := time.Now().Unix()
	it := model.Item{
		Done:                    true,
		Due:                     now + 3600,
		Recurrence:              model.RecurWeekly,
		RecurrenceResetLeadTime: -1,
	}

	recur.AdvanceOnComplete(&it, now)
	assert.False(t, it.Done)
}

func TestAdvanceOnCompleteIgnoresNonRecurring(t *testing.T) {
	now := time.Now().Unix()
	it := model.Item{Due: now + 3600, Recurrence: model.RecurNone}

	recur.AdvanceOnComplete(&it, now)
	assert.Equal(t, now+3600, it.Due)
}

func TestReopenPassInsideWindow(t *testing.T) {
	now := time.Now().Unix()
	// Due in 59 minutes with a one-hour reopen window.
	items := []model.Item{recurring(now+3540, 3600)}

	changed := recur.ReopenPass(items, now)

	require.True(t, changed)
	assert.False(t, items[0].Done)
	assert.Zero(t, items[0].NotifiedFor)
}

func TestReopenPassBeforeWindowLeavesItem(t *testing.T) {
	now := time.Now().Unix()
	items := []model.Item{recurring(now+7200, 3600)}

	changed := recur.ReopenPass(items, now)

	assert.False(t, changed)
	assert.True(t, items[0].Done)
}

func TestReopenPassRollsMissedDueForward(t *testing.T) {
	now := time.Now().Unix()
	// The window was missed entirely; the due lies in the past.
	items := []model.Item{recurring(now-86400, 3600)}

	changed := recur.ReopenPass(items, now)

	require.True(t, changed)
	assert.Greater(t, items[0].Due, now)
	// Still done; the next window reopens it.
	assert.True(t, items[0].Done)
}

func TestReopenPassDisabledWindowKeepsDone(t *testing.T) {
	now := time.Now().Unix()
	items := []model.Item{recurring(now+60, 0)}

	changed := recur.ReopenPass(items, now)
	assert.False(t, changed)
	assert.True(t, items[0].Done)
}

func TestDueNotifications(t *testing.T) {
	now := time.Now().Unix()
	items := []model.Item{
		{ID: 1, Title: "fires now", Notification: true, Due: now + 300, NotificationLeadTime: 600},
		{ID: 2, Title: "not yet", Notification: true, Due: now + 7200, NotificationLeadTime: 600},
		{ID: 3, Title: "already notified", Notification: true, Due: now + 300, NotificationLeadTime: 600, NotifiedFor: now + 300 - 600},
		{ID: 4, Title: "done", Notification: true, Done: true, Due: now + 300, NotificationLeadTime: 600},
		{ID: 5, Title: "disabled", Due: now + 300, NotificationLeadTime: 600},
	}

	notes := recur.DueNotifications(items, now, 600)

	require.Len(t, notes, 1)
	assert.Equal(t, int64(1), notes[0].ItemID)
	assert.Equal(t, 600, notes[0].LeadTime)
	assert.Equal(t, now+300-600, notes[0].Trigger)
}
