package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/reconcile"
	"github.com/da8ter/todosync/internal/store"
	"github.com/da8ter/todosync/tests/testutil"
)

func TestAddItemNormalizesInput(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	due := time.Now().Add(48 * time.Hour).Unix()
	it, err := s.AddItem(ctx, store.NewItem{
		Title:                "  Water plants  ",
		Priority:             "URGENT",
		Quantity:             0,
		Due:                  due,
		Notification:         true,
		NotificationLeadTime: 77,
		Recurrence:           "w1",
	})
	require.NoError(t, err)

	assert.Equal(t, "Water plants", it.Title)
	assert.Equal(t, model.PriorityNormal, it.Priority)
	assert.Equal(t, 1, it.Quantity)
	assert.Equal(t, model.RecurWeekly, it.Recurrence)
	assert.True(t, it.Notification)
	// 77 is not an allowed lead time, falls back to the store default.
	assert.Equal(t, 600, it.NotificationLeadTime)
	assert.Positive(t, it.CreatedAt)
	assert.Equal(t, it.CreatedAt, it.LocalModified)
}

func TestAddItemWithoutDueCannotRecurOrNotify(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	it, err := s.AddItem(ctx, store.NewItem{
		Title:                   "Someday",
		Notification:            true,
		Recurrence:              "m1",
		RecurrenceResetLeadTime: 3600,
	})
	require.NoError(t, err)

	assert.False(t, it.Notification)
	assert.Equal(t, model.RecurNone, it.Recurrence)
	assert.Zero(t, it.RecurrenceResetLeadTime)
}

func TestAddItemRejectsEmptyTitle(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.AddItem(context.Background(), store.NewItem{Title: "   "})
	require.Error(t, err)
}

func TestAddItemAppendsToSortOrder(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, err := s.AddItem(ctx, store.NewItem{Title: "first"})
	require.NoError(t, err)
	second, err := s.AddItem(ctx, store.NewItem{Title: "second"})
	require.NoError(t, err)

	assert.Greater(t, second.SortOrder, first.SortOrder)

	items, err := s.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Title)
	assert.Equal(t, "second", items[1].Title)
}

func TestNextIDNeverReusesDeletedIDs(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	it, err := s.AddItem(ctx, store.NewItem{Title: "ephemeral"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteItem(ctx, it.ID))

	next, err := s.NextID(ctx, 3)
	require.NoError(t, err)
	assert.Greater(t, next, it.ID)

	after, err := s.NextID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, next+3, after)
}

func TestUpdateItemPreservesSyncOverlays(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	it, err := s.AddItem(ctx, store.NewItem{Title: "call dentist"})
	require.NoError(t, err)

	it.Google = model.SyncRef{
		ID:       model.ConfirmedID("g-42"),
		Etag:     "v1",
		SyncedAt: 100,
	}
	require.NoError(t, s.ReplaceItems(ctx, []model.Item{it}))

	it.Title = "call dentist tomorrow"
	updated, err := s.UpdateItem(ctx, it)
	require.NoError(t, err)

	assert.Equal(t, "call dentist tomorrow", updated.Title)
	assert.Equal(t, "g-42", updated.Google.ID.Server())
	assert.Equal(t, "v1", updated.Google.Etag)
	assert.Equal(t, int64(100), updated.Google.SyncedAt)
	assert.Positive(t, updated.LocalModified)
}

func TestUpdateItemResetsNotifiedForOnDueChange(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	due := time.Now().Add(24 * time.Hour).Unix()
	it, err := s.AddItem(ctx, store.NewItem{Title: "meds", Due: due, Notification: true})
	require.NoError(t, err)

	it.NotifiedFor = due - 600
	require.NoError(t, s.ReplaceItems(ctx, []model.Item{it}))

	it.Due = due + 3600
	updated, err := s.UpdateItem(ctx, it)
	require.NoError(t, err)
	assert.Zero(t, updated.NotifiedFor)
}

func TestToggleDoneAdvancesRecurringDue(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	due := time.Now().Add(time.Hour).Unix()
	it, err := s.AddItem(ctx, store.NewItem{Title: "weekly report", Due: due, Recurrence: "w1"})
	require.NoError(t, err)

	done, err := s.ToggleDone(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)
	assert.Positive(t, done.DoneAt)
	assert.Equal(t, due+7*86400, done.Due)

	reopened, err := s.ToggleDone(ctx, it.ID)
	require.NoError(t, err)
	assert.False(t, reopened.Done)
	assert.Zero(t, reopened.DoneAt)
}

func TestDeleteItemQueuesConfirmedRemoteCopies(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	it, err := s.AddItem(ctx, store.NewItem{Title: "obsolete"})
	require.NoError(t, err)

	it.CalDAV = model.SyncRef{ID: model.ConfirmedID("uid-1"), Locator: "/cal/uid-1.ics", SyncedAt: 50}
	it.Google = model.SyncRef{ID: model.PlaceholderID(it.ID)}
	require.NoError(t, s.ReplaceItems(ctx, []model.Item{it}))

	require.NoError(t, s.DeleteItem(ctx, it.ID))

	items, err := s.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	pending, err := s.PendingDeletes(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.BackendCalDAV, pending[0].Backend)
	assert.Equal(t, "uid-1", pending[0].RemoteID)
	assert.Equal(t, "/cal/uid-1.ics", pending[0].Locator)
}

func TestSavePassStampsLastSyncWithItems(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	it, err := s.AddItem(ctx, store.NewItem{Title: "synced"})
	require.NoError(t, err)
	it.Microsoft = model.SyncRef{ID: model.ConfirmedID("ms-7"), Etag: "e1", SyncedAt: 900}

	require.NoError(t, s.SavePass(ctx, model.BackendMicrosoft, []model.Item{it}, 900))

	ts, err := s.LastSync(ctx, model.BackendMicrosoft)
	require.NoError(t, err)
	assert.Equal(t, int64(900), ts)

	items, err := s.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ms-7", items[0].Microsoft.ID.Server())
	assert.Equal(t, model.RemoteUnassigned, items[0].CalDAV.ID.Kind())
}

func TestPendingDeleteRoundtrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	e := reconcile.DeleteEntry{Backend: model.BackendGoogle, RemoteID: "g-9"}
	require.NoError(t, s.AddPendingDelete(ctx, e))
	// Re-adding the same entry is idempotent.
	require.NoError(t, s.AddPendingDelete(ctx, e))

	pending, err := s.PendingDeletes(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, s.RemovePendingDelete(ctx, model.BackendGoogle, "g-9"))
	pending, err = s.PendingDeletes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestResetSyncClearsOnlyOneBackend(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	it, err := s.AddItem(ctx, store.NewItem{Title: "dual-homed"})
	require.NoError(t, err)
	it.Google = model.SyncRef{ID: model.ConfirmedID("g-1"), Etag: "ge", SyncedAt: 10}
	it.CalDAV = model.SyncRef{ID: model.ConfirmedID("c-1"), Etag: "ce", SyncedAt: 20}
	require.NoError(t, s.SavePass(ctx, model.BackendGoogle, []model.Item{it}, 10))
	require.NoError(t, s.AddPendingDelete(ctx, reconcile.DeleteEntry{Backend: model.BackendGoogle, RemoteID: "g-old"}))

	require.NoError(t, s.ResetSync(ctx, model.BackendGoogle))

	items, err := s.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Google.ID.IsZero())
	assert.Zero(t, items[0].Google.SyncedAt)
	assert.Equal(t, "c-1", items[0].CalDAV.ID.Server())

	pending, err := s.PendingDeletes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	ts, err := s.LastSync(ctx, model.BackendGoogle)
	require.NoError(t, err)
	assert.Zero(t, ts)
}

func TestActiveCollectionRoundtrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	c, err := s.ActiveCollection(ctx, model.BackendCalDAV)
	require.NoError(t, err)
	assert.Empty(t, c)

	require.NoError(t, s.SetActiveCollection(ctx, model.BackendCalDAV, "https://dav.example.com/cal/"))
	c, err = s.ActiveCollection(ctx, model.BackendCalDAV)
	require.NoError(t, err)
	assert.Equal(t, "https://dav.example.com/cal/", c)
}

func TestClearItemsDropsListAndSyncState(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	it, err := s.AddItem(ctx, store.NewItem{Title: "old list"})
	require.NoError(t, err)
	require.NoError(t, s.SavePass(ctx, model.BackendGoogle, []model.Item{it}, 500))

	require.NoError(t, s.ClearItems(ctx, model.BackendGoogle))

	items, err := s.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	ts, err := s.LastSync(ctx, model.BackendGoogle)
	require.NoError(t, err)
	assert.Zero(t, ts)
}

func TestRemoteOptionsSortedTodoFirst(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	opts := []model.RemoteOption{
		{Backend: model.BackendCalDAV, Value: "a", Label: "Events", SupportsTodo: false},
		{Backend: model.BackendCalDAV, Value: "b", Label: "Reminders", SupportsTodo: true},
	}
	require.NoError(t, s.ReplaceRemoteOptions(ctx, model.BackendCalDAV, opts))

	got, err := s.RemoteOptions(ctx, model.BackendCalDAV)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Reminders", got[0].Label)
	assert.True(t, got[0].SupportsTodo)
}

func TestReorderMovesItem(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	a, err := s.AddItem(ctx, store.NewItem{Title: "a"})
	require.NoError(t, err)
	_, err = s.AddItem(ctx, store.NewItem{Title: "b"})
	require.NoError(t, err)

	require.NoError(t, s.Reorder(ctx, a.ID, 99))

	items, err := s.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].Title)
	assert.Equal(t, "a", items[1].Title)
	// Sort order is not a transported field.
	assert.Equal(t, a.LocalModified, items[1].LocalModified)
}

func TestStatsCountsOpenOverdueAndDueToday(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	now := time.Now()
	_, err := s.AddItem(ctx, store.NewItem{Title: "overdue", Due: now.Add(-48 * time.Hour).Unix()})
	require.NoError(t, err)
	_, err = s.AddItem(ctx, store.NewItem{Title: "today", Due: now.Unix()})
	require.NoError(t, err)
	_, err = s.AddItem(ctx, store.NewItem{Title: "later", Due: now.Add(72 * time.Hour).Unix()})
	require.NoError(t, err)
	done, err := s.AddItem(ctx, store.NewItem{Title: "done"})
	require.NoError(t, err)
	_, err = s.ToggleDone(ctx, done.ID)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Open)
	assert.Equal(t, 1, stats.Overdue)
	assert.Equal(t, 1, stats.DueToday)
}

func TestMissingItemErrors(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.ToggleDone(ctx, 404)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.DeleteItem(ctx, 404)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.Reorder(ctx, 404, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
