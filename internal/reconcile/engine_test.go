package reconcile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/reconcile"
)

const passNow = int64(1_000_000)

func baseInput() reconcile.Input {
	return reconcile.Input{
		Backend:           model.BackendGoogle,
		Policy:            model.ServerWins,
		Now:               passNow,
		NextID:            100,
		DefaultNotifyLead: 600,
	}
}

func localItem(id int64, title string) model.Item {
	return model.Item{
		ID:        id,
		Title:     title,
		Priority:  model.PriorityNormal,
		CreatedAt: 1,
		UpdatedAt: 1,
	}
}

func syncedItem(id int64, title, remoteID string, syncedAt int64) model.Item {
	it := localItem(id, title)
	it.Google = model.SyncRef{ID: model.ConfirmedID(remoteID), Etag: "e0", SyncedAt: syncedAt}
	return it
}

func remote(id, title string, modified int64) backend.RemoteItem {
	return backend.RemoteItem{
		ID:       id,
		Etag:     "e0",
		Title:    title,
		Modified: modified,
		Fields:   backend.FieldTitle | backend.FieldInfo | backend.FieldDone | backend.FieldDue,
	}
}

func TestMergeAssignsPlaceholderToNewLocalItem(t *testing.T) {
	res := reconcile.Merge([]model.Item{localItem(7, "new")}, nil, baseInput())

	require.Len(t, res.Uploads, 1)
	require.Len(t, res.Items, 1)
	assert.Equal(t, model.RemotePlaceholder, res.Items[0].Google.ID.Kind())
	assert.Equal(t, int64(7), res.Items[0].Google.ID.LocalID())
	assert.Equal(t, passNow, res.Items[0].LocalModified)
}

func TestMergeRetriesExistingPlaceholder(t *testing.T) {
	it := localItem(3, "crashed upload")
	it.Google.ID = model.PlaceholderID(3)

	res := reconcile.Merge([]model.Item{it}, nil, baseInput())

	require.Len(t, res.Uploads, 1)
	assert.Equal(t, model.RemotePlaceholder, res.Uploads[0].Google.ID.Kind())
}

func TestMergeUnchangedBothSidesKeepsItem(t *testing.T) {
	it := syncedItem(1, "stable", "r1", 500)
	res := reconcile.Merge([]model.Item{it}, []backend.RemoteItem{remote("r1", "stable", 400)}, baseInput())

	assert.Empty(t, res.Uploads)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "stable", res.Items[0].Title)
	// No change on either side leaves the sync stamp alone.
	assert.Equal(t, int64(500), res.Items[0].Google.SyncedAt)
}

func TestMergeLocalOnlyChangeUploads(t *testing.T) {
	it := syncedItem(1, "edited locally", "r1", 500)
	it.LocalModified = 600

	res := reconcile.Merge([]model.Item{it}, []backend.RemoteItem{remote("r1", "old title", 400)}, baseInput())

	require.Len(t, res.Uploads, 1)
	assert.Equal(t, "edited locally", res.Items[0].Title)
}

func TestMergeRemoteOnlyChangeApplies(t *testing.T) {
	it := syncedItem(1, "old", "r1", 500)

	res := reconcile.Merge([]model.Item{it}, []backend.RemoteItem{remote("r1", "renamed remotely", 700)}, baseInput())

	assert.Empty(t, res.Uploads)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "renamed remotely", res.Items[0].Title)
	assert.Equal(t, passNow, res.Items[0].Google.SyncedAt)
	assert.Zero(t, res.Items[0].LocalModified)
}

func TestMergeConflictServerWins(t *testing.T) {
	it := syncedItem(1, "local edit", "r1", 500)
	it.LocalModified = 800

	res := reconcile.Merge([]model.Item{it}, []backend.RemoteItem{remote("r1", "remote edit", 700)}, baseInput())

	assert.Empty(t, res.Uploads)
	assert.Equal(t, "remote edit", res.Items[0].Title)
}

func TestMergeConflictLocalWins(t *testing.T) {
	it := syncedItem(1, "local edit", "r1", 500)
	it.LocalModified = 600

	in := baseInput()
	in.Policy = model.LocalWins
	res := reconcile.Merge([]model.Item{it}, []backend.RemoteItem{remote("r1", "remote edit", 700)}, in)

	require.Len(t, res.Uploads, 1)
	assert.Equal(t, "local edit", res.Items[0].Title)
}

func TestMergeConflictNewestWinsTieGoesLocal(t *testing.T) {
	in := baseInput()
	in.Policy = model.NewestWins

	it := syncedItem(1, "local edit", "r1", 500)
	it.LocalModified = 700
	res := reconcile.Merge([]model.Item{it}, []backend.RemoteItem{remote("r1", "remote edit", 700)}, in)
	require.Len(t, res.Uploads, 1)
	assert.Equal(t, "local edit", res.Items[0].Title)

	it = syncedItem(1, "local edit", "r1", 500)
	it.LocalModified = 600
	res = reconcile.Merge([]model.Item{it}, []backend.RemoteItem{remote("r1", "remote edit", 700)}, in)
	assert.Empty(t, res.Uploads)
	assert.Equal(t, "remote edit", res.Items[0].Title)
}

func TestMergeEtagChangeDetection(t *testing.T) {
	it := syncedItem(1, "old", "uid1", 500)

	server := remote("uid1", "changed on server", 0)
	server.ChangeByEtag = true
	server.Etag = "e1"

	res := reconcile.Merge([]model.Item{it}, []backend.RemoteItem{server}, baseInput())
	assert.Equal(t, "changed on server", res.Items[0].Title)
	assert.Equal(t, "e1", res.Items[0].Google.Etag)

	// Same etag means unchanged regardless of timestamps.
	it = syncedItem(1, "old", "uid1", 500)
	server.Etag = "e0"
	res = reconcile.Merge([]model.Item{it}, []backend.RemoteItem{server}, baseInput())
	assert.Equal(t, "old", res.Items[0].Title)
}

func TestMergeDeletedUpstreamDropsSyncedItem(t *testing.T) {
	it := syncedItem(1, "gone remotely", "r1", 500)

	res := reconcile.Merge([]model.Item{it}, nil, baseInput())

	assert.Empty(t, res.Items)
	assert.Empty(t, res.Uploads)
}

func TestMergeDeletedUpstreamLocalWinsResurrects(t *testing.T) {
	it := syncedItem(1, "edited after remote delete", "r1", 500)
	it.Google.Locator = "/old/path"
	it.LocalModified = 600

	in := baseInput()
	in.Policy = model.LocalWins
	res := reconcile.Merge([]model.Item{it}, nil, in)

	require.Len(t, res.Uploads, 1)
	require.Len(t, res.Items, 1)
	ref := res.Items[0].Google
	assert.Equal(t, model.RemotePlaceholder, ref.ID.Kind())
	assert.Empty(t, ref.Etag)
	assert.Empty(t, ref.Locator)
}

func TestMergeConfirmedButNeverSyncedReuploads(t *testing.T) {
	it := localItem(1, "imported ref")
	it.Google.ID = model.ConfirmedID("r-import")

	res := reconcile.Merge([]model.Item{it}, nil, baseInput())

	require.Len(t, res.Uploads, 1)
	require.Len(t, res.Items, 1)
}

func TestMergeAdoptsUnmatchedRemote(t *testing.T) {
	server := remote("r-new", "created elsewhere", 900)
	res := reconcile.Merge(nil, []backend.RemoteItem{server}, baseInput())

	require.Len(t, res.Items, 1)
	it := res.Items[0]
	assert.Equal(t, int64(100), it.ID)
	assert.Equal(t, int64(101), res.NextID)
	assert.Equal(t, "created elsewhere", it.Title)
	assert.Equal(t, "r-new", it.Google.ID.Server())
	assert.Equal(t, passNow, it.Google.SyncedAt)
	assert.Equal(t, 600, it.NotificationLeadTime)
	assert.Equal(t, model.RecurNone, it.Recurrence)
	assert.Equal(t, model.UnitWeek, it.RecurrenceCustomUnit)
}

func TestMergeSkipsPendingDeleteOnAdoption(t *testing.T) {
	in := baseInput()
	in.PendingDeletes = map[string]string{"r-dying": ""}

	res := reconcile.Merge(nil, []backend.RemoteItem{remote("r-dying", "zombie", 900)}, in)
	assert.Empty(t, res.Items)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	it := syncedItem(1, "old", "r1", 500)
	items := []model.Item{it}

	reconcile.Merge(items, []backend.RemoteItem{remote("r1", "new", 700)}, baseInput())
	assert.Equal(t, "old", items[0].Title)
}

func TestApplyUploadConfirmsPlaceholder(t *testing.T) {
	it := localItem(5, "uploaded")
	it.Google.ID = model.PlaceholderID(5)
	items := []model.Item{it}

	ok := reconcile.ApplyUpload(items, 5, model.BackendGoogle, backend.UploadResult{
		ID: "r-5", Etag: "e9", Locator: "/cal/r-5.ics",
	}, passNow)

	require.True(t, ok)
	assert.Equal(t, "r-5", items[0].Google.ID.Server())
	assert.Equal(t, "e9", items[0].Google.Etag)
	assert.Equal(t, "/cal/r-5.ics", items[0].Google.Locator)
	assert.Equal(t, passNow, items[0].Google.SyncedAt)
	assert.Zero(t, items[0].LocalModified)

	assert.False(t, reconcile.ApplyUpload(items, 99, model.BackendGoogle, backend.UploadResult{}, passNow))
}

func TestMergeDueDateOnlyKeepsLocalTimeOfDay(t *testing.T) {
	local := time.Date(2026, 3, 10, 14, 30, 0, 0, time.Local).Unix()
	server := time.Date(2026, 3, 12, 0, 0, 0, 0, time.Local).Unix()

	got := reconcile.MergeDue(local, server, backend.DueDateOnly)
	want := time.Date(2026, 3, 12, 14, 30, 0, 0, time.Local).Unix()
	assert.Equal(t, want, got)
}

func TestMergeDueServerTimeMidnightUTCFallsBack(t *testing.T) {
	local := time.Date(2026, 3, 10, 9, 15, 0, 0, time.Local).Unix()
	midnight := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC).Unix()

	got := reconcile.MergeDue(local, midnight, backend.DueServerTime)
	d := time.Unix(midnight, 0)
	want := time.Date(d.Year(), d.Month(), d.Day(), 9, 15, 0, 0, d.Location()).Unix()
	assert.Equal(t, want, got)

	// A real time of day is taken verbatim.
	exact := time.Date(2026, 3, 12, 16, 45, 0, 0, time.UTC).Unix()
	assert.Equal(t, exact, reconcile.MergeDue(local, exact, backend.DueServerTime))
}

func TestMergeDueZeroes(t *testing.T) {
	assert.Zero(t, reconcile.MergeDue(123, 0, backend.DueExact))
	assert.Equal(t, int64(456), reconcile.MergeDue(0, 456, backend.DueDateOnly))
}

func TestQueueIgnoresPlaceholders(t *testing.T) {
	q := reconcile.NewQueue()
	q.Add(model.BackendCalDAV, model.PlaceholderID(3), "")
	q.Add(model.BackendCalDAV, model.ConfirmedID("uid-1"), "/c/uid-1.ics")

	assert.False(t, q.Contains(model.BackendCalDAV, "pending:3"))
	assert.True(t, q.Contains(model.BackendCalDAV, "uid-1"))
	assert.Len(t, q.Snapshot(model.BackendCalDAV), 1)
	assert.Equal(t, map[string]string{"uid-1": "/c/uid-1.ics"}, q.Map(model.BackendCalDAV))

	q.Remove(model.BackendCalDAV, "uid-1")
	assert.Empty(t, q.All())
}

func TestMergeRemoteDueClearDisablesScheduling(t *testing.T) {
	it := syncedItem(1, "water plants", "r1", 500)
	it.Due = 2000
	it.Notification = true
	it.NotificationLeadTime = 600
	it.Recurrence = model.RecurWeekly
	it.RecurrenceCustomUnit = model.UnitWeek
	it.RecurrenceCustomValue = 1
	it.RecurrenceResetLeadTime = 604800

	// Etag moved and the schedule is gone; the provider transports no
	// recurrence or notification fields of its own.
	srv := remote("r1", "water plants", 400)
	srv.Etag = "e1"
	srv.ChangeByEtag = true

	res := reconcile.Merge([]model.Item{it}, []backend.RemoteItem{srv}, baseInput())

	require.Len(t, res.Items, 1)
	got := res.Items[0]
	assert.Zero(t, got.Due)
	assert.False(t, got.Notification)
	assert.Equal(t, model.RecurNone, got.Recurrence)
	assert.Zero(t, got.RecurrenceResetLeadTime)
	assert.Equal(t, passNow, got.Google.SyncedAt)
}

func TestMergeAdoptionClampsDuelessScheduling(t *testing.T) {
	srv := backend.RemoteItem{
		ID:           "m1",
		Title:        "imported without schedule",
		Fields:       backend.FieldTitle | backend.FieldDue | backend.FieldNotification | backend.FieldRecurrence,
		Notification: true,
		Recurrence:   model.RecurWeekly,
	}

	res := reconcile.Merge(nil, []backend.RemoteItem{srv}, baseInput())

	require.Len(t, res.Items, 1)
	assert.False(t, res.Items[0].Notification)
	assert.Equal(t, model.RecurNone, res.Items[0].Recurrence)
}
