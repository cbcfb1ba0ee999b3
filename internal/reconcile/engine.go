// Package reconcile implements the backend-agnostic three-way merge
// between the local item list and a freshly fetched remote snapshot,
// plus the pending-delete work queue. Everything here is pure; all I/O
// stays in the adapters and the coordinator.
package reconcile

import (
	"time"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
)

// Input carries the per-pass parameters of a merge.
type Input struct {
	Backend model.Backend
	Policy  model.ConflictPolicy
	// Now is the pass timestamp stamped into adopted items.
	Now int64
	// PendingDeletes maps remote ids awaiting deletion to their
	// locators. Snapshot entries in this set are never adopted.
	PendingDeletes map[string]string
	// NextID is the first free local item id for adopted remote items.
	NextID int64
	// DefaultNotifyLead seeds the lead time of adopted items.
	DefaultNotifyLead int
}

// Result is the outcome of a merge.
type Result struct {
	// Items is the merged local list, in original order with adopted
	// remote items appended.
	Items []model.Item
	// Uploads are the items that must be pushed to the remote, with
	// placeholder ids already assigned where needed.
	Uploads []model.Item
	// NextID is the first local id still unallocated after the merge.
	NextID int64
}

// Merge reconciles the local items with the remote snapshot. It never
// mutates its inputs; the result holds copies.
//
// For every local item with a confirmed remote id the four-case matrix
// applies: unchanged items are kept, one-sided changes propagate, and
// two-sided changes are decided by the conflict policy. Items whose
// remote counterpart disappeared are dropped unless the policy is
// local_wins and the item changed locally, in which case they are
// re-queued for upload under a fresh placeholder. Items that never
// round-tripped get a placeholder and are queued. Snapshot entries
// matching no local item and not awaiting deletion become new local
// items.
func Merge(items []model.Item, snapshot []backend.RemoteItem, in Input) Result {
	res := Result{NextID: in.NextID}

	serverByID := make(map[string]backend.RemoteItem, len(snapshot))
	for _, r := range snapshot {
		if r.ID != "" {
			serverByID[r.ID] = r
		}
	}

	matched := make(map[string]bool, len(items))

	for _, it := range items {
		ref := it.Ref(in.Backend)

		switch ref.ID.Kind() {
		case model.RemoteUnassigned:
			ref.ID = model.PlaceholderID(it.ID)
			it.LocalModified = in.Now
			res.Uploads = append(res.Uploads, it)
			res.Items = append(res.Items, it)
			continue

		case model.RemotePlaceholder:
			// Assigned in an earlier pass that crashed before the upload
			// confirmed; retry.
			res.Uploads = append(res.Uploads, it)
			res.Items = append(res.Items, it)
			continue
		}

		id := ref.ID.Server()
		server, ok := serverByID[id]
		if !ok {
			if ref.SyncedAt == 0 {
				// Carried a confirmed id but never reconciled; push it.
				res.Uploads = append(res.Uploads, it)
				res.Items = append(res.Items, it)
				continue
			}

			// Deleted upstream.
			if in.Policy == model.LocalWins && it.LocalModified > ref.SyncedAt {
				ref.ID = model.PlaceholderID(it.ID)
				ref.Etag = ""
				ref.Locator = ""
				it.LocalModified = in.Now
				res.Uploads = append(res.Uploads, it)
				res.Items = append(res.Items, it)
			}
			continue
		}

		matched[id] = true
		if server.Locator != "" {
			ref.Locator = server.Locator
		}

		localChanged := it.LocalModified > ref.SyncedAt
		remoteChanged := server.Modified > ref.SyncedAt
		if server.ChangeByEtag {
			remoteChanged = server.Etag != ref.Etag
		}

		switch {
		case localChanged && remoteChanged:
			if localWins(in.Policy, it.LocalModified, server.Modified) {
				res.Uploads = append(res.Uploads, it)
			} else {
				applyRemote(&it, server, in.Backend, in.Now)
			}
		case localChanged:
			res.Uploads = append(res.Uploads, it)
		case remoteChanged:
			applyRemote(&it, server, in.Backend, in.Now)
		}
		res.Items = append(res.Items, it)
	}

	for _, server := range snapshot {
		if server.ID == "" || matched[server.ID] {
			continue
		}
		if _, pending := in.PendingDeletes[server.ID]; pending {
			continue
		}
		res.Items = append(res.Items, adopt(server, in, &res.NextID))
	}

	return res
}

// localWins decides a two-sided conflict. newest_wins ties resolve to
// local.
func localWins(policy model.ConflictPolicy, localMod, remoteMod int64) bool {
	switch policy {
	case model.LocalWins:
		return true
	case model.NewestWins:
		return localMod >= remoteMod
	}
	return false
}

// applyRemote overwrites the local fields the backend transports with
// the remote values and stamps the item as reconciled. The local id,
// creation time and fields without a remote equivalent are never
// touched.
func applyRemote(it *model.Item, server backend.RemoteItem, b model.Backend, now int64) {
	f := server.Fields

	if f.Has(backend.FieldTitle) {
		it.Title = server.Title
	}
	if f.Has(backend.FieldInfo) {
		it.Info = server.Info
	}
	if f.Has(backend.FieldDone) {
		it.Done = server.Done
	}
	if f.Has(backend.FieldDoneAt) {
		it.DoneAt = server.DoneAt
	}
	if f.Has(backend.FieldDue) {
		it.Due = MergeDue(it.Due, server.Due, server.DueGranularity)
	}
	if f.Has(backend.FieldPriority) {
		it.Priority = server.Priority
	}
	if f.Has(backend.FieldNotification) {
		it.Notification = server.Notification
		it.NotificationLeadTime = server.NotificationLeadTime
	}
	if f.Has(backend.FieldRecurrence) {
		it.Recurrence = server.Recurrence
		it.RecurrenceCustomUnit = server.RecurrenceCustomUnit
		it.RecurrenceCustomValue = server.RecurrenceCustomValue
	}
	clampNoDue(it)

	ref := it.Ref(b)
	ref.Etag = server.Etag
	if server.Locator != "" {
		ref.Locator = server.Locator
	}
	ref.SyncedAt = now
	it.LocalModified = 0
}

// adopt turns an unmatched snapshot entry into a new local item.
func adopt(server backend.RemoteItem, in Input, nextID *int64) model.Item {
	id := *nextID
	*nextID++

	createdAt := server.CreatedAt
	if createdAt <= 0 {
		createdAt = in.Now
	}

	it := model.Item{
		ID:                    id,
		Title:                 server.Title,
		Info:                  server.Info,
		Done:                  server.Done,
		DoneAt:                server.DoneAt,
		Due:                   server.Due,
		Priority:              model.NormalizePriority(string(server.Priority)),
		NotificationLeadTime:  in.DefaultNotifyLead,
		Recurrence:            model.RecurNone,
		RecurrenceCustomUnit:  model.UnitWeek,
		RecurrenceCustomValue: 1,
		CreatedAt:             createdAt,
		UpdatedAt:             createdAt,
	}

	if server.Fields.Has(backend.FieldNotification) {
		it.Notification = server.Notification
		if server.NotificationLeadTime >= 0 {
			it.NotificationLeadTime = server.NotificationLeadTime
		}
	}
	if server.Fields.Has(backend.FieldRecurrence) {
		it.Recurrence = server.Recurrence
		it.RecurrenceCustomUnit = server.RecurrenceCustomUnit
		it.RecurrenceCustomValue = server.RecurrenceCustomValue
	}

	clampNoDue(&it)

	ref := it.Ref(in.Backend)
	ref.ID = model.ConfirmedID(server.ID)
	ref.Etag = server.Etag
	ref.Locator = server.Locator
	ref.SyncedAt = in.Now

	return it
}

// clampNoDue enforces the schema rule that an item without a due date
// cannot notify, recur or reopen. Backends that do not transport these
// fields would otherwise leave them dangling after a remote due clear.
func clampNoDue(it *model.Item) {
	if it.Due > 0 {
		return
	}
	it.Notification = false
	it.Recurrence = model.RecurNone
	it.RecurrenceResetLeadTime = 0
}

// ApplyUpload writes a confirmed upload result back into the merged
// list. The uploaded item is matched on its local numeric id; matching
// against the post-merge remote id would fail since it did not exist at
// merge time.
func ApplyUpload(items []model.Item, localID int64, b model.Backend, res backend.UploadResult, now int64) bool {
	for i := range items {
		if items[i].ID != localID {
			continue
		}
		ref := items[i].Ref(b)
		ref.ID = model.ConfirmedID(res.ID)
		ref.Etag = res.Etag
		if res.Locator != "" {
			ref.Locator = res.Locator
		}
		ref.SyncedAt = now
		items[i].LocalModified = 0
		return true
	}
	return false
}

// MergeDue merges a remote due timestamp into the local one according
// to the provider's granularity. Date-only providers keep the local
// time of day on the server's date; server-time providers fall back to
// the same rule when the server degraded the time to midnight UTC.
func MergeDue(local, server int64, g backend.DueGranularity) int64 {
	if server == 0 {
		return 0
	}
	if local == 0 {
		return server
	}

	switch g {
	case backend.DueDateOnly:
		return combineDate(server, local)
	case backend.DueServerTime:
		t := time.Unix(server, 0).UTC()
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return combineDate(server, local)
		}
		return server
	}
	return server
}

// combineDate takes the calendar date of dateSrc and the time of day of
// timeSrc, both in local time.
func combineDate(dateSrc, timeSrc int64) int64 {
	d := time.Unix(dateSrc, 0)
	t := time.Unix(timeSrc, 0)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, d.Location()).Unix()
}
