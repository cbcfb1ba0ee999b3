package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/reconcile"
	"github.com/da8ter/todosync/internal/recur"
)

// runPass executes one full reconciliation pass for a backend. Auth and
// transport failures abort the pass before anything is persisted;
// individual upload failures only log and leave the item queued for the
// next pass.
func (c *Coordinator) runPass(ctx context.Context, e entry) (Result, error) {
	b := e.adapter.Type()
	res := Result{Backend: b}
	now := time.Now().Unix()

	c.setState(b, StateLocked)

	if err := c.checkCollection(ctx, b); err != nil {
		return res, err
	}

	queue, err := c.loadDeleteQueue(ctx)
	if err != nil {
		return res, err
	}
	// The fetch below may still return just-deleted items, so the merge
	// filters against the pre-drain pending set.
	pending := queue.Map(b)

	deleted, err := c.drainDeletes(ctx, e.adapter, queue)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}

	c.setState(b, StateFetching)
	snapshot, err := e.adapter.Fetch(ctx)
	if err != nil {
		return res, fmt.Errorf("fetching %s snapshot: %w", b, err)
	}

	items, err := c.store.Items(ctx)
	if err != nil {
		return res, err
	}

	// Reserve ids for the worst case of every snapshot entry being
	// adopted. Unused ids stay unallocated; the counter only moves
	// forward.
	reserve := int64(len(snapshot))
	if reserve < 1 {
		reserve = 1
	}
	nextID, err := c.store.NextID(ctx, reserve)
	if err != nil {
		return res, err
	}

	c.setState(b, StateMerging)
	merged := reconcile.Merge(items, snapshot, reconcile.Input{
		Backend:           b,
		Policy:            e.policy,
		Now:               now,
		PendingDeletes:    pending,
		NextID:            nextID,
		DefaultNotifyLead: c.cfg.NotificationLeadTime,
	})
	res.Adopted = len(merged.Items) - len(items)
	if res.Adopted < 0 {
		res.Adopted = 0
	}

	c.setState(b, StateUploading)
	for _, up := range merged.Uploads {
		result, err := e.adapter.Upload(ctx, up)
		if err != nil {
			if backend.IsAuthError(err) {
				return res, err
			}
			c.log.Warn("upload failed, will retry next pass",
				"backend", b, "item", up.ID, "error", err)
			continue
		}
		reconcile.ApplyUpload(merged.Items, up.ID, b, result, now)
		res.Uploaded++
	}

	if c.cfg.DeleteCompletedTasks {
		merged.Items, err = c.dropCompleted(ctx, merged.Items)
		if err != nil {
			return res, err
		}
	}

	c.setState(b, StatePersisting)
	if err := c.store.SavePass(ctx, b, merged.Items, now); err != nil {
		return res, err
	}

	if stats, err := c.store.Stats(ctx); err == nil {
		res.Stats = stats
	}
	return res, nil
}

// checkCollection clears the local list when the configured remote
// collection changed since the last pass, so the next merge rebuilds it
// from the new collection instead of cross-breeding two lists.
func (c *Coordinator) checkCollection(ctx context.Context, b model.Backend) error {
	want := c.cfg.CollectionFor(b)
	if want == "" {
		return nil
	}

	active, err := c.store.ActiveCollection(ctx, b)
	if err != nil {
		return err
	}
	if active != "" && active != want {
		c.log.Info("remote collection changed, rebuilding local list",
			"backend", b, "previous", active, "current", want)
		if err := c.store.ClearItems(ctx, b); err != nil {
			return err
		}
	}
	if active != want {
		return c.store.SetActiveCollection(ctx, b, want)
	}
	return nil
}

func (c *Coordinator) loadDeleteQueue(ctx context.Context) (*reconcile.Queue, error) {
	entries, err := c.store.PendingDeletes(ctx)
	if err != nil {
		return nil, err
	}
	q := reconcile.NewQueue()
	q.Load(entries)
	return q, nil
}

// drainDeletes pushes the backend's owed deletions to the server before
// the fetch, so deleted items cannot be re-adopted from the snapshot.
func (c *Coordinator) drainDeletes(ctx context.Context, a backend.Adapter, q *reconcile.Queue) (int, error) {
	b := a.Type()
	deleted := 0

	for _, e := range q.Snapshot(b) {
		ref := model.SyncRef{ID: model.ConfirmedID(e.RemoteID), Locator: e.Locator}
		gone, err := a.Delete(ctx, ref)
		if err != nil {
			if backend.IsAuthError(err) {
				return deleted, err
			}
			c.log.Warn("remote delete failed, will retry next pass",
				"backend", b, "remote_id", e.RemoteID, "error", err)
			continue
		}
		if !gone {
			continue
		}
		if err := c.store.RemovePendingDelete(ctx, b, e.RemoteID); err != nil {
			return deleted, err
		}
		q.Remove(b, e.RemoteID)
		deleted++
	}
	return deleted, nil
}

// dropCompleted removes completed non-recurring items from the merged
// list and queues their remote copies for deletion.
func (c *Coordinator) dropCompleted(ctx context.Context, items []model.Item) ([]model.Item, error) {
	kept := items[:0]
	for _, it := range items {
		if !it.Done || it.Recurrence != model.RecurNone {
			kept = append(kept, it)
			continue
		}
		for _, b := range model.Backends {
			ref := it.Ref(b)
			if !ref.Confirmed() {
				continue
			}
			e := reconcile.DeleteEntry{Backend: b, RemoteID: ref.ID.Server(), Locator: ref.Locator}
			if err := c.store.AddPendingDelete(ctx, e); err != nil {
				return nil, err
			}
		}
	}
	return kept, nil
}

// runHousekeeping periodically reopens recurring items whose window has
// arrived and surfaces due notifications.
func (c *Coordinator) runHousekeeping() {
	ticker := time.NewTicker(housekeepingTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.housekeepingPass()
		}
	}
}

// housekeepingPass runs only while holding every backend pass lock, so
// its read-modify-write cannot interleave with a sync pass's. A
// contended lock skips the tick; the next one retries.
func (c *Coordinator) housekeepingPass() {
	var held []*gosync.Mutex
	for _, l := range c.backendLocks() {
		if !l.TryLock() {
			for _, h := range held {
				h.Unlock()
			}
			return
		}
		held = append(held, l)
	}
	defer func() {
		for _, h := range held {
			h.Unlock()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	items, err := c.store.Items(ctx)
	if err != nil {
		c.log.Error("housekeeping pass failed", "error", err)
		return
	}

	now := time.Now().Unix()
	changed := recur.ReopenPass(items, now)

	notes := recur.DueNotifications(items, now, c.cfg.NotificationLeadTime)
	if len(notes) > 0 {
		trigger := make(map[int64]int64, len(notes))
		for _, n := range notes {
			trigger[n.ItemID] = n.Trigger
		}
		for i := range items {
			if t, ok := trigger[items[i].ID]; ok {
				items[i].NotifiedFor = t
				changed = true
			}
		}
	}

	if changed {
		if err := c.store.ReplaceItems(ctx, items); err != nil {
			c.log.Error("persisting housekeeping changes failed", "error", err)
			return
		}
		c.NotifyChange()
	}

	if len(notes) > 0 && c.listener != nil {
		c.listener.NotificationsDue(notes)
	}
}
