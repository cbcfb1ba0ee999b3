package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/recur"
	"github.com/da8ter/todosync/internal/reconcile"
)

// ErrNotFound is returned when an item id does not exist.
var ErrNotFound = errors.New("item not found")

const updateItemSQL = `
	UPDATE items SET
		title = :title, info = :info, done = :done, done_at = :done_at,
		due = :due, priority = :priority, quantity = :quantity,
		notification = :notification,
		notification_lead_time = :notification_lead_time,
		notified_for = :notified_for,
		recurrence = :recurrence,
		recurrence_custom_unit = :recurrence_custom_unit,
		recurrence_custom_value = :recurrence_custom_value,
		recurrence_reset_lead_time = :recurrence_reset_lead_time,
		sort_order = :sort_order,
		updated_at = :updated_at, local_modified = :local_modified,
		caldav_id = :caldav_id, caldav_etag = :caldav_etag,
		caldav_locator = :caldav_locator, caldav_synced = :caldav_synced,
		google_id = :google_id, google_etag = :google_etag,
		google_locator = :google_locator, google_synced = :google_synced,
		microsoft_id = :microsoft_id, microsoft_etag = :microsoft_etag,
		microsoft_locator = :microsoft_locator, microsoft_synced = :microsoft_synced
	WHERE id = :id`

func (s *SQLiteStore) getItem(ctx context.Context, id int64) (model.Item, error) {
	var row itemRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM items WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("loading item %d: %w", id, err)
	}
	return fromRow(row), nil
}

func (s *SQLiteStore) saveItem(ctx context.Context, it model.Item) error {
	res, err := s.db.NamedExecContext(ctx, updateItemSQL, toRow(it))
	if err != nil {
		return fmt.Errorf("updating item %d: %w", it.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("item %d: %w", it.ID, ErrNotFound)
	}
	return nil
}

// normalize applies the validation cascade on the mutable item fields.
// Items without a due date cannot notify or recur.
func (s *SQLiteStore) normalize(it *model.Item) {
	it.Title = strings.TrimSpace(it.Title)
	it.Priority = model.NormalizePriority(string(it.Priority))
	if it.Quantity < 1 {
		it.Quantity = 1
	}

	if it.Due <= 0 {
		it.Due = 0
		it.Notification = false
		it.Recurrence = model.RecurNone
		it.RecurrenceResetLeadTime = 0
	}

	it.Recurrence = recur.Normalize(string(it.Recurrence), it.Due)
	it.RecurrenceCustomUnit = recur.NormalizeUnit(string(it.RecurrenceCustomUnit))
	it.RecurrenceCustomValue = recur.NormalizeCustomValue(it.RecurrenceCustomValue)

	lead := recur.NormalizeResetLeadTime(it.RecurrenceResetLeadTime, it.Recurrence)
	interval := recur.IntervalSeconds(it.Due, it.Recurrence, it.RecurrenceCustomUnit, it.RecurrenceCustomValue)
	it.RecurrenceResetLeadTime = recur.ClampLeadTimeToInterval(lead, interval, recur.ReopenLeadTimes)

	it.NotificationLeadTime = recur.NormalizeNotifyLeadTime(it.NotificationLeadTime, s.defaultLead)
}

// AddItem validates and stores a new item at the end of the list.
func (s *SQLiteStore) AddItem(ctx context.Context, in NewItem) (model.Item, error) {
	if strings.TrimSpace(in.Title) == "" {
		return model.Item{}, errors.New("title must not be empty")
	}

	now := s.now()
	it := model.Item{
		Title:                   in.Title,
		Info:                    in.Info,
		Due:                     in.Due,
		Priority:                model.Priority(in.Priority),
		Quantity:                in.Quantity,
		Notification:            in.Notification,
		NotificationLeadTime:    in.NotificationLeadTime,
		Recurrence:              model.Recurrence(in.Recurrence),
		RecurrenceCustomUnit:    model.RecurrenceUnit(in.RecurrenceCustomUnit),
		RecurrenceCustomValue:   in.RecurrenceCustomValue,
		RecurrenceResetLeadTime: in.RecurrenceResetLeadTime,
		CreatedAt:               now,
		UpdatedAt:               now,
		LocalModified:           now,
	}
	s.normalize(&it)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Item{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	it.ID, err = nextIDTx(ctx, tx, 1)
	if err != nil {
		return model.Item{}, err
	}

	var maxOrder sql.NullInt64
	if err := tx.GetContext(ctx, &maxOrder, "SELECT MAX(sort_order) FROM items"); err != nil {
		return model.Item{}, fmt.Errorf("reading max sort order: %w", err)
	}
	it.SortOrder = int(maxOrder.Int64) + 1

	if _, err := tx.NamedExecContext(ctx, insertItemSQL, toRow(it)); err != nil {
		return model.Item{}, fmt.Errorf("inserting item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Item{}, fmt.Errorf("committing item: %w", err)
	}
	return it, nil
}

// UpdateItem applies the mutable fields of item onto the stored record.
// Sync overlays, creation time and sort order are preserved.
func (s *SQLiteStore) UpdateItem(ctx context.Context, item model.Item) (model.Item, error) {
	existing, err := s.getItem(ctx, item.ID)
	if err != nil {
		return model.Item{}, err
	}

	updated := existing
	updated.Title = item.Title
	updated.Info = item.Info
	updated.Done = item.Done
	updated.DoneAt = item.DoneAt
	updated.Due = item.Due
	updated.Priority = item.Priority
	updated.Quantity = item.Quantity
	updated.Notification = item.Notification
	updated.NotificationLeadTime = item.NotificationLeadTime
	updated.Recurrence = item.Recurrence
	updated.RecurrenceCustomUnit = item.RecurrenceCustomUnit
	updated.RecurrenceCustomValue = item.RecurrenceCustomValue
	updated.RecurrenceResetLeadTime = item.RecurrenceResetLeadTime
	s.normalize(&updated)

	if strings.TrimSpace(updated.Title) == "" {
		return model.Item{}, errors.New("title must not be empty")
	}

	// A changed due date or notification setup invalidates the delivered
	// notification marker.
	if updated.Due != existing.Due ||
		updated.Notification != existing.Notification ||
		updated.NotificationLeadTime != existing.NotificationLeadTime {
		updated.NotifiedFor = 0
	}

	updated.Touch(s.now())
	if err := s.saveItem(ctx, updated); err != nil {
		return model.Item{}, err
	}
	return updated, nil
}

// ToggleDone flips the completion state. Completing a recurring item
// advances its due date one cycle.
func (s *SQLiteStore) ToggleDone(ctx context.Context, id int64) (model.Item, error) {
	it, err := s.getItem(ctx, id)
	if err != nil {
		return model.Item{}, err
	}

	now := s.now()
	if it.Done {
		it.Done = false
		it.DoneAt = 0
		it.NotifiedFor = 0
	} else {
		it.Done = true
		it.DoneAt = now
		recur.AdvanceOnComplete(&it, now)
	}

	it.Touch(now)
	if err := s.saveItem(ctx, it); err != nil {
		return model.Item{}, err
	}
	return it, nil
}

// DeleteItem removes the item and queues a remote delete for every
// backend holding a confirmed copy, so the next sync pass propagates
// the deletion.
func (s *SQLiteStore) DeleteItem(ctx context.Context, id int64) error {
	it, err := s.getItem(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, b := range model.Backends {
		ref := it.Ref(b)
		if !ref.Confirmed() {
			continue
		}
		e := reconcile.DeleteEntry{Backend: b, RemoteID: ref.ID.Server(), Locator: ref.Locator}
		if err := addPendingDeleteTx(ctx, tx, e); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting item %d: %w", id, err)
	}
	return tx.Commit()
}

func addPendingDeleteTx(ctx context.Context, tx *sqlx.Tx, e reconcile.DeleteEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_deletes (backend, remote_id, locator) VALUES (?, ?, ?)
		ON CONFLICT(backend, remote_id) DO UPDATE SET locator = excluded.locator`,
		string(e.Backend), e.RemoteID, e.Locator,
	)
	if err != nil {
		return fmt.Errorf("queueing delete of %s on %s: %w", e.RemoteID, e.Backend, err)
	}
	return nil
}

// Reorder moves the item to the given sort position. Ordering is a
// local presentation concern and is not transported, so the dirty
// marker stays untouched.
func (s *SQLiteStore) Reorder(ctx context.Context, id int64, sortOrder int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE items SET sort_order = ?, updated_at = ? WHERE id = ?",
		sortOrder, s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("reordering item %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return nil
}
