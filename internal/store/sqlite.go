package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/reconcile"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
	// defaultLead is the configured default notification lead time used
	// when normalizing item input.
	defaultLead int
	now         func() int64
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string, defaultLead int) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		defaultLead: defaultLead,
		now:         func() int64 { return time.Now().Unix() },
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// itemRow flattens the per-backend sync overlays into columns.
type itemRow struct {
	model.Item

	CalDAVID      string `db:"caldav_id"`
	CalDAVEtag    string `db:"caldav_etag"`
	CalDAVLocator string `db:"caldav_locator"`
	CalDAVSynced  int64  `db:"caldav_synced"`

	GoogleID      string `db:"google_id"`
	GoogleEtag    string `db:"google_etag"`
	GoogleLocator string `db:"google_locator"`
	GoogleSynced  int64  `db:"google_synced"`

	MicrosoftID      string `db:"microsoft_id"`
	MicrosoftEtag    string `db:"microsoft_etag"`
	MicrosoftLocator string `db:"microsoft_locator"`
	MicrosoftSynced  int64  `db:"microsoft_synced"`
}

func toRow(it model.Item) itemRow {
	return itemRow{
		Item:             it,
		CalDAVID:         it.CalDAV.ID.String(),
		CalDAVEtag:       it.CalDAV.Etag,
		CalDAVLocator:    it.CalDAV.Locator,
		CalDAVSynced:     it.CalDAV.SyncedAt,
		GoogleID:         it.Google.ID.String(),
		GoogleEtag:       it.Google.Etag,
		GoogleLocator:    it.Google.Locator,
		GoogleSynced:     it.Google.SyncedAt,
		MicrosoftID:      it.Microsoft.ID.String(),
		MicrosoftEtag:    it.Microsoft.Etag,
		MicrosoftLocator: it.Microsoft.Locator,
		MicrosoftSynced:  it.Microsoft.SyncedAt,
	}
}

func fromRow(r itemRow) model.Item {
	it := r.Item
	it.CalDAV = model.SyncRef{
		ID:       model.ParseRemoteID(r.CalDAVID),
		Etag:     r.CalDAVEtag,
		Locator:  r.CalDAVLocator,
		SyncedAt: r.CalDAVSynced,
	}
	it.Google = model.SyncRef{
		ID:       model.ParseRemoteID(r.GoogleID),
		Etag:     r.GoogleEtag,
		Locator:  r.GoogleLocator,
		SyncedAt: r.GoogleSynced,
	}
	it.Microsoft = model.SyncRef{
		ID:       model.ParseRemoteID(r.MicrosoftID),
		Etag:     r.MicrosoftEtag,
		Locator:  r.MicrosoftLocator,
		SyncedAt: r.MicrosoftSynced,
	}
	return it
}

const insertItemSQL = `
	INSERT INTO items (
		id, title, info, done, done_at, due, priority, quantity,
		notification, notification_lead_time, notified_for,
		recurrence, recurrence_custom_unit, recurrence_custom_value,
		recurrence_reset_lead_time, sort_order,
		created_at, updated_at, local_modified,
		caldav_id, caldav_etag, caldav_locator, caldav_synced,
		google_id, google_etag, google_locator, google_synced,
		microsoft_id, microsoft_etag, microsoft_locator, microsoft_synced
	) VALUES (
		:id, :title, :info, :done, :done_at, :due, :priority, :quantity,
		:notification, :notification_lead_time, :notified_for,
		:recurrence, :recurrence_custom_unit, :recurrence_custom_value,
		:recurrence_reset_lead_time, :sort_order,
		:created_at, :updated_at, :local_modified,
		:caldav_id, :caldav_etag, :caldav_locator, :caldav_synced,
		:google_id, :google_etag, :google_locator, :google_synced,
		:microsoft_id, :microsoft_etag, :microsoft_locator, :microsoft_synced
	)`

// Items returns the full item list ordered by sort order then id.
func (s *SQLiteStore) Items(ctx context.Context) ([]model.Item, error) {
	var rows []itemRow
	err := s.db.SelectContext(ctx, &rows, "SELECT * FROM items ORDER BY sort_order, id")
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}

	items := make([]model.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, fromRow(r))
	}
	return items, nil
}

// ReplaceItems replaces the full item list in one transaction.
func (s *SQLiteStore) ReplaceItems(ctx context.Context, items []model.Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := replaceItemsTx(ctx, tx, items); err != nil {
		return err
	}
	return tx.Commit()
}

// SavePass replaces the item list and stamps the backend's last sync in
// the same transaction, so a crash never leaves a stamp without its
// items.
func (s *SQLiteStore) SavePass(ctx context.Context, b model.Backend, items []model.Item, lastSync int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := replaceItemsTx(ctx, tx, items); err != nil {
		return err
	}
	if err := setLastSyncTx(ctx, tx, b, lastSync); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceItemsTx(ctx context.Context, tx *sqlx.Tx, items []model.Item) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return fmt.Errorf("clearing items: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, insertItemSQL)
	if err != nil {
		return fmt.Errorf("preparing item insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, toRow(it)); err != nil {
			return fmt.Errorf("inserting item %d: %w", it.ID, err)
		}
	}
	return nil
}

func setLastSyncTx(ctx context.Context, tx *sqlx.Tx, b model.Backend, ts int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (backend, last_sync) VALUES (?, ?)
		ON CONFLICT(backend) DO UPDATE SET last_sync = excluded.last_sync`,
		string(b), ts,
	)
	if err != nil {
		return fmt.Errorf("stamping last sync for %s: %w", b, err)
	}
	return nil
}

// NextID returns the next free local item id and advances the counter
// by n. The counter never runs backwards, even when items are deleted.
func (s *SQLiteStore) NextID(ctx context.Context, n int64) (int64, error) {
	if n < 1 {
		n = 1
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := nextIDTx(ctx, tx, n)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing id allocation: %w", err)
	}
	return id, nil
}

func nextIDTx(ctx context.Context, tx *sqlx.Tx, n int64) (int64, error) {
	var raw string
	err := tx.GetContext(ctx, &raw, "SELECT value FROM meta WHERE key = 'next_item_id'")

	var next int64 = 1
	switch {
	case err == nil:
		next, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || next < 1 {
			next = 1
		}
	case errors.Is(err, sql.ErrNoRows):
		var maxID sql.NullInt64
		if err := tx.GetContext(ctx, &maxID, "SELECT MAX(id) FROM items"); err != nil {
			return 0, fmt.Errorf("reading max item id: %w", err)
		}
		if maxID.Valid {
			next = maxID.Int64 + 1
		}
	default:
		return 0, fmt.Errorf("reading id counter: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('next_item_id', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(next+n, 10),
	)
	if err != nil {
		return 0, fmt.Errorf("advancing id counter: %w", err)
	}
	return next, nil
}

// PendingDeletes returns all queued remote deletions.
func (s *SQLiteStore) PendingDeletes(ctx context.Context) ([]reconcile.DeleteEntry, error) {
	var entries []reconcile.DeleteEntry
	err := s.db.SelectContext(ctx, &entries, "SELECT backend, remote_id, locator FROM pending_deletes")
	if err != nil {
		return nil, fmt.Errorf("querying pending deletes: %w", err)
	}
	return entries, nil
}

// AddPendingDelete queues one remote deletion.
func (s *SQLiteStore) AddPendingDelete(ctx context.Context, e reconcile.DeleteEntry) error {
	if e.RemoteID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_deletes (backend, remote_id, locator) VALUES (?, ?, ?)
		ON CONFLICT(backend, remote_id) DO UPDATE SET locator = excluded.locator`,
		string(e.Backend), e.RemoteID, e.Locator,
	)
	if err != nil {
		return fmt.Errorf("queueing delete of %s on %s: %w", e.RemoteID, e.Backend, err)
	}
	return nil
}

// RemovePendingDelete drops a confirmed deletion from the queue.
func (s *SQLiteStore) RemovePendingDelete(ctx context.Context, b model.Backend, remoteID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_deletes WHERE backend = ? AND remote_id = ?",
		string(b), remoteID,
	)
	if err != nil {
		return fmt.Errorf("removing pending delete %s on %s: %w", remoteID, b, err)
	}
	return nil
}

// LastSync returns the epoch of the backend's last successful pass, 0
// when it never synced.
func (s *SQLiteStore) LastSync(ctx context.Context, b model.Backend) (int64, error) {
	var ts int64
	err := s.db.GetContext(ctx, &ts, "SELECT last_sync FROM sync_state WHERE backend = ?", string(b))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading last sync for %s: %w", b, err)
	}
	return ts, nil
}

// ActiveCollection returns the remote collection the backend last
// synced against.
func (s *SQLiteStore) ActiveCollection(ctx context.Context, b model.Backend) (string, error) {
	var c string
	err := s.db.GetContext(ctx, &c, "SELECT active_collection FROM sync_state WHERE backend = ?", string(b))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading active collection for %s: %w", b, err)
	}
	return c, nil
}

// SetActiveCollection records the remote collection in use.
func (s *SQLiteStore) SetActiveCollection(ctx context.Context, b model.Backend, collection string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (backend, active_collection) VALUES (?, ?)
		ON CONFLICT(backend) DO UPDATE SET active_collection = excluded.active_collection`,
		string(b), collection,
	)
	if err != nil {
		return fmt.Errorf("recording active collection for %s: %w", b, err)
	}
	return nil
}

// RemoteOptions returns the cached discovered collections for a backend.
func (s *SQLiteStore) RemoteOptions(ctx context.Context, b model.Backend) ([]model.RemoteOption, error) {
	var opts []model.RemoteOption
	err := s.db.SelectContext(ctx, &opts,
		"SELECT backend, value, label, supports_todo FROM remote_options WHERE backend = ? ORDER BY supports_todo DESC, label",
		string(b),
	)
	if err != nil {
		return nil, fmt.Errorf("querying remote options for %s: %w", b, err)
	}
	return opts, nil
}

// ReplaceRemoteOptions replaces the cached collections for a backend.
func (s *SQLiteStore) ReplaceRemoteOptions(ctx context.Context, b model.Backend, opts []model.RemoteOption) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM remote_options WHERE backend = ?", string(b)); err != nil {
		return fmt.Errorf("clearing remote options for %s: %w", b, err)
	}
	for _, o := range opts {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO remote_options (backend, value, label, supports_todo) VALUES (?, ?, ?, ?)",
			string(b), o.Value, o.Label, boolToInt(o.SupportsTodo),
		)
		if err != nil {
			return fmt.Errorf("caching remote option %s: %w", o.Value, err)
		}
	}
	return tx.Commit()
}

// overlayColumns maps a backend to its item columns.
func overlayColumns(b model.Backend) (id, etag, locator, synced string, ok bool) {
	switch b {
	case model.BackendCalDAV:
		return "caldav_id", "caldav_etag", "caldav_locator", "caldav_synced", true
	case model.BackendGoogle:
		return "google_id", "google_etag", "google_locator", "google_synced", true
	case model.BackendMicrosoft:
		return "microsoft_id", "microsoft_etag", "microsoft_locator", "microsoft_synced", true
	}
	return "", "", "", "", false
}

// ResetSync clears the backend's overlay on every item plus its pending
// deletes and last-sync stamp. Items themselves survive.
func (s *SQLiteStore) ResetSync(ctx context.Context, b model.Backend) error {
	id, etag, locator, synced, ok := overlayColumns(b)
	if !ok {
		return fmt.Errorf("unknown backend %q", b)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("UPDATE items SET %s = '', %s = '', %s = '', %s = 0", id, etag, locator, synced)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("clearing %s overlay: %w", b, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_deletes WHERE backend = ?", string(b)); err != nil {
		return fmt.Errorf("clearing %s pending deletes: %w", b, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sync_state SET last_sync = 0, active_collection = '' WHERE backend = ?", string(b),
	); err != nil {
		return fmt.Errorf("clearing %s sync state: %w", b, err)
	}
	return tx.Commit()
}

// ClearItems removes all items and the backend's sync state. Used when
// the configured remote collection changed and the local list must be
// rebuilt from the new one.
func (s *SQLiteStore) ClearItems(ctx context.Context, b model.Backend) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return fmt.Errorf("clearing items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_deletes WHERE backend = ?", string(b)); err != nil {
		return fmt.Errorf("clearing %s pending deletes: %w", b, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sync_state SET last_sync = 0 WHERE backend = ?", string(b),
	); err != nil {
		return fmt.Errorf("clearing %s sync state: %w", b, err)
	}
	return tx.Commit()
}

// Stats counts open, overdue and due-today items against the current
// local day.
func (s *SQLiteStore) Stats(ctx context.Context) (model.Stats, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	now := time.Unix(s.now(), 0)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)
	return model.ComputeStats(items, start.Unix(), end.Unix()), nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
