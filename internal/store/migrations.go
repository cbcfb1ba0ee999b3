package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id                         INTEGER PRIMARY KEY,
	title                      TEXT NOT NULL,
	info                       TEXT NOT NULL DEFAULT '',
	done                       INTEGER NOT NULL DEFAULT 0 CHECK(done IN (0, 1)),
	done_at                    INTEGER NOT NULL DEFAULT 0,
	due                        INTEGER NOT NULL DEFAULT 0,
	priority                   TEXT NOT NULL DEFAULT 'normal',
	quantity                   INTEGER NOT NULL DEFAULT 1,
	notification               INTEGER NOT NULL DEFAULT 0 CHECK(notification IN (0, 1)),
	notification_lead_time     INTEGER NOT NULL DEFAULT 600,
	notified_for               INTEGER NOT NULL DEFAULT 0,
	recurrence                 TEXT NOT NULL DEFAULT 'none',
	recurrence_custom_unit     TEXT NOT NULL DEFAULT 'w',
	recurrence_custom_value    INTEGER NOT NULL DEFAULT 1,
	recurrence_reset_lead_time INTEGER NOT NULL DEFAULT 0,
	sort_order                 INTEGER NOT NULL DEFAULT 0,
	created_at                 INTEGER NOT NULL,
	updated_at                 INTEGER NOT NULL,
	local_modified             INTEGER NOT NULL DEFAULT 0,

	caldav_id        TEXT NOT NULL DEFAULT '',
	caldav_etag      TEXT NOT NULL DEFAULT '',
	caldav_locator   TEXT NOT NULL DEFAULT '',
	caldav_synced    INTEGER NOT NULL DEFAULT 0,
	google_id        TEXT NOT NULL DEFAULT '',
	google_etag      TEXT NOT NULL DEFAULT '',
	google_locator   TEXT NOT NULL DEFAULT '',
	google_synced    INTEGER NOT NULL DEFAULT 0,
	microsoft_id     TEXT NOT NULL DEFAULT '',
	microsoft_etag   TEXT NOT NULL DEFAULT '',
	microsoft_locator TEXT NOT NULL DEFAULT '',
	microsoft_synced INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pending_deletes (
	backend   TEXT NOT NULL,
	remote_id TEXT NOT NULL,
	locator   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (backend, remote_id)
);

CREATE TABLE IF NOT EXISTS sync_state (
	backend           TEXT PRIMARY KEY,
	last_sync         INTEGER NOT NULL DEFAULT 0,
	active_collection TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS remote_options (
	backend       TEXT NOT NULL,
	value         TEXT NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	supports_todo INTEGER NOT NULL DEFAULT 0 CHECK(supports_todo IN (0, 1)),
	PRIMARY KEY (backend, value)
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_sort_order ON items(sort_order);
CREATE INDEX IF NOT EXISTS idx_items_done ON items(done);
CREATE INDEX IF NOT EXISTS idx_items_due ON items(due);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
