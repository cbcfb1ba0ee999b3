// Package store persists the authoritative local item list and the
// sync bookkeeping (pending deletes, last-sync stamps, discovered
// remote collections) in SQLite.
package store

import (
	"context"

	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/reconcile"
)

// NewItem is the caller-facing input of AddItem. Raw string fields are
// normalized before the item is stored.
type NewItem struct {
	Title    string
	Info     string
	Due      int64
	Priority string
	Quantity int

	Notification         bool
	NotificationLeadTime int

	Recurrence              string
	RecurrenceCustomUnit    string
	RecurrenceCustomValue   int
	RecurrenceResetLeadTime int
}

// Store is the persistence interface for items and sync state.
type Store interface {
	Close() error

	// Items returns the full item list ordered by sort order. Each sync
	// pass reads once and writes once.
	Items(ctx context.Context) ([]model.Item, error)
	// ReplaceItems replaces the full item list in one transaction.
	ReplaceItems(ctx context.Context, items []model.Item) error
	// SavePass replaces the item list and stamps the backend's last
	// sync in the same transaction.
	SavePass(ctx context.Context, b model.Backend, items []model.Item, lastSync int64) error

	AddItem(ctx context.Context, in NewItem) (model.Item, error)
	UpdateItem(ctx context.Context, item model.Item) (model.Item, error)
	ToggleDone(ctx context.Context, id int64) (model.Item, error)
	// DeleteItem removes the item and enqueues pending deletes for
	// every backend that holds a confirmed copy.
	DeleteItem(ctx context.Context, id int64) error
	Reorder(ctx context.Context, id int64, sortOrder int) error

	// NextID returns the next free local item id and advances the
	// counter by n.
	NextID(ctx context.Context, n int64) (int64, error)

	PendingDeletes(ctx context.Context) ([]reconcile.DeleteEntry, error)
	AddPendingDelete(ctx context.Context, e reconcile.DeleteEntry) error
	RemovePendingDelete(ctx context.Context, b model.Backend, remoteID string) error

	LastSync(ctx context.Context, b model.Backend) (int64, error)

	// ActiveCollection tracks which remote collection the backend was
	// last synced against, for list-change detection.
	ActiveCollection(ctx context.Context, b model.Backend) (string, error)
	SetActiveCollection(ctx context.Context, b model.Backend, collection string) error

	RemoteOptions(ctx context.Context, b model.Backend) ([]model.RemoteOption, error)
	ReplaceRemoteOptions(ctx context.Context, b model.Backend, opts []model.RemoteOption) error

	// ResetSync clears the backend's ids, etags and synced stamps on
	// every item plus its pending deletes and last-sync stamp.
	ResetSync(ctx context.Context, b model.Backend) error
	// ClearItems removes all items and the backend sync state, used
	// when the configured remote collection changed.
	ClearItems(ctx context.Context, b model.Backend) error

	Stats(ctx context.Context) (model.Stats, error)
}
