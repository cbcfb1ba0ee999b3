// Package backend defines the contract between the reconciliation
// engine and the per-provider adapters. Adapters translate between the
// local item schema and the provider wire schema and issue the
// provider-specific calls; they never apply conflict policy.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/da8ter/todosync/internal/model"
)

// AuthError indicates that authentication has failed or expired for a
// backend. Adapters return it when a 401 response is received or a
// token refresh fails.
type AuthError struct {
	Backend model.Backend
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Backend, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Field identifies one transportable item field. Each adapter declares
// the set its provider actually carries; the merge never overwrites a
// local field outside that set.
type Field uint16

const (
	FieldTitle Field = 1 << iota
	FieldInfo
	FieldDone
	FieldDoneAt
	FieldDue
	FieldPriority
	FieldNotification
	FieldRecurrence
)

// Has reports whether all bits of f are present in the set.
func (s Field) Has(f Field) bool { return s&f == f }

// DueGranularity describes how faithfully a provider transports due
// timestamps, which decides how a remote due is merged into the local
// one.
type DueGranularity int

const (
	// DueExact means the provider carries full date and time.
	DueExact DueGranularity = iota
	// DueDateOnly means the provider only carries a date; the local
	// time of day is preserved on merge.
	DueDateOnly
	// DueServerTime means the provider carries date and time but may
	// degrade the time to midnight UTC, in which case the local time of
	// day is preserved.
	DueServerTime
)

// RemoteItem is one entry of a remote snapshot after adapter
// translation. It lives only for the duration of a sync pass.
type RemoteItem struct {
	// ID is the server-assigned identity. Placeholders never appear here.
	ID string
	// Etag is the provider's opaque version token.
	Etag string
	// Locator is an auxiliary address needed for writes (CalDAV href).
	Locator string
	// Modified is the provider's own last-modified epoch, 0 when the
	// provider only exposes a version token.
	Modified int64
	// ChangeByEtag selects version-token comparison instead of
	// Modified > lastSynced for remote-change detection (CalDAV).
	ChangeByEtag bool

	// Fields names what this provider transports; DueGranularity how
	// due timestamps degrade.
	Fields         Field
	DueGranularity DueGranularity

	Title     string
	Info      string
	Done      bool
	DoneAt    int64
	Due       int64
	CreatedAt int64
	Priority  model.Priority

	Notification         bool
	NotificationLeadTime int

	Recurrence            model.Recurrence
	RecurrenceCustomUnit  model.RecurrenceUnit
	RecurrenceCustomValue int
}

// UploadResult carries the server-confirmed identity of an uploaded
// item.
type UploadResult struct {
	ID      string
	Etag    string
	Locator string
}

// Adapter is the capability set every provider implements.
type Adapter interface {
	// Type returns the backend identifier.
	Type() model.Backend

	// TestConnection verifies credentials and connectivity, returning a
	// human-readable status message on success.
	TestConnection(ctx context.Context) (string, error)

	// Fetch retrieves the full remote snapshot of the configured
	// collection.
	Fetch(ctx context.Context) ([]RemoteItem, error)

	// Upload creates or updates the remote counterpart of a local item
	// and returns its confirmed identity. Creation is implied by a
	// remote id that is unassigned or still a placeholder.
	Upload(ctx context.Context, item model.Item) (UploadResult, error)

	// Delete removes the remote item behind ref. It returns true when
	// the deletion is confirmed, including the item already being gone.
	Delete(ctx context.Context, ref model.SyncRef) (bool, error)

	// DiscoverCollections lists the provider's calendars or task lists
	// for configuration purposes.
	DiscoverCollections(ctx context.Context) ([]model.RemoteOption, error)
}
