package model

import "strings"

// Backend identifies one of the remote task services.
type Backend string

const (
	BackendCalDAV    Backend = "caldav"
	BackendGoogle    Backend = "google"
	BackendMicrosoft Backend = "microsoft"
)

// Backends lists all supported backends in a stable order.
var Backends = []Backend{BackendCalDAV, BackendGoogle, BackendMicrosoft}

// ParseBackend returns the backend for a config value, or "" if unknown.
func ParseBackend(s string) Backend {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendCalDAV:
		return BackendCalDAV
	case BackendGoogle:
		return BackendGoogle
	case BackendMicrosoft:
		return BackendMicrosoft
	}
	return ""
}

// Priority levels of a task item.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// NormalizePriority maps arbitrary input to a valid priority,
// defaulting to normal.
func NormalizePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	}
	return PriorityNormal
}

// Recurrence is the repeat rule of an item.
type Recurrence string

const (
	RecurNone      Recurrence = "none"
	RecurCustom    Recurrence = "custom"
	RecurWeekly    Recurrence = "w1"
	RecurBiweekly  Recurrence = "w2"
	RecurTriweekly Recurrence = "w3"
	RecurMonthly   Recurrence = "m1"
	RecurQuarterly Recurrence = "q1"
	RecurYearly    Recurrence = "y1"
)

// RecurrenceUnit is the unit of a custom recurrence interval.
type RecurrenceUnit string

const (
	UnitHour  RecurrenceUnit = "h"
	UnitDay   RecurrenceUnit = "d"
	UnitWeek  RecurrenceUnit = "w"
	UnitMonth RecurrenceUnit = "m"
	UnitYear  RecurrenceUnit = "y"
)

// ConflictPolicy decides which side wins when both local and remote
// changed since the last sync.
type ConflictPolicy string

const (
	ServerWins ConflictPolicy = "server_wins"
	LocalWins  ConflictPolicy = "local_wins"
	NewestWins ConflictPolicy = "newest_wins"
)

// NormalizeConflictPolicy defaults unknown values to server_wins.
func NormalizeConflictPolicy(s string) ConflictPolicy {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case LocalWins:
		return LocalWins
	case NewestWins:
		return NewestWins
	}
	return ServerWins
}

// SyncRef is the per-backend sync overlay on an item: the remote
// identity, the opaque version token, an optional backend locator
// (CalDAV href) and the epoch of the last successful reconciliation.
type SyncRef struct {
	ID       RemoteID `json:"id"`
	Etag     string   `json:"etag"`
	Locator  string   `json:"locator,omitempty"`
	SyncedAt int64    `json:"synced_at"`
}

// Confirmed reports whether the item has a server-confirmed remote id.
func (r SyncRef) Confirmed() bool { return r.ID.Kind() == RemoteConfirmed }

// Item is the authoritative local record of a task.
//
// All timestamps are epoch seconds; 0 means unset. Due == 0 implies
// Notification == false, Recurrence == none and ResetLeadTime == 0.
type Item struct {
	ID       int64    `db:"id" json:"id"`
	Title    string   `db:"title" json:"title"`
	Info     string   `db:"info" json:"info"`
	Done     bool     `db:"done" json:"done"`
	DoneAt   int64    `db:"done_at" json:"doneAt"`
	Due      int64    `db:"due" json:"due"`
	Priority Priority `db:"priority" json:"priority"`
	Quantity int      `db:"quantity" json:"quantity"`

	Notification         bool  `db:"notification" json:"notification"`
	NotificationLeadTime int   `db:"notification_lead_time" json:"notificationLeadTime"`
	NotifiedFor          int64 `db:"notified_for" json:"notifiedFor"`

	Recurrence            Recurrence     `db:"recurrence" json:"recurrence"`
	RecurrenceCustomUnit  RecurrenceUnit `db:"recurrence_custom_unit" json:"recurrenceCustomUnit"`
	RecurrenceCustomValue int            `db:"recurrence_custom_value" json:"recurrenceCustomValue"`
	// ResetLeadTime is the reopen window in seconds before the next due
	// that a completed recurring item reopens. -1 reopens immediately on
	// completion, 0 disables reopening.
	RecurrenceResetLeadTime int `db:"recurrence_reset_lead_time" json:"recurrenceResetLeadTime"`

	SortOrder int   `db:"sort_order" json:"sortOrder"`
	CreatedAt int64 `db:"created_at" json:"createdAt"`
	UpdatedAt int64 `db:"updated_at" json:"updatedAt"`
	// LocalModified is the dirty marker the reconciliation engine compares
	// against SyncRef.SyncedAt. Local edits stamp it together with
	// UpdatedAt; a successful upload resets it to 0.
	LocalModified int64 `db:"local_modified" json:"localModified"`

	CalDAV    SyncRef `db:"-" json:"caldav"`
	Google    SyncRef `db:"-" json:"google"`
	Microsoft SyncRef `db:"-" json:"microsoft"`
}

// Ref returns a pointer to the sync overlay for the given backend.
func (it *Item) Ref(b Backend) *SyncRef {
	switch b {
	case BackendCalDAV:
		return &it.CalDAV
	case BackendGoogle:
		return &it.Google
	case BackendMicrosoft:
		return &it.Microsoft
	}
	return nil
}

// Touch stamps the item as locally modified at now.
func (it *Item) Touch(now int64) {
	it.UpdatedAt = now
	it.LocalModified = now
}

// RemoteOption is a discovered remote collection (calendar or task list),
// cached only for configuration purposes.
type RemoteOption struct {
	Backend      Backend `db:"backend" json:"backend"`
	Value        string  `db:"value" json:"value"`
	Label        string  `db:"label" json:"label"`
	SupportsTodo bool    `db:"supports_todo" json:"supportsTodo"`
}

// Stats summarizes the open items for downstream consumers.
type Stats struct {
	Open     int `json:"open"`
	Overdue  int `json:"overdue"`
	DueToday int `json:"dueToday"`
}

// ComputeStats counts open, overdue and due-today items. todayStart and
// todayEnd bound the current local day in epoch seconds.
func ComputeStats(items []Item, todayStart, todayEnd int64) Stats {
	var s Stats
	for _, it := range items {
		if it.Done {
			continue
		}
		s.Open++
		if it.Due <= 0 {
			continue
		}
		switch {
		case it.Due < todayStart:
			s.Overdue++
		case it.Due < todayEnd:
			s.DueToday++
		}
	}
	return s
}
