package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RemoteIDKind discriminates the states of a remote identity.
type RemoteIDKind int

const (
	// RemoteUnassigned means the item has never been uploaded.
	RemoteUnassigned RemoteIDKind = iota
	// RemotePlaceholder is a locally allocated stand-in assigned before the
	// first upload so the association survives a crash. It is never present
	// in a remote snapshot.
	RemotePlaceholder
	// RemoteConfirmed is a server-assigned identity.
	RemoteConfirmed
)

// placeholderPrefix tags the serialized form of a placeholder id. Server
// ids are opaque but never carry this prefix followed by a bare integer.
const placeholderPrefix = "pending:"

// RemoteID is the tagged remote identity of an item on one backend:
// unassigned, a local placeholder keyed by the item's numeric id, or a
// server-confirmed id.
type RemoteID struct {
	kind   RemoteIDKind
	local  int64
	server string
}

// PlaceholderID allocates a placeholder for the given local item id.
func PlaceholderID(localID int64) RemoteID {
	return RemoteID{kind: RemotePlaceholder, local: localID}
}

// ConfirmedID wraps a server-assigned id. An empty id is unassigned.
func ConfirmedID(serverID string) RemoteID {
	if serverID == "" {
		return RemoteID{}
	}
	return RemoteID{kind: RemoteConfirmed, server: serverID}
}

// Kind returns the discriminator.
func (r RemoteID) Kind() RemoteIDKind { return r.kind }

// Server returns the confirmed server id, or "" for other kinds.
func (r RemoteID) Server() string { return r.server }

// LocalID returns the local item id backing a placeholder, or 0.
func (r RemoteID) LocalID() int64 { return r.local }

// IsZero reports whether the id is unassigned.
func (r RemoteID) IsZero() bool { return r.kind == RemoteUnassigned }

// String renders the storage form: "" for unassigned,
// "pending:<localID>" for placeholders, the raw id when confirmed.
func (r RemoteID) String() string {
	switch r.kind {
	case RemotePlaceholder:
		return placeholderPrefix + strconv.FormatInt(r.local, 10)
	case RemoteConfirmed:
		return r.server
	}
	return ""
}

// ParseRemoteID is the inverse of String.
func ParseRemoteID(s string) RemoteID {
	if s == "" {
		return RemoteID{}
	}
	if rest, ok := strings.CutPrefix(s, placeholderPrefix); ok {
		if id, err := strconv.ParseInt(rest, 10, 64); err == nil && id > 0 {
			return PlaceholderID(id)
		}
	}
	return ConfirmedID(s)
}

// MarshalJSON encodes the storage form.
func (r RemoteID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes the storage form.
func (r *RemoteID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding remote id: %w", err)
	}
	*r = ParseRemoteID(s)
	return nil
}
