package reconcile

import (
	"sync"

	"github.com/da8ter/todosync/internal/model"
)

// DeleteEntry is one remote deletion still owed to a backend.
type DeleteEntry struct {
	Backend  model.Backend `db:"backend"`
	RemoteID string        `db:"remote_id"`
	Locator  string        `db:"locator"`
}

// Queue holds the remote ids whose deletion has been requested locally
// but not yet confirmed by the backend. Entries survive process
// restarts through the store; the queue itself is the in-memory working
// set shared by the coordinator goroutines.
type Queue struct {
	mu      sync.Mutex
	entries map[model.Backend]map[string]string
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{entries: make(map[model.Backend]map[string]string)}
}

// Load replaces the queue contents with the given entries.
func (q *Queue) Load(entries []DeleteEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make(map[model.Backend]map[string]string)
	for _, e := range entries {
		if e.RemoteID == "" {
			continue
		}
		m := q.entries[e.Backend]
		if m == nil {
			m = make(map[string]string)
			q.entries[e.Backend] = m
		}
		m[e.RemoteID] = e.Locator
	}
}

// Add records a pending deletion. Placeholder ids are ignored since the
// item never reached the server.
func (q *Queue) Add(b model.Backend, id model.RemoteID, locator string) {
	if id.Kind() != model.RemoteConfirmed {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.entries[b]
	if m == nil {
		m = make(map[string]string)
		q.entries[b] = m
	}
	m[id.Server()] = locator
}

// Remove drops a confirmed deletion from the queue.
func (q *Queue) Remove(b model.Backend, remoteID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries[b], remoteID)
}

// Contains reports whether the remote id still awaits deletion.
func (q *Queue) Contains(b model.Backend, remoteID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[b][remoteID]
	return ok
}

// Snapshot returns a copy of the entries owed to one backend. Callers
// iterate the copy while the live queue keeps accepting entries.
func (q *Queue) Snapshot(b model.Backend) []DeleteEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := make([]DeleteEntry, 0, len(q.entries[b]))
	for id, loc := range q.entries[b] {
		entries = append(entries, DeleteEntry{Backend: b, RemoteID: id, Locator: loc})
	}
	return entries
}

// Map returns the backend's pending ids keyed to their locators, in the
// shape Merge consumes.
func (q *Queue) Map(b model.Backend) map[string]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := make(map[string]string, len(q.entries[b]))
	for id, loc := range q.entries[b] {
		m[id] = loc
	}
	return m
}

// All returns every entry across backends for persistence.
func (q *Queue) All() []DeleteEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var entries []DeleteEntry
	for b, m := range q.entries {
		for id, loc := range m {
			entries = append(entries, DeleteEntry{Backend: b, RemoteID: id, Locator: loc})
		}
	}
	return entries
}
