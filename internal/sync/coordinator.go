// Package sync orchestrates the background reconciliation passes: one
// goroutine per enabled backend, each driven by an interval ticker, an
// explicit trigger channel and a debounced local-change timer.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/recur"
	"github.com/da8ter/todosync/internal/store"
)

// PassState tracks where a backend currently is in its sync pass.
type PassState int

const (
	StateIdle PassState = iota
	StateLocked
	StateFetching
	StateMerging
	StateUploading
	StatePersisting
	// StateSkipped means a trigger arrived while a pass was already
	// running; the running pass covers it.
	StateSkipped
)

func (s PassState) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	case StateUploading:
		return "uploading"
	case StatePersisting:
		return "persisting"
	case StateSkipped:
		return "skipped"
	}
	return "idle"
}

// Status is the externally visible state of one backend.
type Status struct {
	Backend      model.Backend
	State        PassState
	LastSync     time.Time
	LastErr      error
	AuthRequired bool
}

// Result summarizes one completed sync pass.
type Result struct {
	Backend  model.Backend
	Uploaded int
	Adopted  int
	Deleted  int
	Stats    model.Stats
}

// Listener receives pass results and due notifications. All callbacks
// run on coordinator goroutines and must not block.
type Listener interface {
	SyncCompleted(r Result)
	NotificationsDue(notes []recur.DueNotification)
}

// passTimeout bounds one full sync pass including uploads.
const passTimeout = 2 * time.Minute

// housekeepingTick is the cadence of the local reopen and notification
// pass.
const housekeepingTick = time.Minute

// maxChangeDelay caps the debounce of change-triggered passes.
const maxChangeDelay = 60 * time.Second

// entry is one registered backend with its pass parameters.
type entry struct {
	adapter  backend.Adapter
	interval time.Duration
	policy   model.ConflictPolicy
}

// Coordinator runs the per-backend sync loops against a shared store.
type Coordinator struct {
	store store.Store
	cfg   *model.AppConfig
	log   *slog.Logger

	entries  []entry
	locks    map[model.Backend]*gosync.Mutex
	statuses map[model.Backend]*Status
	triggers map[model.Backend]chan struct{}

	listener Listener

	stopCh chan struct{}

	mu          gosync.Mutex
	running     bool
	changeTimer *time.Timer
}

// New creates a Coordinator. listener may be nil.
func New(s store.Store, cfg *model.AppConfig, log *slog.Logger, listener Listener) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:    s,
		cfg:      cfg,
		log:      log,
		listener: listener,
		locks:    make(map[model.Backend]*gosync.Mutex),
		statuses: make(map[model.Backend]*Status),
		triggers: make(map[model.Backend]chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a backend adapter. The pass interval and conflict policy
// come from the configuration.
func (c *Coordinator) Register(a backend.Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := a.Type()
	interval := time.Duration(c.cfg.SyncIntervalMinFor(b)) * time.Minute
	c.entries = append(c.entries, entry{
		adapter:  a,
		interval: interval,
		policy:   c.cfg.ConflictPolicyFor(b),
	})
	c.locks[b] = &gosync.Mutex{}
	c.statuses[b] = &Status{Backend: b, State: StateIdle}
	c.triggers[b] = make(chan struct{}, 1)
}

// Start launches the per-backend loops and the housekeeping loop.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	entries := make([]entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	for _, e := range entries {
		go c.runLoop(e)
	}
	go c.runHousekeeping()
}

// Stop halts all loops. Passes already running finish their current
// step sequence.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.stopCh)
	if c.changeTimer != nil {
		c.changeTimer.Stop()
	}
	c.running = false
}

// Trigger requests an immediate pass of one backend. A pass already
// pending coalesces with the request.
func (c *Coordinator) Trigger(b model.Backend) {
	c.mu.Lock()
	ch := c.triggers[b]
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// TriggerAll requests an immediate pass of every registered backend.
func (c *Coordinator) TriggerAll() {
	c.mu.Lock()
	entries := make([]entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.Unlock()

	for _, e := range entries {
		c.Trigger(e.adapter.Type())
	}
}

// NotifyChange schedules a pass after the configured quiet period.
// Repeated calls within the period restart the timer, so a burst of
// edits results in one pass.
func (c *Coordinator) NotifyChange() {
	delay := time.Duration(c.cfg.OnChangeDelaySec) * time.Second
	if delay <= 0 {
		delay = 3 * time.Second
	}
	if delay > maxChangeDelay {
		delay = maxChangeDelay
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	if c.changeTimer != nil {
		c.changeTimer.Stop()
	}
	c.changeTimer = time.AfterFunc(delay, c.TriggerAll)
}

// Statuses returns a copy of all backend statuses.
func (c *Coordinator) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.statuses))
	for _, s := range c.statuses {
		out = append(out, *s)
	}
	return out
}

// SyncOnce runs a single synchronous pass for one backend, used by the
// one-shot CLI path. The backend must have been registered.
func (c *Coordinator) SyncOnce(ctx context.Context, b model.Backend) (Result, error) {
	c.mu.Lock()
	var found *entry
	for i := range c.entries {
		if c.entries[i].adapter.Type() == b {
			found = &c.entries[i]
			break
		}
	}
	lock := c.locks[b]
	c.mu.Unlock()

	if found == nil {
		return Result{Backend: b}, fmt.Errorf("backend %s not registered", b)
	}
	if !lock.TryLock() {
		return Result{Backend: b}, fmt.Errorf("a %s pass is already running", b)
	}
	defer lock.Unlock()

	res, err := c.runPass(ctx, *found)
	c.finishPass(b, err)
	return res, err
}

// backendLocks returns the pass locks in registration order.
func (c *Coordinator) backendLocks() []*gosync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*gosync.Mutex, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, c.locks[e.adapter.Type()])
	}
	return out
}

func (c *Coordinator) setState(b model.Backend, state PassState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.statuses[b]; ok {
		s.State = state
	}
}

func (c *Coordinator) finishPass(b model.Backend, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[b]
	if !ok {
		return
	}
	s.State = StateIdle
	s.LastErr = err
	s.AuthRequired = backend.IsAuthError(err)
	if err == nil {
		s.LastSync = time.Now()
	}
}

// runLoop is the per-backend pass loop. An interval of zero disables
// the ticker; the backend then only syncs on explicit triggers.
func (c *Coordinator) runLoop(e entry) {
	b := e.adapter.Type()

	var tick <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	c.mu.Lock()
	trigger := c.triggers[b]
	c.mu.Unlock()

	c.pass(e)

	for {
		select {
		case <-c.stopCh:
			return
		case <-tick:
			c.pass(e)
		case <-trigger:
			c.pass(e)
		}
	}
}

func (c *Coordinator) pass(e entry) {
	b := e.adapter.Type()
	lock := c.locks[b]
	if !lock.TryLock() {
		c.setState(b, StateSkipped)
		return
	}
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()

	res, err := c.runPass(ctx, e)
	c.finishPass(b, err)

	if err != nil {
		if backend.IsAuthError(err) {
			c.log.Warn("sync pass aborted, authentication required", "backend", b, "error", err)
		} else {
			c.log.Error("sync pass failed", "backend", b, "error", err)
		}
		return
	}

	c.log.Info("sync pass complete",
		"backend", b,
		"uploaded", res.Uploaded,
		"adopted", res.Adopted,
		"deleted", res.Deleted,
	)
	if c.listener != nil {
		c.listener.SyncCompleted(res)
	}
}
