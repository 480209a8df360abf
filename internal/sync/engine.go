// Package sync implements the optimistic local-first synchronization
// engine: it keeps an authoritative-but-possibly-stale in-memory copy of
// boards, lists, and tasks, applies user edits before any network round
// trip, reconciles against the remote store with version-checked writes
// and last-writer-wins merges, and ingests the remote change feed.
package sync

import (
	"context"
	"encoding/json"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tasksmint/tasksmint/internal/cache"
	"github.com/tasksmint/tasksmint/internal/model"
	"github.com/tasksmint/tasksmint/internal/remote"
)

// State is the engine's lifecycle stage for the current identity session.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

// EngineState is the read-only view the presentation layer consumes.
type EngineState struct {
	Boards    []model.Board
	Lists     []model.List
	Tasks     []model.Task
	Loading   bool
	Syncing   bool
	Offline   bool
	LastSync  time.Time
	Conflicts []model.Conflict
}

// NotifyFunc is invoked after every state change the UI may care about.
type NotifyFunc func()

// SurfaceFunc delivers user-visible errors (rolled-back writes,
// reownership failures). The channel is the caller's choice; a toast is
// sufficient.
type SurfaceFunc func(error)

// Engine orchestrates load, optimistic mutation, conflict resolution,
// change-feed ingestion, and connectivity transitions for one identity
// at a time.
type Engine struct {
	store   cache.Store
	gateway remote.Gateway
	log     *logrus.Logger

	mu             gosync.Mutex
	state          State
	syncing        bool
	offline        bool
	lastSync       time.Time
	identity       model.Identity
	snap           model.Snapshot
	conflicts      []model.Conflict
	conflictTimers map[string]*time.Timer
	sub            remote.Subscription
	subCancel      context.CancelFunc
	closed         bool

	queues  *queueSet
	notifyF NotifyFunc
	surface SurfaceFunc
}

// NewEngine creates a sync engine. notify and surface may be nil.
func NewEngine(store cache.Store, gateway remote.Gateway, log *logrus.Logger, notify NotifyFunc, surface SurfaceFunc) *Engine {
	if log == nil {
		log = logrus.New()
	}
	if notify == nil {
		notify = func() {}
	}
	if surface == nil {
		surface = func(error) {}
	}
	return &Engine{
		store:          store,
		gateway:        gateway,
		log:            log,
		conflictTimers: make(map[string]*time.Timer),
		queues:         newQueueSet(),
		notifyF:        notify,
		surface:        surface,
	}
}

// Initialize starts a session for the given identity. Guests load from
// the local cache only; authenticated identities fetch from the remote
// store with an unconditional cache fallback, then subscribe to the
// change feed. The UI never blocks indefinitely on this call.
func (e *Engine) Initialize(ctx context.Context, id model.Identity) {
	e.mu.Lock()
	e.teardownFeedLocked()
	e.identity = id
	e.state = StateLoading
	e.snap = model.Snapshot{}
	e.mu.Unlock()
	e.notify()

	if id.IsGuest() {
		e.loadFromCache(ctx)
		e.mu.Lock()
		e.state = StateReady
		e.mu.Unlock()
		e.notify()
		return
	}

	e.reconcile(ctx)

	e.mu.Lock()
	e.state = StateReady
	e.mu.Unlock()
	e.notify()

	e.subscribeFeed(id.ID)
}

// Snapshot returns a copy of the engine's current consumable state.
func (e *Engine) Snapshot() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := EngineState{
		Boards:    append([]model.Board(nil), e.snap.Boards...),
		Lists:     append([]model.List(nil), e.snap.Lists...),
		Tasks:     append([]model.Task(nil), e.snap.Tasks...),
		Loading:   e.state != StateReady,
		Syncing:   e.syncing,
		Offline:   e.offline,
		LastSync:  e.lastSync,
		Conflicts: append([]model.Conflict(nil), e.conflicts...),
	}
	return st
}

// Offline reports whether the engine considers itself disconnected.
func (e *Engine) Offline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offline
}

// SetOffline flips the offline flag. In-flight writes keep running and
// may still fail into the rollback path; new writes stay local.
func (e *Engine) SetOffline() {
	e.mu.Lock()
	changed := !e.offline
	e.offline = true
	e.mu.Unlock()
	if changed {
		e.log.Info("connectivity lost, staying local")
		e.notify()
	}
}

// SetOnline clears the offline flag and, for authenticated identities,
// re-runs exactly one full fetch-and-reconcile pass.
func (e *Engine) SetOnline(ctx context.Context) {
	e.mu.Lock()
	if !e.offline {
		e.mu.Unlock()
		return
	}
	e.offline = false
	id := e.identity
	e.mu.Unlock()

	e.log.Info("connectivity restored")
	e.notify()

	if !id.IsGuest() {
		e.reconcile(ctx)
		e.notify()
	}
}

// Refresh re-runs the fetch-and-reconcile pass on demand. Guests have
// nothing to reconcile against; the call is a no-op for them.
func (e *Engine) Refresh(ctx context.Context) {
	e.mu.Lock()
	id := e.identity
	e.mu.Unlock()
	if id.IsGuest() {
		return
	}
	e.reconcile(ctx)
}

// Close tears the engine down: the change feed is released, conflict
// timers are stopped, and results of still-running writes are discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.teardownFeedLocked()
	e.stopConflictTimers()
	e.mu.Unlock()
}

// reconcile fetches the full owned data set, replaces in-memory state,
// and writes through to the cache. On failure, the cache snapshot is
// used instead and lastSync stays unchanged.
func (e *Engine) reconcile(ctx context.Context) {
	e.mu.Lock()
	ownerID := e.identity.ID
	e.syncing = true
	e.mu.Unlock()
	e.notify()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
		e.notify()
	}()

	var (
		boards []model.Board
		lists  []model.List
		tasks  []model.Task
		errs   [3]error
		wg     gosync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		errs[0] = e.gateway.List(ctx, remote.TableBoards, ownerID, "created_at", &boards)
	}()
	go func() {
		defer wg.Done()
		errs[1] = e.gateway.List(ctx, remote.TableLists, ownerID, "position", &lists)
	}()
	go func() {
		defer wg.Done()
		errs[2] = e.gateway.List(ctx, remote.TableTasks, ownerID, "position", &tasks)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			e.log.WithError(err).Warn("remote fetch failed, falling back to cache")
			e.loadFromCache(ctx)
			return
		}
	}

	snap := model.Snapshot{Boards: boards, Lists: lists, Tasks: tasks}

	e.mu.Lock()
	if e.closed || e.identity.ID != ownerID {
		// Session changed while the fetch was in flight; discard.
		e.mu.Unlock()
		return
	}
	e.snap = snap
	e.lastSync = time.Now()
	e.mu.Unlock()

	if err := e.store.WriteSnapshot(ctx, ownerID, snap); err != nil {
		e.log.WithError(err).Warn("writing snapshot through to cache")
	}

	e.log.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"boards":   len(boards),
		"lists":    len(lists),
		"tasks":    len(tasks),
	}).Info("reconciled with remote store")
}

// loadFromCache replaces in-memory state with the cached snapshot for
// the current identity. An absent or corrupt snapshot loads as empty.
func (e *Engine) loadFromCache(ctx context.Context) {
	e.mu.Lock()
	ownerID := e.identity.ID
	e.mu.Unlock()

	snap, savedAt, ok, err := e.store.ReadSnapshot(ctx, ownerID)
	if err != nil {
		e.log.WithError(err).Warn("reading cached snapshot")
		return
	}
	if !ok {
		return
	}

	e.mu.Lock()
	if e.closed || e.identity.ID != ownerID {
		e.mu.Unlock()
		return
	}
	e.snap = snap
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"saved_at": savedAt,
	}).Info("loaded snapshot from cache")
}

// subscribeFeed opens the owner-scoped change feed and starts ingesting.
func (e *Engine) subscribeFeed(ownerID string) {
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := e.gateway.Subscribe(ctx, ownerID)
	if err != nil {
		cancel()
		e.log.WithError(err).Warn("subscribing to change feed")
		return
	}

	e.mu.Lock()
	if e.closed || e.identity.ID != ownerID {
		e.mu.Unlock()
		cancel()
		sub.Close()
		return
	}
	e.sub = sub
	e.subCancel = cancel
	e.mu.Unlock()

	go e.runFeed(sub)
}

// runFeed applies change-feed events until the subscription closes.
func (e *Engine) runFeed(sub remote.Subscription) {
	for ev := range sub.Events() {
		e.ingest(ev)
	}
}

// teardownFeedLocked releases the active subscription. Caller holds e.mu.
func (e *Engine) teardownFeedLocked() {
	if e.subCancel != nil {
		e.subCancel()
		e.subCancel = nil
	}
	if e.sub != nil {
		e.sub.Close()
		e.sub = nil
	}
}

// ingest routes one feed event to the matching collection.
func (e *Engine) ingest(ev remote.Event) {
	switch ev.Table {
	case remote.TableBoards:
		ingestChange(e, boardTable, ev)
	case remote.TableLists:
		ingestChange(e, listTable, ev)
	case remote.TableTasks:
		ingestChange(e, taskTable, ev)
	default:
		e.log.WithField("table", ev.Table).Debug("ignoring event for unknown table")
	}
}

// IngestRemoteChange applies a single remote change event to in-memory
// state. Exposed for callers that receive events out of band; the
// engine's own feed subscription goes through the same path.
func (e *Engine) IngestRemoteChange(ev remote.Event) {
	e.ingest(ev)
}

// writeCache mirrors the current in-memory snapshot into the cache.
func (e *Engine) writeCache(ctx context.Context) {
	e.mu.Lock()
	ownerID := e.identity.ID
	snap := model.Snapshot{
		Boards: append([]model.Board(nil), e.snap.Boards...),
		Lists:  append([]model.List(nil), e.snap.Lists...),
		Tasks:  append([]model.Task(nil), e.snap.Tasks...),
	}
	e.mu.Unlock()

	if ownerID == "" {
		return
	}
	if err := e.store.WriteSnapshot(ctx, ownerID, snap); err != nil {
		e.log.WithError(err).Warn("mirroring snapshot to cache")
	}
}

// notify pings the presentation layer.
func (e *Engine) notify() {
	e.notifyF()
}

// decode unmarshals a feed payload into a concrete entity.
func decode[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}
