package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tasksmint/tasksmint/internal/model"
	"github.com/tasksmint/tasksmint/internal/remote"
)

// writeTimeout bounds a single queued network write.
const writeTimeout = 30 * time.Second

// table binds an entity type to its remote table and its slice within
// the snapshot, so one conditional-write routine serves all three kinds.
type table[T model.Entity] struct {
	kind  model.EntityKind
	name  remote.Table
	slice func(*model.Snapshot) *[]T
}

var (
	boardTable = table[model.Board]{
		kind:  model.KindBoard,
		name:  remote.TableBoards,
		slice: func(s *model.Snapshot) *[]model.Board { return &s.Boards },
	}
	listTable = table[model.List]{
		kind:  model.KindList,
		name:  remote.TableLists,
		slice: func(s *model.Snapshot) *[]model.List { return &s.Lists },
	}
	taskTable = table[model.Task]{
		kind:  model.KindTask,
		name:  remote.TableTasks,
		slice: func(s *model.Snapshot) *[]model.Task { return &s.Tasks },
	}
)

// CreateBoard adds a board optimistically and pushes it to the remote store.
func (e *Engine) CreateBoard(ctx context.Context, title, description, colorTag string) model.Board {
	now := time.Now().UTC()
	b := model.Board{
		ID:          uuid.New().String(),
		OwnerID:     e.ownerID(),
		Title:       title,
		Description: description,
		ColorTag:    colorTag,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	applyCreate(e, ctx, boardTable, b)
	return b
}

// UpdateBoard applies mutate to the board with the given id.
func (e *Engine) UpdateBoard(ctx context.Context, id string, mutate func(*model.Board)) error {
	return applyUpdate(e, ctx, boardTable, id, mutate)
}

// DeleteBoard removes a board and cascades to its lists and their tasks.
// No orphaned list or task referencing the board survives in memory,
// cache, or the remote store.
func (e *Engine) DeleteBoard(ctx context.Context, id string) {
	e.mu.Lock()
	var listIDs []string
	kept := e.snap.Lists[:0]
	for _, l := range e.snap.Lists {
		if l.BoardID == id {
			listIDs = append(listIDs, l.ID)
			continue
		}
		kept = append(kept, l)
	}
	e.snap.Lists = kept

	doomed := make(map[string]bool, len(listIDs))
	for _, lid := range listIDs {
		doomed[lid] = true
	}
	keptTasks := e.snap.Tasks[:0]
	for _, t := range e.snap.Tasks {
		if doomed[t.ListID] {
			continue
		}
		keptTasks = append(keptTasks, t)
	}
	e.snap.Tasks = keptTasks

	keptBoards := e.snap.Boards[:0]
	for _, b := range e.snap.Boards {
		if b.ID == id {
			continue
		}
		keptBoards = append(keptBoards, b)
	}
	e.snap.Boards = keptBoards
	local := e.localOnlyLocked()
	e.mu.Unlock()
	e.notify()
	e.writeCache(ctx)

	if local {
		return
	}

	e.queues.enqueue("boards/"+id, func() {
		jctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		for _, lid := range listIDs {
			if err := e.gateway.DeleteWhere(jctx, remote.TableTasks, "list_id", lid); err != nil {
				e.surfaceDeleteError(model.KindBoard, id, err)
				return
			}
		}
		if err := e.gateway.DeleteWhere(jctx, remote.TableLists, "board_id", id); err != nil {
			e.surfaceDeleteError(model.KindBoard, id, err)
			return
		}
		if err := e.gateway.Delete(jctx, remote.TableBoards, id); err != nil {
			e.surfaceDeleteError(model.KindBoard, id, err)
		}
	})
}

// CreateList adds a list at the end of a board.
func (e *Engine) CreateList(ctx context.Context, boardID, title string) model.List {
	now := time.Now().UTC()
	l := model.List{
		ID:        uuid.New().String(),
		BoardID:   boardID,
		OwnerID:   e.ownerID(),
		Title:     title,
		Position:  e.nextListPosition(boardID),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	applyCreate(e, ctx, listTable, l)
	return l
}

// UpdateList applies mutate to the list with the given id.
func (e *Engine) UpdateList(ctx context.Context, id string, mutate func(*model.List)) error {
	return applyUpdate(e, ctx, listTable, id, mutate)
}

// DeleteList removes a list and cascades to its tasks.
func (e *Engine) DeleteList(ctx context.Context, id string) {
	e.mu.Lock()
	keptTasks := e.snap.Tasks[:0]
	for _, t := range e.snap.Tasks {
		if t.ListID == id {
			continue
		}
		keptTasks = append(keptTasks, t)
	}
	e.snap.Tasks = keptTasks

	kept := e.snap.Lists[:0]
	for _, l := range e.snap.Lists {
		if l.ID == id {
			continue
		}
		kept = append(kept, l)
	}
	e.snap.Lists = kept
	local := e.localOnlyLocked()
	e.mu.Unlock()
	e.notify()
	e.writeCache(ctx)

	if local {
		return
	}

	e.queues.enqueue("lists/"+id, func() {
		jctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := e.gateway.DeleteWhere(jctx, remote.TableTasks, "list_id", id); err != nil {
			e.surfaceDeleteError(model.KindList, id, err)
			return
		}
		if err := e.gateway.Delete(jctx, remote.TableLists, id); err != nil {
			e.surfaceDeleteError(model.KindList, id, err)
		}
	})
}

// CreateTask adds a task at the end of a list with default fields.
func (e *Engine) CreateTask(ctx context.Context, listID, title string) model.Task {
	now := time.Now().UTC()
	t := model.Task{
		ID:        uuid.New().String(),
		ListID:    listID,
		OwnerID:   e.ownerID(),
		Title:     title,
		Priority:  model.PriorityMedium,
		Position:  e.nextTaskPosition(listID),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	applyCreate(e, ctx, taskTable, t)
	return t
}

// UpdateTask applies mutate to the task with the given id.
func (e *Engine) UpdateTask(ctx context.Context, id string, mutate func(*model.Task)) error {
	return applyUpdate(e, ctx, taskTable, id, mutate)
}

// DeleteTask removes a single task.
func (e *Engine) DeleteTask(ctx context.Context, id string) {
	e.mu.Lock()
	kept := e.snap.Tasks[:0]
	for _, t := range e.snap.Tasks {
		if t.ID == id {
			continue
		}
		kept = append(kept, t)
	}
	e.snap.Tasks = kept
	local := e.localOnlyLocked()
	e.mu.Unlock()
	e.notify()
	e.writeCache(ctx)

	if local {
		return
	}

	e.queues.enqueue("tasks/"+id, func() {
		jctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := e.gateway.Delete(jctx, remote.TableTasks, id); err != nil {
			e.surfaceDeleteError(model.KindTask, id, err)
		}
	})
}

// ReorderLists rewrites sibling positions for a board to match the
// given id order. All touched rows go out in one bulk upsert.
func (e *Engine) ReorderLists(ctx context.Context, boardID string, orderedIDs []string) {
	rank := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		rank[id] = i + 1
	}

	now := time.Now().UTC()
	var touched []model.List

	e.mu.Lock()
	for i := range e.snap.Lists {
		l := &e.snap.Lists[i]
		if l.BoardID != boardID {
			continue
		}
		pos, ok := rank[l.ID]
		if !ok || l.Position == float64(pos) {
			continue
		}
		l.Position = float64(pos)
		l.UpdatedAt = now
		l.Version++
		touched = append(touched, *l)
	}
	local := e.localOnlyLocked()
	e.mu.Unlock()

	if len(touched) == 0 {
		return
	}
	e.notify()
	e.writeCache(ctx)

	if local {
		return
	}
	enqueueBulk(e, remote.TableLists, touched, func() {
		jctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := e.gateway.BulkUpsert(jctx, remote.TableLists, touched); err != nil {
			e.surface(fmt.Errorf("saving list order: %w", err))
		}
	})
}

// ReorderTasks rewrites sibling positions for a list to match the given
// id order.
func (e *Engine) ReorderTasks(ctx context.Context, listID string, orderedIDs []string) {
	rank := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		rank[id] = i + 1
	}

	now := time.Now().UTC()
	var touched []model.Task

	e.mu.Lock()
	for i := range e.snap.Tasks {
		t := &e.snap.Tasks[i]
		if t.ListID != listID {
			continue
		}
		pos, ok := rank[t.ID]
		if !ok || t.Position == float64(pos) {
			continue
		}
		t.Position = float64(pos)
		t.UpdatedAt = now
		t.Version++
		touched = append(touched, *t)
	}
	local := e.localOnlyLocked()
	e.mu.Unlock()

	if len(touched) == 0 {
		return
	}
	e.notify()
	e.writeCache(ctx)

	if local {
		return
	}
	enqueueBulk(e, remote.TableTasks, touched, func() {
		jctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := e.gateway.BulkUpsert(jctx, remote.TableTasks, touched); err != nil {
			e.surface(fmt.Errorf("saving task order: %w", err))
		}
	})
}

// ListsForBoard returns the board's lists ordered by position, ties
// broken by id so sibling order stays total.
func (e *Engine) ListsForBoard(boardID string) []model.List {
	e.mu.Lock()
	var out []model.List
	for _, l := range e.snap.Lists {
		if l.BoardID == boardID {
			out = append(out, l)
		}
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TasksForList returns the list's tasks ordered by position, ties broken
// by id.
func (e *Engine) TasksForList(listID string) []model.Task {
	e.mu.Lock()
	var out []model.Task
	for _, t := range e.snap.Tasks {
		if t.ListID == listID {
			out = append(out, t)
		}
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ownerID returns the current identity's id.
func (e *Engine) ownerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity.ID
}

// localOnlyLocked reports whether writes stay local (guest identity or
// offline). Caller holds e.mu.
func (e *Engine) localOnlyLocked() bool {
	return e.identity.IsGuest() || e.offline
}

// nextListPosition returns a position after the board's last list.
func (e *Engine) nextListPosition(boardID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	max := 0.0
	for _, l := range e.snap.Lists {
		if l.BoardID == boardID && l.Position > max {
			max = l.Position
		}
	}
	return max + 1
}

// nextTaskPosition returns a position after the list's last task.
func (e *Engine) nextTaskPosition(listID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	max := 0.0
	for _, t := range e.snap.Tasks {
		if t.ListID == listID && t.Position > max {
			max = t.Position
		}
	}
	return max + 1
}

// surfaceDeleteError reports a failed remote cascade. The local deletion
// stands; the next reconcile pass settles any divergence.
func (e *Engine) surfaceDeleteError(kind model.EntityKind, id string, err error) {
	e.log.WithField("entity_id", id).WithError(err).Error("remote delete failed")
	e.surface(fmt.Errorf("deleting %s remotely: %w", kind, err))
}

// applyCreate applies a freshly built record to memory immediately and
// queues the network insert. Guests and offline sessions persist to the
// cache only.
func applyCreate[T model.Entity](e *Engine, ctx context.Context, tbl table[T], rec T) {
	e.mu.Lock()
	sl := tbl.slice(&e.snap)
	*sl = append(*sl, rec)
	local := e.localOnlyLocked()
	e.mu.Unlock()
	e.notify()

	if local {
		e.writeCache(ctx)
		return
	}

	id := rec.EntityID()
	e.queues.enqueue(string(tbl.name)+"/"+id, func() {
		pushCreate(e, tbl, id)
	})
}

// applyUpdate applies mutate to the record synchronously and queues the
// conditional network write. The version bump happens on the outgoing
// record at network time so a later queued edit sees the resolved version.
func applyUpdate[T model.Entity](e *Engine, ctx context.Context, tbl table[T], id string, mutate func(*T)) error {
	e.mu.Lock()
	sl := tbl.slice(&e.snap)
	idx := findIndex(*sl, id)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%s %s not found", tbl.kind, id)
	}
	prev := (*sl)[idx]
	rec := prev
	mutate(&rec)
	(*sl)[idx] = rec
	local := e.localOnlyLocked()
	e.mu.Unlock()
	e.notify()

	if local {
		e.writeCache(ctx)
		return nil
	}

	e.queues.enqueue(string(tbl.name)+"/"+id, func() {
		pushUpdate(e, tbl, id, prev)
	})
	return nil
}

// findIndex locates an entity by id within a collection.
// enqueueBulk serializes a bulk write against the queue of every touched
// entity. The write runs on the first entity's queue and the remaining
// queues hold a barrier until it resolves, so a later edit to any touched
// id waits behind the bulk write instead of racing it with a stale base
// version.
func enqueueBulk[T model.Entity](e *Engine, name remote.Table, touched []T, write func()) {
	done := make(chan struct{})
	for i, rec := range touched {
		key := string(name) + "/" + rec.EntityID()
		if i == 0 {
			e.queues.enqueue(key, func() {
				defer close(done)
				write()
			})
			continue
		}
		e.queues.enqueue(key, func() { <-done })
	}
}

func findIndex[T model.Entity](items []T, id string) int {
	for i, it := range items {
		if it.EntityID() == id {
			return i
		}
	}
	return -1
}
