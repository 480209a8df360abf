package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tasksmint/tasksmint/internal/model"
)

// conflictTTL is how long a conflict notification stays visible before
// it auto-expires.
var conflictTTL = 10 * time.Second

// addConflict records a merge notification for an entity and arms its
// expiry timer. Simultaneous conflicts are independent and additive.
func (e *Engine) addConflict(kind model.EntityKind, entityID string) {
	c := model.Conflict{
		ID:         uuid.New().String(),
		EntityKind: kind,
		EntityID:   entityID,
		Message: fmt.Sprintf(
			"Your %s was updated on another device. Latest changes have been applied.",
			kind,
		),
		Timestamp: time.Now(),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.conflicts = append(e.conflicts, c)
	e.conflictTimers[c.ID] = time.AfterFunc(conflictTTL, func() {
		e.removeConflict(c.ID)
	})
	e.mu.Unlock()

	e.log.WithField("entity_id", entityID).WithField("kind", kind).
		Info("write merged against newer remote record")
	e.notify()
}

// DismissConflict removes a conflict notification immediately.
func (e *Engine) DismissConflict(id string) {
	e.removeConflict(id)
}

// Conflicts returns the currently visible conflict notifications.
func (e *Engine) Conflicts() []model.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Conflict, len(e.conflicts))
	copy(out, e.conflicts)
	return out
}

// removeConflict drops a conflict by id and stops its timer.
func (e *Engine) removeConflict(id string) {
	e.mu.Lock()
	if t, ok := e.conflictTimers[id]; ok {
		t.Stop()
		delete(e.conflictTimers, id)
	}
	kept := e.conflicts[:0]
	removed := false
	for _, c := range e.conflicts {
		if c.ID == id {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	e.conflicts = kept
	e.mu.Unlock()

	if removed {
		e.notify()
	}
}

// stopConflictTimers releases all expiry timers. Called on teardown.
func (e *Engine) stopConflictTimers() {
	for id, t := range e.conflictTimers {
		t.Stop()
		delete(e.conflictTimers, id)
	}
}
