package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/tasksmint/tasksmint/internal/model"
	"github.com/tasksmint/tasksmint/internal/remote"
)

// pushCreate sends a queued insert for the record's current in-memory
// value. A version-conflict answer (the id already exists remotely)
// drops into the merge path like any other conflicting write.
func pushCreate[T model.Entity](e *Engine, tbl table[T], id string) {
	cur, ok := currentRecord(e, tbl, id)
	if !ok {
		// Deleted locally before the write ran; nothing to push.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := e.gateway.Insert(ctx, tbl.name, cur)
	switch {
	case err == nil:
		e.writeCache(ctx)
	case errors.Is(err, remote.ErrVersionConflict):
		resolveConflict(e, ctx, tbl, id, nil, cur)
	default:
		rollback(e, ctx, tbl, id, nil)
		e.surface(fmt.Errorf("saving %s: %w", tbl.kind, err))
	}
}

// pushUpdate sends a queued conditional write. The outgoing record is
// the entity's in-memory value at execution time with its version
// bumped; the predicate is the pre-bump version, so a concurrent writer
// elsewhere surfaces as ErrVersionConflict and resolves via merge.
// prev is the record as it was before this mutation, used for the
// changed-field diff and for rollback.
func pushUpdate[T model.Entity](e *Engine, tbl table[T], id string, prev T) {
	cur, ok := currentRecord(e, tbl, id)
	if !ok {
		return
	}

	base := cur.EntityVersion()
	out, err := withMeta(cur, base+1, time.Now().UTC())
	if err != nil {
		e.log.WithError(err).Error("stamping outgoing record")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err = e.gateway.Update(ctx, tbl.name, id, out, base)
	switch {
	case err == nil:
		replaceRecord(e, tbl, id, out)
		e.writeCache(ctx)
	case errors.Is(err, remote.ErrVersionConflict):
		resolveConflict(e, ctx, tbl, id, &prev, cur)
	default:
		rollback(e, ctx, tbl, id, &prev)
		e.surface(fmt.Errorf("saving %s: %w", tbl.kind, err))
	}
}

// resolveConflict implements the last-writer-wins merge: fetch the
// current remote record, lay the local mutation's changed fields on top
// of it, bump the version one past the remote's, write back
// unconditionally, and emit exactly one conflict notification. The
// pre-merge optimistic value is discarded in favor of the merged record.
// prev is nil when the conflicting write was an insert, so a failed
// resolution removes the optimistic record instead of restoring one.
func resolveConflict[T model.Entity](e *Engine, ctx context.Context, tbl table[T], id string, prev *T, local T) {
	var remoteRec T
	if err := e.gateway.Get(ctx, tbl.name, id, &remoteRec); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// The entity was deleted on another device; the delete wins.
			removeRecord(e, tbl, id)
			e.writeCache(ctx)
			e.addConflict(tbl.kind, id)
			return
		}
		rollback(e, ctx, tbl, id, prev)
		e.surface(fmt.Errorf("resolving %s conflict: %w", tbl.kind, err))
		return
	}

	var base T
	if prev != nil {
		base = *prev
	}
	merged, err := mergeRecords(base, local, remoteRec)
	if err != nil {
		e.log.WithError(err).Error("merging conflicting records")
		rollback(e, ctx, tbl, id, prev)
		e.surface(fmt.Errorf("resolving %s conflict: %w", tbl.kind, err))
		return
	}

	if err := e.gateway.Update(ctx, tbl.name, id, merged, remote.VersionAny); err != nil {
		// The merged write-back failed outright; fall back to the
		// fetched remote record so memory never drifts silently.
		replaceRecord(e, tbl, id, remoteRec)
		e.writeCache(ctx)
		e.surface(fmt.Errorf("saving merged %s: %w", tbl.kind, err))
		return
	}

	replaceRecord(e, tbl, id, merged)
	e.writeCache(ctx)
	e.addConflict(tbl.kind, id)
}

// mergeRecords lays the fields the local mutation changed (relative to
// prev) over the remote record, preserving remote values for untouched
// fields, and sets version to one past the remote's.
func mergeRecords[T model.Entity](prev, local, remoteRec T) (T, error) {
	var zero T

	prevMap, err := toMap(prev)
	if err != nil {
		return zero, err
	}
	localMap, err := toMap(local)
	if err != nil {
		return zero, err
	}
	remoteMap, err := toMap(remoteRec)
	if err != nil {
		return zero, err
	}

	for k, lv := range localMap {
		if k == "version" {
			continue
		}
		pv, had := prevMap[k]
		if !had || !reflect.DeepEqual(pv, lv) {
			remoteMap[k] = lv
		}
	}
	// Fields the mutation cleared vanish from the local map under
	// omitempty; null them out explicitly so the clear survives.
	for k := range prevMap {
		if _, still := localMap[k]; !still {
			remoteMap[k] = nil
		}
	}

	remoteMap["version"] = remoteRec.EntityVersion() + 1
	remoteMap["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	return fromMap[T](remoteMap)
}

// currentRecord reads the entity's in-memory value at this instant.
func currentRecord[T model.Entity](e *Engine, tbl table[T], id string) (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var zero T
	if e.closed {
		return zero, false
	}
	sl := tbl.slice(&e.snap)
	idx := findIndex(*sl, id)
	if idx < 0 {
		return zero, false
	}
	return (*sl)[idx], true
}

// replaceRecord swaps the in-memory value for an entity, if still present.
func replaceRecord[T model.Entity](e *Engine, tbl table[T], id string, rec T) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	sl := tbl.slice(&e.snap)
	if idx := findIndex(*sl, id); idx >= 0 {
		(*sl)[idx] = rec
	}
	e.mu.Unlock()
	e.notify()
}

// removeRecord drops an entity from memory.
func removeRecord[T model.Entity](e *Engine, tbl table[T], id string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	sl := tbl.slice(&e.snap)
	kept := (*sl)[:0]
	for _, it := range *sl {
		if it.EntityID() == id {
			continue
		}
		kept = append(kept, it)
	}
	*sl = kept
	e.mu.Unlock()
	e.notify()
}

// rollback reverts a failed optimistic write: creates are removed,
// updates restored to their pre-mutation value. The cache is re-mirrored
// so memory and cache never diverge silently.
func rollback[T model.Entity](e *Engine, ctx context.Context, tbl table[T], id string, prev *T) {
	if prev == nil {
		removeRecord(e, tbl, id)
	} else {
		replaceRecord(e, tbl, id, *prev)
	}
	e.writeCache(ctx)
}

// ingestChange applies one change-feed event to a collection. The feed
// is authoritative for arrival order, but an Update older than what the
// engine already holds (lower version, or same version with an older
// updated_at) is discarded so in-memory state never moves backwards.
func ingestChange[T model.Entity](e *Engine, tbl table[T], ev remote.Event) {
	switch ev.Kind {
	case remote.ChangeInsert, remote.ChangeUpdate:
		rec, ok := decode[T](ev.Record)
		if !ok {
			e.log.WithField("table", ev.Table).Debug("undecodable feed payload")
			return
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		sl := tbl.slice(&e.snap)
		idx := findIndex(*sl, rec.EntityID())
		switch {
		case idx < 0:
			*sl = append(*sl, rec)
		case staleFeedRecord((*sl)[idx], rec):
			e.mu.Unlock()
			e.log.WithField("entity_id", rec.EntityID()).
				Debug("discarding stale feed event")
			return
		default:
			(*sl)[idx] = rec
		}
		e.mu.Unlock()

	case remote.ChangeDelete:
		raw := ev.OldRecord
		if len(raw) == 0 {
			raw = ev.Record
		}
		rec, ok := decode[T](raw)
		if !ok {
			return
		}
		removeRecord(e, tbl, rec.EntityID())

	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	e.writeCache(ctx)
	e.notify()
}

// staleFeedRecord reports whether an incoming feed record predates what
// the engine already holds for that entity.
func staleFeedRecord[T model.Entity](cur, incoming T) bool {
	if incoming.EntityVersion() != cur.EntityVersion() {
		return incoming.EntityVersion() < cur.EntityVersion()
	}
	return incoming.EntityUpdatedAt().Before(cur.EntityUpdatedAt())
}

// toMap round-trips a record through JSON into a field map.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("remapping record: %w", err)
	}
	return m, nil
}

// fromMap rebuilds a record from a field map.
func fromMap[T any](m map[string]any) (T, error) {
	var v T
	data, err := json.Marshal(m)
	if err != nil {
		return v, fmt.Errorf("marshaling field map: %w", err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("rebuilding record: %w", err)
	}
	return v, nil
}

// withMeta returns a copy of rec with version and updated_at stamped.
func withMeta[T model.Entity](rec T, version int64, ts time.Time) (T, error) {
	m, err := toMap(rec)
	if err != nil {
		var zero T
		return zero, err
	}
	m["version"] = version
	m["updated_at"] = ts.Format(time.RFC3339Nano)
	return fromMap[T](m)
}
