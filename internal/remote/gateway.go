// Package remote defines the contract to the hosted data service: row-level
// CRUD over the boards/lists/tasks tables, conditional updates keyed on a
// version counter, bulk upsert for reordering, owner reassignment, and an
// owner-scoped change feed.
package remote

import (
	"context"
	"encoding/json"
)

// Table names the three remote collections.
type Table string

const (
	TableBoards Table = "boards"
	TableLists  Table = "lists"
	TableTasks  Table = "tasks"
)

// ChangeKind classifies a change-feed event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Event is a single change-feed entry. Record carries the full new row
// for inserts/updates; OldRecord carries the prior row for deletes.
type Event struct {
	Table     Table           `json:"table"`
	Kind      ChangeKind      `json:"kind"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

// Subscription is an open change-feed stream for one owner.
type Subscription interface {
	// Events returns the channel events are delivered on. The channel
	// is closed when the subscription ends.
	Events() <-chan Event

	// Close stops delivery and releases the stream.
	Close() error
}

// VersionAny disables the version predicate on Update, making the write
// unconditional (used for merged write-backs).
const VersionAny int64 = -1

// Gateway is the boundary to the remote data service. All reads are
// scoped by owner id; conditional writes fail with ErrVersionConflict
// when the stored version no longer matches the predicate.
type Gateway interface {
	// List reads all rows of table owned by ownerID, ordered by the
	// named column ascending, into out (a pointer to a slice).
	List(ctx context.Context, table Table, ownerID, orderBy string, out any) error

	// Get reads a single row by id into out.
	Get(ctx context.Context, table Table, id string, out any) error

	// Insert creates a new row.
	Insert(ctx context.Context, table Table, record any) error

	// Update replaces the row with the given id. When expect is not
	// VersionAny, the write succeeds only if the stored row's version
	// equals expect; otherwise it fails with ErrVersionConflict.
	Update(ctx context.Context, table Table, id string, record any, expect int64) error

	// Delete removes a row by id. Deleting an absent row is not an error.
	Delete(ctx context.Context, table Table, id string) error

	// DeleteWhere removes all rows whose field equals value. Used for
	// cascade deletes (lists by board_id, tasks by list_id).
	DeleteWhere(ctx context.Context, table Table, field, value string) error

	// BulkUpsert writes a batch of rows unconditionally. Used for
	// sibling reorders where many positions change at once.
	BulkUpsert(ctx context.Context, table Table, records any) error

	// ReassignOwner reassigns every row owned by fromID across all
	// tables to toID. Idempotent on the server side.
	ReassignOwner(ctx context.Context, fromID, toID string) error

	// Subscribe opens an owner-scoped change feed over all tables.
	Subscribe(ctx context.Context, ownerID string) (Subscription, error)
}
