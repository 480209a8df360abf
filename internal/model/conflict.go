package model

import "time"

// Conflict represents a merge notification surfaced to the user when a
// write was reconciled against a newer remote record instead of applied
// as-is. Conflicts are ephemeral: they expire on a fixed timer or when
// the user dismisses them.
type Conflict struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// EntityKind identifies which collection the conflicting entity
	// belongs to.
	EntityKind EntityKind `json:"entity_kind"`

	// EntityID is the conflicting entity's identifier.
	EntityID string `json:"entity_id"`

	// Message is the human-readable conflict summary.
	Message string `json:"message"`

	// Timestamp is when the conflict was detected.
	Timestamp time.Time `json:"timestamp"`
}
