// Package cache is the local versioned record store: a per-identity
// persisted mirror of the last-known-good snapshot of boards, lists,
// and tasks, used for instant load and offline reads. It holds no merge
// logic; reconciliation belongs to the sync engine.
package cache

import (
	"context"
	"time"

	"github.com/tasksmint/tasksmint/internal/model"
)

// Store is the persistence contract the sync engine and identity
// manager depend on. A missing or unreadable snapshot reads as absent,
// never as an error that stops startup.
type Store interface {
	// ReadSnapshot returns the cached snapshot for an identity and when
	// it was written. ok is false when no usable snapshot exists.
	ReadSnapshot(ctx context.Context, ownerID string) (snap model.Snapshot, savedAt time.Time, ok bool, err error)

	// WriteSnapshot replaces the cached snapshot for an identity.
	WriteSnapshot(ctx context.Context, ownerID string, snap model.Snapshot) error

	// DeleteSnapshot drops the cached snapshot for an identity.
	DeleteSnapshot(ctx context.Context, ownerID string) error

	// GuestIdentity returns the persisted guest identity, or nil when
	// none has been minted yet.
	GuestIdentity(ctx context.Context) (*model.Identity, error)

	// SaveGuestIdentity persists the guest identity for reuse across runs.
	SaveGuestIdentity(ctx context.Context, id model.Identity) error

	// ClearGuestIdentity removes the persisted guest identity record.
	ClearGuestIdentity(ctx context.Context) error

	Close() error
}
