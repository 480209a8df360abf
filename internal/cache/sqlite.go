package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tasksmint/tasksmint/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string, log *logrus.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logrus.New()
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// ReadSnapshot retrieves the cached snapshot for an identity. A missing
// row or unparseable payload reads as absent: the cache is a best-effort
// mirror and must never make startup fail.
func (s *SQLiteStore) ReadSnapshot(
	ctx context.Context,
	ownerID string,
) (model.Snapshot, time.Time, bool, error) {
	var row struct {
		Data    string    `db:"data"`
		SavedAt time.Time `db:"saved_at"`
	}

	err := s.db.GetContext(ctx, &row,
		"SELECT data, saved_at FROM snapshots WHERE owner_id = ?", ownerID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, time.Time{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, time.Time{}, false, fmt.Errorf("reading snapshot for %s: %w", ownerID, err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(row.Data), &snap); err != nil {
		// Corrupt cache content is treated as absent, not fatal.
		s.log.WithField("owner_id", ownerID).WithError(err).
			Warn("cached snapshot unparseable, treating as absent")
		return model.Snapshot{}, time.Time{}, false, nil
	}

	return snap, row.SavedAt, true, nil
}

// WriteSnapshot replaces the cached snapshot for an identity.
func (s *SQLiteStore) WriteSnapshot(
	ctx context.Context,
	ownerID string,
	snap model.Snapshot,
) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot for %s: %w", ownerID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (owner_id, data, saved_at)
		VALUES (?, ?, ?)`,
		ownerID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", ownerID, err)
	}

	return nil
}

// DeleteSnapshot drops the cached snapshot for an identity.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE owner_id = ?", ownerID)
	if err != nil {
		return fmt.Errorf("deleting snapshot for %s: %w", ownerID, err)
	}
	return nil
}

// GuestIdentity returns the persisted guest identity, or nil when none
// has been minted yet.
func (s *SQLiteStore) GuestIdentity(ctx context.Context) (*model.Identity, error) {
	var row struct {
		ID          string `db:"id"`
		Kind        string `db:"kind"`
		Email       string `db:"email"`
		DisplayName string `db:"display_name"`
		AvatarRef   string `db:"avatar_ref"`
	}

	err := s.db.GetContext(ctx, &row,
		"SELECT id, kind, email, display_name, avatar_ref FROM guest_identity LIMIT 1",
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading guest identity: %w", err)
	}

	return &model.Identity{
		ID:          row.ID,
		Kind:        model.IdentityKind(row.Kind),
		Email:       row.Email,
		DisplayName: row.DisplayName,
		AvatarRef:   row.AvatarRef,
	}, nil
}

// SaveGuestIdentity persists the guest identity, replacing any prior one.
// At most one guest identity exists locally at a time.
func (s *SQLiteStore) SaveGuestIdentity(ctx context.Context, id model.Identity) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM guest_identity"); err != nil {
		return fmt.Errorf("clearing prior guest identity: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO guest_identity (id, kind, email, display_name, avatar_ref)
		VALUES (?, ?, ?, ?, ?)`,
		id.ID, string(id.Kind), id.Email, id.DisplayName, id.AvatarRef,
	)
	if err != nil {
		return fmt.Errorf("saving guest identity %s: %w", id.ID, err)
	}

	return tx.Commit()
}

// ClearGuestIdentity removes the persisted guest identity record.
func (s *SQLiteStore) ClearGuestIdentity(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM guest_identity")
	if err != nil {
		return fmt.Errorf("clearing guest identity: %w", err)
	}
	return nil
}
