package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/fortune/internal/storage"
)

// SnapshotRepository persists drawing snapshots in the drawing_snapshots table.
type SnapshotRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

var _ storage.Store = (*SnapshotRepository)(nil)

// NewSnapshotRepository creates a SnapshotRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSnapshotRepository(db *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{db: db, now: time.Now}
}

// Save upserts s.
//
// Precondition: s must pass Validate.
// Postcondition: The stored row's updated_at is set to the current time.
func (r *SnapshotRepository) Save(ctx context.Context, s storage.Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO drawing_snapshots (session_id, participants, settings, metadata, winner, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO UPDATE
		 SET participants = EXCLUDED.participants,
		     settings     = EXCLUDED.settings,
		     metadata     = EXCLUDED.metadata,
		     winner       = EXCLUDED.winner,
		     updated_at   = EXCLUDED.updated_at`,
		s.SessionID, participants, settings, metadata, s.Winner, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %q: %w", s.SessionID, err)
	}
	return nil
}

// Load returns the snapshot for sessionID.
//
// Postcondition: Returns storage.ErrSnapshotNotFound if no row exists.
func (r *SnapshotRepository) Load(ctx context.Context, sessionID string) (storage.Snapshot, error) {
	var (
		s                                storage.Snapshot
		participants, settings, metadata []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT session_id, participants, settings, metadata, winner, updated_at
		 FROM drawing_snapshots WHERE session_id = $1`,
		sessionID,
	).Scan(&s.SessionID, &participants, &settings, &metadata, &s.Winner, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.Snapshot{}, fmt.Errorf("session %q: %w", sessionID, storage.ErrSnapshotNotFound)
		}
		return storage.Snapshot{}, fmt.Errorf("loading snapshot %q: %w", sessionID, err)
	}
	if err := json.Unmarshal(participants, &s.Participants); err != nil {
		return storage.Snapshot{}, fmt.Errorf("decoding participants of %q: %w", sessionID, err)
	}
	if err := json.Unmarshal(settings, &s.Settings); err != nil {
		return storage.Snapshot{}, fmt.Errorf("decoding settings of %q: %w", sessionID, err)
	}
	if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
		return storage.Snapshot{}, fmt.Errorf("decoding metadata of %q: %w", sessionID, err)
	}
	return s, nil
}

// Delete removes the snapshot for sessionID.
//
// Postcondition: Returns storage.ErrSnapshotNotFound if no row was deleted.
func (r *SnapshotRepository) Delete(ctx context.Context, sessionID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM drawing_snapshots WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting snapshot %q: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %q: %w", sessionID, storage.ErrSnapshotNotFound)
	}
	return nil
}
