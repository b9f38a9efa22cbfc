// Package storage defines the persistence boundary for drawing sessions: a
// key-value store of snapshots keyed by session id. Implementations live in
// the postgres and bolt subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a session.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the persisted state of one drawing session.
type Snapshot struct {
	SessionID    string             `json:"session_id"`
	Participants wheel.Pool         `json:"participants"`
	Settings     broadcast.Settings `json:"settings"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	// Winner is the last declared overall winner, or "".
	Winner    string    `json:"winner,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the snapshot can be stored.
func (s Snapshot) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("snapshot: session id must not be empty")
	}
	if err := s.Settings.Validate(); err != nil {
		return fmt.Errorf("snapshot %q: %w", s.SessionID, err)
	}
	return nil
}

// Store loads and saves snapshots.
type Store interface {
	// Save creates or replaces the snapshot for s.SessionID.
	Save(ctx context.Context, s Snapshot) error
	// Load returns the snapshot for sessionID or ErrSnapshotNotFound.
	Load(ctx context.Context, sessionID string) (Snapshot, error)
	// Delete removes the snapshot for sessionID; deleting a missing
	// snapshot returns ErrSnapshotNotFound.
	Delete(ctx context.Context, sessionID string) error
}
