// Package bolt provides embedded snapshot persistence in a single bbolt file,
// for hosts that run without a database server.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cory-johannsen/fortune/internal/storage"
)

var snapshotsBucket = []byte("drawing_snapshots")

// Store keeps one JSON encoded snapshot per session id.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database file at path.
//
// Precondition: path's directory must exist and be writable.
// Postcondition: Returns a ready Store, or an error if the file is locked
// by another process for longer than one second.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store %q: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Save creates or replaces the snapshot for s.SessionID.
//
// Precondition: s must pass Validate.
// Postcondition: The stored snapshot's UpdatedAt is set to the current time.
func (s *Store) Save(ctx context.Context, snap storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot %q: %w", snap.SessionID, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Put([]byte(snap.SessionID), data)
	})
	if err != nil {
		return fmt.Errorf("saving snapshot %q: %w", snap.SessionID, err)
	}
	return nil
}

// Load returns the snapshot for sessionID.
//
// Postcondition: Returns storage.ErrSnapshotNotFound if none is stored.
func (s *Store) Load(ctx context.Context, sessionID string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(snapshotsBucket).Get([]byte(sessionID)); v != nil {
			// v is only valid inside the transaction.
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("loading snapshot %q: %w", sessionID, err)
	}
	if data == nil {
		return storage.Snapshot{}, fmt.Errorf("session %q: %w", sessionID, storage.ErrSnapshotNotFound)
	}
	var snap storage.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return storage.Snapshot{}, fmt.Errorf("decoding snapshot %q: %w", sessionID, err)
	}
	return snap, nil
}

// Delete removes the snapshot for sessionID.
//
// Postcondition: Returns storage.ErrSnapshotNotFound if none is stored.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(snapshotsBucket)
		if b.Get([]byte(sessionID)) == nil {
			return fmt.Errorf("session %q: %w", sessionID, storage.ErrSnapshotNotFound)
		}
		return b.Delete([]byte(sessionID))
	})
}

// Sessions returns every stored session id in key order.
func (s *Store) Sessions() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}
