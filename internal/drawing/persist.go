package drawing

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/storage"
)

const metaLastTicket = "last_ticket_id"

// Restore loads the session snapshot, if any, and publishes its settings and
// participants so late viewers start from the restored wheel. A dropout
// drawing that was in progress is not restored. Saved settings whose spin
// would outlast the event timeout are replaced by the configured ones.
//
// Precondition: No event has been queued yet.
// Postcondition: Returns false without error when no snapshot exists or no
// store is configured.
func (h *Host) Restore(ctx context.Context) (bool, error) {
	if h.store == nil {
		return false, nil
	}
	snap, err := h.store.Load(ctx, h.sessionID)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		h.logger.Info("no snapshot to restore")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("restoring session %q: %w", h.sessionID, err)
	}

	if err := checkSpinDuration(snap.Settings, h.eventTimeout); err != nil {
		h.logger.Warn("keeping configured settings", zap.Error(err))
		h.mu.Lock()
		snap.Settings = h.settings
		h.mu.Unlock()
	}

	h.mu.Lock()
	h.pool = snap.Participants.Clone()
	h.settings = snap.Settings
	h.winner = snap.Winner
	h.metadata = map[string]string{}
	maps.Copy(h.metadata, snap.Metadata)
	h.resetDrawingLocked()
	h.mu.Unlock()

	h.publisher.Publish(broadcast.SettingsMessage(snap.Settings))
	h.publisher.Publish(broadcast.ParticipantsChanged(snap.Participants))
	h.logger.Info("snapshot restored",
		zap.Int("participants", len(snap.Participants)),
		zap.String("mode", string(snap.Settings.Mode)),
		zap.String("winner", snap.Winner),
		zap.Time("updated_at", snap.UpdatedAt),
	)
	return true, nil
}

func (h *Host) snapshotLocked() storage.Snapshot {
	meta := make(map[string]string, len(h.metadata))
	maps.Copy(meta, h.metadata)
	return storage.Snapshot{
		SessionID:    h.sessionID,
		Participants: h.pool.Clone(),
		Settings:     h.settings,
		Metadata:     meta,
		Winner:       h.winner,
	}
}

// save persists snap. A failed save is logged and does not fail the event:
// the drawing itself already happened and was published.
func (h *Host) save(ctx context.Context, snap storage.Snapshot) {
	if h.store == nil {
		return
	}
	if err := h.store.Save(ctx, snap); err != nil {
		h.logger.Warn("saving snapshot", zap.Error(err))
	}
}
