package drawing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/eventqueue"
	"github.com/cory-johannsen/fortune/internal/ticket"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

// Outcome is the result of an applied spin event.
type Outcome struct {
	// Message is the spin as published, with its sequence number.
	Message broadcast.Message `json:"message"`
	// Winner is the overall winner when this spin decided the drawing.
	Winner string `json:"winner,omitempty"`
}

// Spin queues one producer spin. The outcome is computed when the event runs,
// against the pool and settings in effect at that point: one weighted draw in
// classic mode, the next elimination of the drawing in progress in dropout
// mode (a new elimination queue is built when none is in progress).
//
// Postcondition: Returns ErrReadOnly on a replica or the queued event, whose
// result is an Outcome.
func (h *Host) Spin() (*eventqueue.Event, error) {
	if h.replica {
		return nil, ErrReadOnly
	}
	return h.queue.Add(func(ctx context.Context) (any, error) {
		return h.spin(ctx, nil)
	}, "")
}

// SpinWithTicket queues a spin whose outcome is decided by a verified ticket.
// In classic mode the ticket's value is the single uniform draw; in dropout
// mode a new drawing starts whose rounds read a stream derived from the ticket,
// so the final winner is the classic winner for the same ticket. Randomness
// that only positions the pointer inside the winner's slice stays local.
//
// The proof is checked on admission; the ticket is consumed when the event
// runs, so a ticket queued twice fails the second event with ErrReplayed.
func (h *Host) SpinWithTicket(t ticket.Ticket) (*eventqueue.Event, error) {
	if h.replica {
		return nil, ErrReadOnly
	}
	if h.verifier == nil {
		return nil, ErrTicketsDisabled
	}
	if t.Context != h.sessionID {
		return nil, fmt.Errorf("ticket %s for %q: %w", t.ID, t.Context, ErrTicketSession)
	}
	if _, err := h.verifier.Check(t); err != nil {
		return nil, err
	}
	return h.queue.Add(func(ctx context.Context) (any, error) {
		vt, err := h.verifier.Verify(t)
		if err != nil {
			return nil, err
		}
		return h.spin(ctx, &vt)
	}, "ticket-"+t.ID)
}

func (h *Host) spin(ctx context.Context, vt *ticket.Verified) (any, error) {
	reset, m, err := h.plan(vt)
	if err != nil {
		return nil, err
	}
	if reset != nil {
		published := h.publisher.Publish(*reset)
		h.logger.Debug("dropout drawing reset", zap.Uint64("seq", published.Seq))
	}
	return h.applySpin(ctx, m)
}

// plan computes the next spin message. reset is non-nil when a new dropout
// drawing starts after an earlier one changed what viewers display.
func (h *Host) plan(vt *ticket.Verified) (reset *broadcast.Message, m broadcast.Message, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	settings := h.settings
	spin := broadcast.Spin{DurationSeconds: settings.SpinDurationSeconds}
	var pool wheel.Pool

	switch settings.Mode {
	case broadcast.ModeDropout:
		if vt != nil || h.order == nil {
			drawer := h.drawer
			ticketID := ""
			if vt != nil {
				drawer = wheel.NewLoggedDrawer(ticket.NewDerivedSource(*vt), h.logger)
				ticketID = vt.ID
			}
			order, err := drawer.EliminationQueue(h.pool)
			if err != nil {
				return nil, broadcast.Message{}, fmt.Errorf("building elimination queue: %w", err)
			}
			if h.survivors != nil {
				msg := broadcast.ParticipantsChanged(h.pool)
				reset = &msg
			}
			h.order = order
			h.survivors = h.pool.Clone()
			h.ticketID = ticketID
		}
		pool = h.survivors
		round := h.roundLocked()
		spin.WinnerID = h.order[round]
		spin.Round = round + 1
		spin.Eliminated = len(h.survivors) > 1
		spin.TicketID = h.ticketID

	default:
		pool = h.pool
		drawer := h.drawer
		if vt != nil {
			drawer = wheel.NewLoggedDrawer(ticket.NewSource(*vt), h.logger)
			spin.TicketID = vt.ID
		}
		winner, _, err := drawer.Select(pool)
		if err != nil {
			return nil, broadcast.Message{}, fmt.Errorf("selecting winner: %w", err)
		}
		spin.WinnerID = winner
	}

	spin.EqualSlices = needsEqualSlices(pool, spin.WinnerID)
	slices, err := spinSlices(pool, spin.EqualSlices)
	if err != nil {
		return nil, broadcast.Message{}, err
	}
	spin.RotationDistance, err = wheel.DistanceToWinner(spin.WinnerID, slices, settings.BaseRotations, h.drawer.Source())
	if err != nil {
		return nil, broadcast.Message{}, fmt.Errorf("positioning spin: %w", err)
	}
	return reset, broadcast.SpinMessage(spin), nil
}

// applySpin verifies and publishes a spin, records its effect, then waits
// for the animation.
func (h *Host) applySpin(ctx context.Context, m broadcast.Message) (any, error) {
	spin := *m.Spin

	h.mu.Lock()
	err := verifySpin(h.wheelLocked(), spin)
	h.mu.Unlock()
	if err != nil {
		h.logger.Warn("spin rejected",
			zap.String("winner_id", spin.WinnerID),
			zap.Float64("rotation_distance", spin.RotationDistance),
			zap.Error(err),
		)
		return nil, err
	}

	published := h.publisher.Publish(m)
	h.logger.Info("spin",
		zap.Uint64("seq", published.Seq),
		zap.String("winner_id", spin.WinnerID),
		zap.Int("round", spin.Round),
		zap.Bool("eliminated", spin.Eliminated),
		zap.String("ticket_id", spin.TicketID),
	)

	// Viewers now hold the result, so it is recorded before the animation
	// wait and survives a failed or timed-out wait.
	h.mu.Lock()
	decided := ""
	if spin.Eliminated {
		if h.survivors == nil {
			h.survivors = h.pool.Clone()
		}
		h.survivors = h.survivors.Without(spin.WinnerID)
		if len(h.survivors) == 1 {
			decided = h.survivors[0].ID
		}
	} else {
		decided = spin.WinnerID
	}
	if decided != "" {
		h.winner = decided
		h.order = nil
	}
	if spin.TicketID != "" {
		h.metadata[metaLastTicket] = spin.TicketID
	}
	snap := h.snapshotLocked()
	h.mu.Unlock()

	if decided != "" {
		h.logger.Info("winner", zap.String("winner_id", decided), zap.String("ticket_id", spin.TicketID))
	}
	h.save(ctx, snap)

	if err := h.animator.Animate(ctx, spin); err != nil {
		h.logger.Warn("spin animation interrupted",
			zap.Uint64("seq", published.Seq),
			zap.String("winner_id", spin.WinnerID),
			zap.Error(err),
		)
	}
	return Outcome{Message: published, Winner: decided}, nil
}

// verifySpin checks that spin resolves to its declared winner on pool.
func verifySpin(pool wheel.Pool, spin broadcast.Spin) error {
	slices, err := spinSlices(pool, spin.EqualSlices)
	if err != nil {
		return fmt.Errorf("spin for %q: %w: %w", spin.WinnerID, ErrDesync, err)
	}
	got, err := wheel.WinnerFromDistance(spin.RotationDistance, slices)
	if err != nil {
		return fmt.Errorf("spin for %q: %w: %w", spin.WinnerID, ErrDesync, err)
	}
	if got != spin.WinnerID {
		return fmt.Errorf("spin for %q lands on %q: %w", spin.WinnerID, got, ErrDesync)
	}
	return nil
}

// spinSlices maps pool onto the wheel, weighted or with equal slices.
func spinSlices(pool wheel.Pool, equal bool) ([]wheel.Slice, error) {
	if !equal {
		return wheel.Slices(pool)
	}
	flat := make(wheel.Pool, len(pool))
	for i, p := range pool {
		flat[i] = wheel.Participant{ID: p.ID, Name: p.Name, Weight: 1}
	}
	return wheel.Slices(flat)
}

// needsEqualSlices reports whether target's weighted slice is too narrow to
// stop on.
func needsEqualSlices(pool wheel.Pool, target string) bool {
	slices, err := wheel.Slices(pool)
	if err != nil {
		return true
	}
	for _, s := range slices {
		if s.ID == target {
			return s.Width() < wheel.MinSliceWidth
		}
	}
	return false
}
