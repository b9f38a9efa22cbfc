package drawing

import (
	"context"
	"errors"

	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/eventqueue"
	"github.com/cory-johannsen/fortune/internal/scripting"
	"github.com/cory-johannsen/fortune/internal/storage"
	"github.com/cory-johannsen/fortune/internal/ticket"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

// Explain returns the message shown to the person running the drawing for err.
// More specific causes are checked first: a desync wraps the wheel error that
// revealed it, and a handler failure wraps the handler's own error.
func Explain(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDesync):
		return "this spin does not match the wheel shown here; re-synchronizing with the host"
	case errors.Is(err, eventqueue.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "network timeout re-synchronizing spin"
	case errors.Is(err, eventqueue.ErrQueueFull):
		return "too many actions are waiting; let the current spin finish and try again"
	case errors.Is(err, eventqueue.ErrClosed):
		return "the drawing is shutting down"
	case errors.Is(err, eventqueue.ErrEventRemoved):
		return "this action was cleared from the queue before it ran"
	case errors.Is(err, eventqueue.ErrEventSkipped):
		return "this action was skipped and did not run"
	case errors.Is(err, ErrReadOnly):
		return "this wheel mirrors another host; start spins on the host"
	case errors.Is(err, ErrSpinTooLong):
		return "the spin is longer than the time allowed for one action; shorten the spin duration"
	case errors.Is(err, ErrTicketsDisabled):
		return "verifiable tickets are not enabled for this drawing"
	case errors.Is(err, ErrTicketSession):
		return "this ticket belongs to a different drawing"
	case errors.Is(err, ticket.ErrReplayed):
		return "this ticket was already used"
	case errors.Is(err, ticket.ErrInvalidProof), errors.Is(err, ticket.ErrValueMismatch):
		return "the ticket's signature does not verify"
	case errors.Is(err, scripting.ErrNoWeightFunction), errors.Is(err, scripting.ErrInvalidWeight):
		return "the weight rule could not turn amounts into weights"
	case errors.Is(err, broadcast.ErrInvalidMessage):
		return "the drawing received a malformed message"
	case errors.Is(err, storage.ErrSnapshotNotFound):
		return "no saved drawing exists for this session"
	case errors.Is(err, wheel.ErrNotFound):
		return "the winner is not on this wheel"
	case errors.Is(err, wheel.ErrInvalidInput):
		return "no eligible participants: add a participant with a positive weight"
	default:
		var herr *eventqueue.HandlerError
		if errors.As(err, &herr) {
			return "the drawing step failed: " + herr.Err.Error()
		}
		return "unexpected error: " + err.Error()
	}
}
