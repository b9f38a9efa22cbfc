// Package api exposes a drawing host over HTTP: producer controls, the
// current state, and the websocket viewer endpoint.
package api

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/drawing"
	"github.com/cory-johannsen/fortune/internal/eventqueue"
	"github.com/cory-johannsen/fortune/internal/ticket"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

// MaxSimulationIterations bounds POST /api/simulate.
const MaxSimulationIterations = 1_000_000

// Handler serves the HTTP API of one drawing host.
type Handler struct {
	host   *drawing.Host
	logger *zap.Logger
}

// NewRouter builds the HTTP routes. viewers serves GET /ws and may be nil.
//
// Precondition: host and logger must be non-nil.
func NewRouter(host *drawing.Host, viewers http.Handler, logger *zap.Logger) *http.ServeMux {
	h := &Handler{host: host, logger: logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /api/state", withLogging(logger, h.GetState))
	mux.HandleFunc("POST /api/participants", withLogging(logger, h.UpdateParticipants))
	mux.HandleFunc("POST /api/settings", withLogging(logger, h.UpdateSettings))
	mux.HandleFunc("POST /api/spin", withLogging(logger, h.Spin))
	mux.HandleFunc("POST /api/simulate", withLogging(logger, h.Simulate))
	mux.HandleFunc("POST /api/queue/{action}", withLogging(logger, h.ControlQueue))

	// The websocket upgrade needs the raw ResponseWriter, so it is not wrapped.
	if viewers != nil {
		mux.Handle("GET /ws", viewers)
	}
	return mux
}

// EventResponse acknowledges a queued event.
type EventResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}

// ParticipantsRequest is the body of POST /api/participants.
type ParticipantsRequest struct {
	Participants []wheel.Participant `json:"participants"`
}

// SpinRequest is the optional body of POST /api/spin.
type SpinRequest struct {
	Ticket *ticket.Ticket `json:"ticket,omitempty"`
}

// SimulateRequest is the body of POST /api/simulate.
type SimulateRequest struct {
	Iterations int `json:"iterations"`
}

// SimulateResponse is the result of POST /api/simulate.
type SimulateResponse struct {
	Iterations       int            `json:"iterations"`
	MaxAbsDifference float64        `json:"maxAbsDifference"`
	Reports          []wheel.Report `json:"reports"`
}

// GetState handles GET /api/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, h.logger, http.StatusOK, h.host.State())
}

// UpdateParticipants handles POST /api/participants.
func (h *Handler) UpdateParticipants(w http.ResponseWriter, r *http.Request) {
	var req ParticipantsRequest
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, h.logger, err)
		return
	}
	h.accepted(w, r)(h.host.UpdateParticipants(req.Participants))
}

// UpdateSettings handles POST /api/settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req broadcast.Settings
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, h.logger, err)
		return
	}
	h.accepted(w, r)(h.host.UpdateSettings(req))
}

// Spin handles POST /api/spin. With ?wait=true the response is the Outcome
// once the spin has been shown; otherwise the queued event is acknowledged.
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	var req SpinRequest
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, h.logger, err)
		return
	}
	if req.Ticket != nil {
		h.accepted(w, r)(h.host.SpinWithTicket(*req.Ticket))
		return
	}
	h.accepted(w, r)(h.host.Spin())
}

// Simulate handles POST /api/simulate and waits for the simulation.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, h.logger, err)
		return
	}
	if req.Iterations > MaxSimulationIterations {
		errorResponse(w, h.logger, fmt.Errorf("iterations %d above %d: %w", req.Iterations, MaxSimulationIterations, errBadRequest))
		return
	}
	ev, err := h.host.Simulate(req.Iterations)
	if err != nil {
		errorResponse(w, h.logger, err)
		return
	}
	v, err := ev.Wait(r.Context())
	if err != nil {
		errorResponse(w, h.logger, err)
		return
	}
	reports, ok := v.([]wheel.Report)
	if !ok {
		errorResponse(w, h.logger, fmt.Errorf("simulation event %s returned %T", ev.ID(), v))
		return
	}
	jsonResponse(w, h.logger, http.StatusOK, SimulateResponse{
		Iterations:       req.Iterations,
		MaxAbsDifference: wheel.MaxAbsDifference(reports),
		Reports:          reports,
	})
}

// ControlQueue handles POST /api/queue/{pause,resume,clear,restart}.
func (h *Handler) ControlQueue(w http.ResponseWriter, r *http.Request) {
	q := h.host.Queue()
	switch action := r.PathValue("action"); action {
	case "pause":
		q.Pause()
	case "resume":
		q.Resume()
	case "clear":
		q.Clear()
	case "restart":
		q.Restart()
	default:
		errorResponse(w, h.logger, fmt.Errorf("queue action %q: %w", action, errBadRequest))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// accepted returns a function answering with the queued event, or with the
// event's result when the request asks to wait.
func (h *Handler) accepted(w http.ResponseWriter, r *http.Request) func(*eventqueue.Event, error) {
	return func(ev *eventqueue.Event, err error) {
		if err != nil {
			errorResponse(w, h.logger, err)
			return
		}
		if r.URL.Query().Get("wait") != "true" {
			jsonResponse(w, h.logger, http.StatusAccepted, EventResponse{EventID: ev.ID(), Status: "queued"})
			return
		}
		v, err := ev.Wait(r.Context())
		if err != nil {
			errorResponse(w, h.logger, err)
			return
		}
		jsonResponse(w, h.logger, http.StatusOK, v)
	}
}
