package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/drawing"
	"github.com/cory-johannsen/fortune/internal/eventqueue"
	"github.com/cory-johannsen/fortune/internal/scripting"
	"github.com/cory-johannsen/fortune/internal/ticket"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

// maxBodyBytes bounds request bodies; a pool of a few thousand participants
// fits comfortably.
const maxBodyBytes = 4 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withLogging logs each request at debug and each failed request at warn.
func withLogging(logger *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		}
		if rec.status >= http.StatusBadRequest {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}

func jsonResponse(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("encoding response", zap.Error(err))
	}
}

// errorResponse writes err with its status and user-facing explanation.
func errorResponse(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	logger.Debug("request error", zap.Int("status", status), zap.Error(err))
	jsonResponse(w, logger, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: drawing.Explain(err),
	})
}

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, drawing.ErrReadOnly):
		return http.StatusConflict
	case errors.Is(err, drawing.ErrTicketsDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, eventqueue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, eventqueue.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, eventqueue.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, eventqueue.ErrEventRemoved),
		errors.Is(err, eventqueue.ErrEventSkipped):
		return http.StatusConflict
	case errors.Is(err, ticket.ErrReplayed):
		return http.StatusConflict
	case errors.Is(err, drawing.ErrTicketSession),
		errors.Is(err, drawing.ErrSpinTooLong),
		errors.Is(err, ticket.ErrInvalidProof),
		errors.Is(err, ticket.ErrValueMismatch),
		errors.Is(err, broadcast.ErrInvalidMessage),
		errors.Is(err, scripting.ErrInvalidWeight),
		errors.Is(err, scripting.ErrNoWeightFunction),
		errors.Is(err, wheel.ErrInvalidInput),
		errors.Is(err, wheel.ErrNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// parseJSONBody decodes r's body into v, rejecting unknown fields.
// An empty body leaves v unchanged.
func parseJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%v: %w", err, errBadRequest)
	}
	return nil
}
