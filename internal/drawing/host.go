// Package drawing hosts one live drawing session. A Host owns the event queue
// that serialises participant changes, settings changes and spins, keeps the
// wheel state those events act on, and publishes every applied message to
// viewers.
//
// A producer Host computes outcomes (Spin, SpinWithTicket) and accepts
// producer updates. A replica Host only applies the producer's messages in
// order (Apply) and verifies that each spin resolves to its declared winner
// on the local wheel.
package drawing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/eventqueue"
	"github.com/cory-johannsen/fortune/internal/scripting"
	"github.com/cory-johannsen/fortune/internal/storage"
	"github.com/cory-johannsen/fortune/internal/ticket"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

var (
	// ErrDesync is returned when a spin does not resolve to its declared
	// winner on the local wheel.
	ErrDesync = errors.New("spin does not match local wheel")
	// ErrReadOnly is returned when a producer operation is called on a replica.
	ErrReadOnly = errors.New("host is a replica")
	// ErrTicketsDisabled is returned by SpinWithTicket when no verifier is configured.
	ErrTicketsDisabled = errors.New("verifiable tickets are not enabled")
	// ErrTicketSession is returned for a ticket issued for another session.
	ErrTicketSession = errors.New("ticket was issued for another session")
	// ErrSpinTooLong is returned for settings whose spin animation would not
	// finish within the queue's event timeout.
	ErrSpinTooLong = errors.New("spin duration must be shorter than the event timeout")
)

// Options configures a Host.
type Options struct {
	// SessionID keys the persisted snapshot and binds tickets to this drawing.
	SessionID string
	// Replica disables the producer operations.
	Replica bool
	// Queue configures the event queue. The zero value selects
	// eventqueue.DefaultOptions; Queue.Logger defaults to Logger.
	Queue eventqueue.Options
	// Settings are used until a snapshot or settings message replaces them.
	Settings broadcast.Settings
	// Publisher receives every applied message. Required.
	Publisher broadcast.Publisher
	// Store persists a snapshot after each state change. Nil disables persistence.
	Store storage.Store
	// Animator is awaited after each spin is published. Nil selects SleepAnimator.
	Animator Animator
	// Source supplies local randomness. Nil selects a crypto source.
	Source wheel.Source
	// Verifier checks tickets for SpinWithTicket. Nil disables tickets.
	Verifier *ticket.Verifier
	// Rule maps raw participant amounts to weights in UpdateParticipants.
	Rule *scripting.WeightRule
	// Logger is required.
	Logger *zap.Logger
}

// Host runs one drawing session.
type Host struct {
	sessionID string
	replica   bool
	queue     *eventqueue.Queue
	publisher broadcast.Publisher
	store     storage.Store
	animator  Animator
	drawer    *wheel.Drawer
	verifier  *ticket.Verifier
	rule      *scripting.WeightRule
	logger    *zap.Logger
	// eventTimeout bounds each queued event, animation included.
	eventTimeout time.Duration

	mu       sync.Mutex
	pool     wheel.Pool
	settings broadcast.Settings
	winner   string
	metadata map[string]string
	// survivors is the remaining pool of a dropout drawing, nil when none ran
	// since the last participants or settings change.
	survivors wheel.Pool
	// order is the producer's elimination queue of the drawing in progress.
	order    wheel.EliminationQueue
	ticketID string
}

// State is a point-in-time view of a Host.
type State struct {
	SessionID    string             `json:"sessionId"`
	Participants wheel.Pool         `json:"participants"`
	Survivors    wheel.Pool         `json:"survivors,omitempty"`
	Settings     broadcast.Settings `json:"settings"`
	Winner       string             `json:"winner,omitempty"`
	Round        int                `json:"round"`
	Queue        eventqueue.State   `json:"-"`
	QueueState   string             `json:"queueState"`
	Pending      []string           `json:"pending"`
	Stats        eventqueue.Stats   `json:"-"`
}

// New creates a Host with an empty pool.
//
// Precondition: opts.Publisher and opts.Logger must be non-nil.
// Postcondition: Returns a ready Host, or an error for invalid settings or a
// spin duration not below the queue's event timeout.
func New(opts Options) (*Host, error) {
	if opts.Publisher == nil {
		return nil, errors.New("drawing: nil publisher")
	}
	if opts.Logger == nil {
		return nil, errors.New("drawing: nil logger")
	}
	if opts.SessionID == "" {
		opts.SessionID = "default"
	}
	if opts.Settings == (broadcast.Settings{}) {
		opts.Settings = broadcast.DefaultSettings()
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Animator == nil {
		opts.Animator = SleepAnimator{}
	}
	if opts.Source == nil {
		opts.Source = wheel.NewCryptoSource()
	}
	if opts.Queue == (eventqueue.Options{}) {
		opts.Queue = eventqueue.DefaultOptions()
	}
	if opts.Queue.EventTimeout <= 0 {
		opts.Queue.EventTimeout = eventqueue.DefaultEventTimeout
	}
	if err := checkSpinDuration(opts.Settings, opts.Queue.EventTimeout); err != nil {
		return nil, err
	}
	logger := opts.Logger.With(zap.String("session_id", opts.SessionID))
	if opts.Queue.Logger == nil {
		opts.Queue.Logger = logger
	}
	return &Host{
		sessionID: opts.SessionID,
		replica:   opts.Replica,
		queue:     eventqueue.New(opts.Queue),
		publisher: opts.Publisher,
		store:     opts.Store,
		animator:  opts.Animator,
		drawer:    wheel.NewLoggedDrawer(opts.Source, logger),
		verifier:  opts.Verifier,
		rule:      opts.Rule,
		logger:    logger,
		settings:  opts.Settings,
		metadata:  map[string]string{},

		eventTimeout: opts.Queue.EventTimeout,
	}, nil
}

// SessionID returns the session the host runs.
func (h *Host) SessionID() string { return h.sessionID }

// Replica reports whether the host only applies upstream messages.
func (h *Host) Replica() bool { return h.replica }

// Queue returns the host's event queue for pause, resume and observation.
func (h *Host) Queue() *eventqueue.Queue { return h.queue }

// State returns the current wheel state and queue status.
func (h *Host) State() State {
	h.mu.Lock()
	s := State{
		SessionID:    h.sessionID,
		Participants: h.pool.Clone(),
		Survivors:    h.survivors.Clone(),
		Settings:     h.settings,
		Winner:       h.winner,
		Round:        h.roundLocked(),
	}
	h.mu.Unlock()
	s.Queue = h.queue.State()
	s.QueueState = s.Queue.String()
	s.Pending = h.queue.Pending()
	s.Stats = h.queue.Stats()
	return s
}

// Close stops the queue. Pending events are removed.
func (h *Host) Close() {
	h.queue.Close()
}

// Apply enqueues one inbound message. Messages are applied in call order,
// each after the previous one fully resolved.
//
// Postcondition: Returns the queued event, ErrInvalidMessage for a malformed
// message, or the queue's admission error.
func (h *Host) Apply(m broadcast.Message) (*eventqueue.Event, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return h.queue.Add(func(ctx context.Context) (any, error) {
		return h.apply(ctx, m)
	}, "")
}

// UpdateParticipants replaces the pool. When a weight rule is configured each
// participant's Weight is read as a raw amount and mapped through the rule.
//
// Postcondition: Returns ErrReadOnly on a replica, a rule or validation error,
// or the queued event.
func (h *Host) UpdateParticipants(pool wheel.Pool) (*eventqueue.Event, error) {
	if h.replica {
		return nil, ErrReadOnly
	}
	if h.rule != nil {
		weighted, err := h.rule.Apply(pool)
		if err != nil {
			return nil, fmt.Errorf("applying weight rule %s: %w", h.rule.Name(), err)
		}
		pool = weighted
	}
	return h.Apply(broadcast.ParticipantsChanged(pool))
}

// UpdateSettings changes the drawing format. Any dropout drawing in progress
// is abandoned when the settings message is applied.
//
// Postcondition: Returns ErrReadOnly on a replica, ErrInvalidMessage or
// ErrSpinTooLong for unusable settings, or the queued event.
func (h *Host) UpdateSettings(s broadcast.Settings) (*eventqueue.Event, error) {
	if h.replica {
		return nil, ErrReadOnly
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := checkSpinDuration(s, h.eventTimeout); err != nil {
		return nil, err
	}
	return h.Apply(broadcast.SettingsMessage(s))
}

// checkSpinDuration rejects settings whose animation alone would use up the
// event timeout of the spin that plays it.
func checkSpinDuration(s broadcast.Settings, timeout time.Duration) error {
	spin := time.Duration(s.SpinDurationSeconds * float64(time.Second))
	if spin >= timeout {
		return fmt.Errorf("spin duration %s with event timeout %s: %w", spin, timeout, ErrSpinTooLong)
	}
	return nil
}

// Simulate queues a fairness simulation over the pool as it is when the event
// runs. The event's result is a []wheel.Report.
func (h *Host) Simulate(iterations int) (*eventqueue.Event, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("iterations %d: %w", iterations, wheel.ErrInvalidInput)
	}
	return h.queue.Add(func(ctx context.Context) (any, error) {
		h.mu.Lock()
		pool := h.pool.Clone()
		h.mu.Unlock()
		reports, err := wheel.ResearchDifference(pool, iterations, h.drawer.Source())
		if err != nil {
			return nil, fmt.Errorf("simulating %d drawings: %w", iterations, err)
		}
		h.logger.Info("fairness simulation",
			zap.Int("iterations", iterations),
			zap.Int("pool_size", len(pool)),
			zap.Float64("max_abs_difference", wheel.MaxAbsDifference(reports)),
		)
		return reports, nil
	}, "")
}

// apply executes one message on the queue goroutine.
func (h *Host) apply(ctx context.Context, m broadcast.Message) (any, error) {
	switch m.Type {
	case broadcast.KindParticipantsChanged:
		return h.applyParticipants(ctx, m)
	case broadcast.KindSettings:
		return h.applySettings(ctx, m)
	case broadcast.KindSpin:
		return h.applySpin(ctx, m)
	default:
		return nil, fmt.Errorf("unknown kind %q: %w", m.Type, broadcast.ErrInvalidMessage)
	}
}

func (h *Host) applyParticipants(ctx context.Context, m broadcast.Message) (any, error) {
	h.mu.Lock()
	h.pool = wheel.Pool(m.Participants).Clone()
	h.resetDrawingLocked()
	if h.pool.Index(h.winner) < 0 {
		h.winner = ""
	}
	snap := h.snapshotLocked()
	h.mu.Unlock()

	published := h.publisher.Publish(m)
	h.logger.Info("participants changed",
		zap.Uint64("seq", published.Seq),
		zap.Int("count", len(m.Participants)),
	)
	h.save(ctx, snap)
	return published, nil
}

func (h *Host) applySettings(ctx context.Context, m broadcast.Message) (any, error) {
	h.mu.Lock()
	h.settings = *m.Settings
	h.resetDrawingLocked()
	snap := h.snapshotLocked()
	h.mu.Unlock()

	published := h.publisher.Publish(m)
	h.logger.Info("settings changed",
		zap.Uint64("seq", published.Seq),
		zap.String("mode", string(m.Settings.Mode)),
		zap.Float64("spin_duration_seconds", m.Settings.SpinDurationSeconds),
		zap.Int("base_rotations", m.Settings.BaseRotations),
	)
	h.save(ctx, snap)
	return published, nil
}

func (h *Host) resetDrawingLocked() {
	h.survivors = nil
	h.order = nil
	h.ticketID = ""
}

// roundLocked returns the number of participants eliminated so far.
func (h *Host) roundLocked() int {
	if h.survivors == nil {
		return 0
	}
	return len(h.pool) - len(h.survivors)
}

// wheelLocked returns the pool the next spin is drawn against.
func (h *Host) wheelLocked() wheel.Pool {
	if h.settings.Mode == broadcast.ModeDropout && h.survivors != nil {
		return h.survivors
	}
	return h.pool
}
