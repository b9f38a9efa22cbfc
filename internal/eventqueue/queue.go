package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxQueueSize bounds the number of non-terminal events.
	DefaultMaxQueueSize = 100
	// DefaultEventTimeout bounds a single handler's execution.
	DefaultEventTimeout = 30 * time.Second

	waitPollInterval = 10 * time.Millisecond
)

// Options configures a Queue.
type Options struct {
	// MaxQueueSize bounds non-terminal events, including the one in flight.
	// Zero selects DefaultMaxQueueSize.
	MaxQueueSize int
	// EventTimeout bounds each handler. Zero selects DefaultEventTimeout.
	EventTimeout time.Duration
	// StopOnError halts draining on the first failed event until Restart is
	// called. The zero value keeps draining past failures.
	StopOnError bool
	// Logger receives execution logs. Nil disables logging.
	Logger *zap.Logger
}

// DefaultOptions returns the stock configuration: 100 events, 30s per event,
// continue on error.
func DefaultOptions() Options {
	return Options{
		MaxQueueSize: DefaultMaxQueueSize,
		EventTimeout: DefaultEventTimeout,
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Added           int
	Completed       int
	Failed          int
	TimedOut        int
	Skipped         int
	Removed         int
	Pending         int
	TotalProcessing time.Duration
	State           State
}

// Queue runs handlers strictly one at a time in insertion order.
type Queue struct {
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	events   []*Event
	current  *Event
	state    State
	paused   bool
	stopped  bool
	closed   bool
	draining bool
	subs     map[chan Notification]struct{}
	stats    Stats
}

// New creates an idle Queue.
//
// Postcondition: Zero MaxQueueSize and EventTimeout are replaced by defaults.
func New(opts Options) *Queue {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = DefaultMaxQueueSize
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = DefaultEventTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[chan Notification]struct{}),
	}
}

// Add enqueues h under id. An empty id is replaced by a generated UUID.
//
// Precondition: h must not be nil.
// Postcondition: Returns ErrQueueFull when MaxQueueSize non-terminal events
// are queued, or ErrClosed after Close.
func (q *Queue) Add(h Handler, id string) (*Event, error) {
	if h == nil {
		return nil, errors.New("eventqueue: nil handler")
	}
	if id == "" {
		id = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if n := q.pendingLocked(); n >= q.opts.MaxQueueSize {
		return nil, fmt.Errorf("adding event %s (%d pending): %w", id, n, ErrQueueFull)
	}

	e := &Event{
		q:         q,
		id:        id,
		handler:   h,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	q.events = append(q.events, e)
	q.stats.Added++
	q.emitLocked(Notification{Kind: EventAdded, EventID: id, Size: q.pendingLocked()})
	q.kickLocked()
	return e, nil
}

// Pause stops new events from starting. The in-flight event runs to completion.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused || q.closed {
		return
	}
	q.paused = true
	q.emitLocked(Notification{Kind: QueuePaused})
	q.setStateLocked(Paused)
}

// Resume restarts draining after Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.paused || q.closed {
		return
	}
	q.paused = false
	q.emitLocked(Notification{Kind: QueueResumed})
	q.settleLocked()
}

// Restart clears the stopped flag set by a failure when StopOnError is set
// and resumes draining.
func (q *Queue) Restart() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped || q.closed {
		return
	}
	q.stopped = false
	q.emitLocked(Notification{Kind: QueueResumed})
	q.settleLocked()
}

// Clear removes every event that has not started. The in-flight event is
// unaffected.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked()
	q.emitLocked(Notification{Kind: QueueCleared})
}

// Close cancels the in-flight handler, removes pending events and closes all
// subscriber channels. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cancel()
	q.clearLocked()
	for ch := range q.subs {
		delete(q.subs, ch)
		close(ch)
	}
}

// WaitForCompletion blocks until no event is pending or in flight.
//
// Postcondition: Returns an error wrapping ErrTimeout when timeout (if
// positive) or ctx's deadline elapses first, or ctx.Err() on cancellation.
func (q *Queue) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		if q.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("waiting for %d events: %w", q.Len(), ErrTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Subscribe registers a notification listener. Notifications that would block
// a full buffer are dropped and logged. The returned cancel func unregisters
// and closes the channel.
func (q *Queue) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Notification, buffer)
	q.mu.Lock()
	if q.closed {
		close(ch)
		q.mu.Unlock()
		return ch, func() {}
	}
	q.subs[ch] = struct{}{}
	q.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			if _, ok := q.subs[ch]; ok {
				delete(q.subs, ch)
				close(ch)
			}
		})
	}
}

// State returns the current lifecycle state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Current returns the in-flight event, or nil.
func (q *Queue) Current() *Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Len returns the number of non-terminal events, including the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// Pending returns the ids of events that have not started, in run order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.events))
	for _, e := range q.events {
		if !e.status.Terminal() && !e.status.Processing {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// Stopped reports whether a failure halted the queue.
func (q *Queue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = q.pendingLocked()
	s.State = q.state
	return s
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		q.compactLocked()
		if q.paused || q.stopped || q.closed {
			q.draining = false
			if !q.paused {
				q.setStateLocked(Idle)
			}
			q.mu.Unlock()
			return
		}
		e := q.nextLocked()
		if e == nil {
			q.draining = false
			q.setStateLocked(Idle)
			q.mu.Unlock()
			return
		}
		e.status.Processing = true
		e.startedAt = time.Now()
		q.current = e
		q.emitLocked(Notification{Kind: EventStarted, EventID: e.id})
		q.mu.Unlock()

		q.logger.Debug("event started", zap.String("event_id", e.id))
		result, err := q.run(e)

		q.mu.Lock()
		e.status.Processing = false
		e.status.Completed = true
		e.finishedAt = time.Now()
		e.result, e.err = result, err
		e.finishLocked()
		q.current = nil
		elapsed := e.finishedAt.Sub(e.startedAt)
		q.stats.TotalProcessing += elapsed
		if err != nil {
			q.stats.Failed++
			if errors.Is(err, ErrTimeout) {
				q.stats.TimedOut++
			}
			q.logger.Warn("event failed",
				zap.String("event_id", e.id),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
			q.emitLocked(Notification{Kind: EventFailed, EventID: e.id, Err: err, Duration: elapsed})
			if q.opts.StopOnError && !q.closed {
				q.stopped = true
				q.draining = false
				q.emitLocked(Notification{Kind: QueueStopped, EventID: e.id, Err: err})
				if !q.paused {
					q.setStateLocked(Idle)
				}
				q.mu.Unlock()
				return
			}
		} else {
			q.stats.Completed++
			q.logger.Debug("event completed", zap.String("event_id", e.id), zap.Duration("elapsed", elapsed))
			q.emitLocked(Notification{Kind: EventCompleted, EventID: e.id, Result: result, Duration: elapsed})
		}
		q.mu.Unlock()
	}
}

// run executes e's handler under the per-event timeout, converting panics
// into HandlerError.
func (q *Queue) run(e *Event) (any, error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.opts.EventTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := e.handler(ctx)
		ch <- outcome{value: v, err: err}
	}()

	select {
	case o := <-ch:
		if o.err == nil {
			return o.value, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, q.timeoutError(e)
		}
		return nil, &HandlerError{EventID: e.id, Err: o.err}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, q.timeoutError(e)
		}
		return nil, fmt.Errorf("event %s: %w", e.id, ErrClosed)
	}
}

func (q *Queue) timeoutError(e *Event) error {
	return fmt.Errorf("event %s exceeded %s: %w", e.id, q.opts.EventTimeout, ErrTimeout)
}

// kickLocked starts a drain goroutine if one is not already running and
// there is work to do.
func (q *Queue) kickLocked() {
	if q.draining || q.paused || q.stopped || q.closed || q.nextLocked() == nil {
		return
	}
	q.draining = true
	q.setStateLocked(Processing)
	go q.drain()
}

// settleLocked recomputes state after a pause or stop is lifted.
func (q *Queue) settleLocked() {
	if q.paused {
		q.setStateLocked(Paused)
		return
	}
	if q.draining || q.current != nil {
		q.setStateLocked(Processing)
		return
	}
	q.kickLocked()
	if !q.draining {
		q.setStateLocked(Idle)
	}
}

func (q *Queue) setStateLocked(s State) {
	if q.state == s {
		return
	}
	prev := q.state
	q.state = s
	q.emitLocked(Notification{Kind: StateChanged, Previous: prev, Current: s, Size: q.pendingLocked()})
}

func (q *Queue) clearLocked() {
	var pending []*Event
	for _, e := range q.events {
		if !e.status.Terminal() && !e.status.Processing {
			pending = append(pending, e)
		}
	}
	q.removeLocked(pending)
}

// removeLocked marks events removed, deletes them from the list and emits a
// single EventsRemoved notification.
func (q *Queue) removeLocked(events []*Event) {
	if len(events) == 0 {
		return
	}
	gone := make(map[*Event]struct{}, len(events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		e.status.Removed = true
		e.finishLocked()
		gone[e] = struct{}{}
		ids = append(ids, e.id)
	}
	kept := q.events[:0]
	for _, e := range q.events {
		if _, ok := gone[e]; !ok {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(q.events); i++ {
		q.events[i] = nil
	}
	q.events = kept
	q.stats.Removed += len(ids)
	q.emitLocked(Notification{Kind: EventsRemoved, RemovedIDs: ids, Size: q.pendingLocked()})
}

// compactLocked drops terminal events from the front of the list.
func (q *Queue) compactLocked() {
	i := 0
	for i < len(q.events) && q.events[i].status.Terminal() {
		q.events[i] = nil
		i++
	}
	q.events = q.events[i:]
}

func (q *Queue) nextLocked() *Event {
	for _, e := range q.events {
		if !e.status.Terminal() && !e.status.Processing {
			return e
		}
	}
	return nil
}

func (q *Queue) pendingLocked() int {
	n := 0
	for _, e := range q.events {
		if !e.status.Terminal() {
			n++
		}
	}
	return n
}

// emitLocked delivers n to every subscriber without blocking.
func (q *Queue) emitLocked(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	for ch := range q.subs {
		select {
		case ch <- n:
		default:
			q.logger.Warn("dropping queue notification",
				zap.Stringer("kind", n.Kind),
				zap.String("event_id", n.EventID),
			)
		}
	}
}
