// Package eventqueue provides a FIFO, single-flight task runner. Handlers run
// strictly one at a time in insertion order, each under its own timeout, so
// every subscriber observes the same ordered sequence of outcomes.
package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQueueFull is returned by Add when MaxQueueSize non-terminal events are queued.
	ErrQueueFull = errors.New("event queue full")
	// ErrTimeout is returned when an event or a wait exceeds its deadline.
	ErrTimeout = errors.New("timed out")
	// ErrEventInFlight is returned when skipping or removing the running event.
	ErrEventInFlight = errors.New("event is processing")
	// ErrEventCompleted is returned when skipping or removing a completed event.
	ErrEventCompleted = errors.New("event already completed")
	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("event queue closed")
	// ErrEventSkipped is returned by Wait and Result for a skipped event.
	ErrEventSkipped = errors.New("event skipped")
	// ErrEventRemoved is returned by Wait and Result for an event removed
	// before it ran, including by Clear and Close.
	ErrEventRemoved = errors.New("event removed")
)

// HandlerError wraps the error or panic raised by a queued handler.
type HandlerError struct {
	EventID string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("event %s handler failed: %v", e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Handler is a deferred unit of work. ctx is cancelled when the event times
// out or the queue is closed.
type Handler func(ctx context.Context) (any, error)

// Status is a point-in-time copy of an event's flags.
type Status struct {
	Processing bool
	Completed  bool
	Skipped    bool
	Removed    bool
}

// Terminal reports whether the event will never run (again).
func (s Status) Terminal() bool {
	return s.Completed || s.Skipped || s.Removed
}

// Event is a control handle for one queued handler. The queue owns execution;
// callers may only observe the event or skip/remove it before it starts.
type Event struct {
	q         *Queue
	id        string
	handler   Handler
	createdAt time.Time
	done      chan struct{}

	// Guarded by q.mu.
	status     Status
	startedAt  time.Time
	finishedAt time.Time
	result     any
	err        error
}

// ID returns the event identifier.
func (e *Event) ID() string { return e.id }

// CreatedAt returns the time the event was added.
func (e *Event) CreatedAt() time.Time { return e.createdAt }

// Done is closed once the event is completed, skipped or removed.
func (e *Event) Done() <-chan struct{} { return e.done }

// Status returns a copy of the event's flags.
func (e *Event) Status() Status {
	e.q.mu.Lock()
	defer e.q.mu.Unlock()
	return e.status
}

// Result returns the handler's result and error. Both are nil until the
// event is terminal.
//
// Postcondition: An event that ended without running reports ErrEventSkipped
// or ErrEventRemoved.
func (e *Event) Result() (any, error) {
	e.q.mu.Lock()
	defer e.q.mu.Unlock()
	switch {
	case e.status.Skipped:
		return nil, fmt.Errorf("event %s: %w", e.id, ErrEventSkipped)
	case e.status.Removed:
		return nil, fmt.Errorf("event %s: %w", e.id, ErrEventRemoved)
	}
	return e.result, e.err
}

// Duration returns how long the handler ran, or zero if it has not finished.
func (e *Event) Duration() time.Duration {
	e.q.mu.Lock()
	defer e.q.mu.Unlock()
	if e.finishedAt.IsZero() {
		return 0
	}
	return e.finishedAt.Sub(e.startedAt)
}

// Wait blocks until the event is terminal or ctx is done.
//
// Postcondition: Returns the handler's result, ErrEventSkipped or
// ErrEventRemoved when the event never ran, or ctx.Err().
func (e *Event) Wait(ctx context.Context) (any, error) {
	select {
	case <-e.done:
		return e.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Skip excludes the event from execution without changing the order of the others.
//
// Precondition: The event is not processing.
// Postcondition: Returns ErrEventInFlight or ErrEventCompleted when the event
// already started; skipping twice is a no-op.
func (e *Event) Skip() error {
	q := e.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := e.checkControllableLocked(); err != nil {
		return err
	}
	if e.status.Skipped || e.status.Removed {
		return nil
	}
	e.status.Skipped = true
	e.finishLocked()
	q.stats.Skipped++
	q.emitLocked(Notification{Kind: EventSkipped, EventID: e.id})
	return nil
}

// Remove deletes the event from the queue.
//
// Precondition: The event is not processing.
// Postcondition: Returns ErrEventInFlight or ErrEventCompleted when the event
// already started. Removing a skipped or removed event is a no-op.
func (e *Event) Remove() error {
	q := e.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := e.checkControllableLocked(); err != nil {
		return err
	}
	if e.status.Skipped || e.status.Removed {
		return nil
	}
	q.removeLocked([]*Event{e})
	return nil
}

func (e *Event) checkControllableLocked() error {
	if e.status.Processing {
		return fmt.Errorf("event %s: %w", e.id, ErrEventInFlight)
	}
	if e.status.Completed {
		return fmt.Errorf("event %s: %w", e.id, ErrEventCompleted)
	}
	return nil
}

// finishLocked closes the done channel exactly once.
func (e *Event) finishLocked() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}
