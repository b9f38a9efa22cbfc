package eventqueue

import "time"

// State is the queue's lifecycle state.
type State int

const (
	Idle State = iota
	Processing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Kind identifies a notification.
type Kind int

const (
	EventAdded Kind = iota
	EventStarted
	EventCompleted
	EventFailed
	EventSkipped
	EventsRemoved
	QueuePaused
	QueueResumed
	QueueCleared
	QueueStopped
	StateChanged
)

var kindNames = [...]string{
	EventAdded:     "event_added",
	EventStarted:   "event_started",
	EventCompleted: "event_completed",
	EventFailed:    "event_failed",
	EventSkipped:   "event_skipped",
	EventsRemoved:  "events_removed",
	QueuePaused:    "queue_paused",
	QueueResumed:   "queue_resumed",
	QueueCleared:   "queue_cleared",
	QueueStopped:   "queue_stopped",
	StateChanged:   "state_changed",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Notification reports one change in the queue. Fields not relevant to Kind
// are left zero.
type Notification struct {
	Kind       Kind
	EventID    string
	Result     any
	Err        error
	Duration   time.Duration
	RemovedIDs []string
	Previous   State
	Current    State
	Size       int
	At         time.Time
}
