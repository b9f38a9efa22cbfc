package broadcast

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultBacklog is the number of recent messages kept for resuming subscribers.
const DefaultBacklog = 32

// Publisher accepts messages for delivery to viewers.
type Publisher interface {
	// Publish stamps m with the next sequence number, delivers it and returns
	// the stamped copy.
	Publish(m Message) Message
}

// Stream stamps sequence numbers and fans messages out to subscribers in
// publish order. It retains the latest participants and settings messages,
// plus the spins made against that wheel since, so a new subscriber starts
// from current state, and a bounded backlog so a resuming subscriber misses
// nothing.
//
// A subscriber whose buffer is full is dropped: its channel is closed and it
// must resubscribe, because a viewer that skipped a message is out of sync.
type Stream struct {
	logger *zap.Logger
	limit  int

	mu           sync.Mutex
	seq          uint64
	backlog      []Message
	participants *Message
	settings     *Message
	// drawing holds the eliminations of the dropout drawing in progress, or
	// the latest classic spin.
	drawing []Message
	subs    map[chan Message]struct{}
	closed  bool
}

var _ Publisher = (*Stream)(nil)

// NewStream creates a Stream keeping backlog recent messages.
//
// Precondition: logger must be non-nil.
// Postcondition: backlog <= 0 selects DefaultBacklog.
func NewStream(backlog int, logger *zap.Logger) *Stream {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Stream{
		logger: logger,
		limit:  backlog,
		subs:   make(map[chan Message]struct{}),
	}
}

// Publish stamps m with the next sequence number and delivers it to every
// subscriber without blocking.
func (s *Stream) Publish(m Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return m
	}
	s.seq++
	m.Seq = s.seq

	s.backlog = append(s.backlog, m)
	if over := len(s.backlog) - s.limit; over > 0 {
		s.backlog = append(s.backlog[:0], s.backlog[over:]...)
	}
	switch m.Type {
	case KindParticipantsChanged:
		s.participants = &m
		s.drawing = nil
	case KindSettings:
		s.settings = &m
		s.drawing = nil
	case KindSpin:
		if m.Spin != nil && m.Spin.Eliminated {
			s.drawing = append(s.drawing, m)
		} else {
			s.drawing = append(s.drawing[:0], m)
		}
	}

	for ch := range s.subs {
		select {
		case ch <- m:
		default:
			s.logger.Warn("dropping slow subscriber", zap.Uint64("seq", m.Seq), zap.String("type", string(m.Type)))
			delete(s.subs, ch)
			close(ch)
		}
	}
	return m
}

// Subscribe registers a subscriber. When since is non-zero and the backlog
// still holds every message after since, replay holds exactly those messages;
// otherwise replay is the current state: the latest settings and participants
// messages in sequence order, followed by the spins made since. Live messages
// follow on the channel with no gap or overlap.
func (s *Stream) Subscribe(since uint64, buffer int) (replay []Message, messages <-chan Message, cancel func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Message, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	replay = s.replayLocked(since)
	if s.closed {
		close(ch)
		return replay, ch, func() {}
	}
	s.subs[ch] = struct{}{}

	var once sync.Once
	return replay, ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *Stream) replayLocked(since uint64) []Message {
	if since > 0 && since <= s.seq {
		if since == s.seq {
			return nil
		}
		if len(s.backlog) > 0 && s.backlog[0].Seq <= since+1 {
			var out []Message
			for _, m := range s.backlog {
				if m.Seq > since {
					out = append(out, m)
				}
			}
			return out
		}
	}
	var out []Message
	if s.settings != nil {
		out = append(out, *s.settings)
	}
	if s.participants != nil {
		out = append(out, *s.participants)
	}
	if len(out) == 2 && out[0].Seq > out[1].Seq {
		out[0], out[1] = out[1], out[0]
	}
	return append(out, s.drawing...)
}

// Seq returns the last stamped sequence number.
func (s *Stream) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close disconnects every subscriber. Later publishes are ignored.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
