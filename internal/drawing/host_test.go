package drawing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/drawing"
	"github.com/cory-johannsen/fortune/internal/eventqueue"
	"github.com/cory-johannsen/fortune/internal/scripting"
	"github.com/cory-johannsen/fortune/internal/storage"
	"github.com/cory-johannsen/fortune/internal/ticket"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

// recorder is a Publisher that stamps and keeps every message.
type recorder struct {
	mu   sync.Mutex
	seq  uint64
	msgs []broadcast.Message
}

func (r *recorder) Publish(m broadcast.Message) broadcast.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	m.Seq = r.seq
	r.msgs = append(r.msgs, m)
	return m
}

func (r *recorder) messages() []broadcast.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.Message(nil), r.msgs...)
}

func (r *recorder) kinds() []broadcast.Kind {
	var out []broadcast.Kind
	for _, m := range r.messages() {
		out = append(out, m.Type)
	}
	return out
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu    sync.Mutex
	snaps map[string]storage.Snapshot
	saves int
}

func newMemStore() *memStore {
	return &memStore{snaps: map[string]storage.Snapshot{}}
}

func (m *memStore) Save(_ context.Context, s storage.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[s.SessionID] = s
	m.saves++
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (storage.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return storage.Snapshot{}, storage.ErrSnapshotNotFound
	}
	return s, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snaps[id]; !ok {
		return storage.ErrSnapshotNotFound
	}
	delete(m.snaps, id)
	return nil
}

func newHost(t *testing.T, opts drawing.Options) (*drawing.Host, *recorder) {
	t.Helper()
	rec := &recorder{}
	if opts.Publisher == nil {
		opts.Publisher = rec
	}
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	if opts.Animator == nil {
		opts.Animator = drawing.NoAnimation{}
	}
	if opts.SessionID == "" {
		opts.SessionID = "stream-1"
	}
	h, err := drawing.New(opts)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h, rec
}

// settle returns a function that waits for a queued event and returns its result.
func settle(t *testing.T) func(*eventqueue.Event, error) (any, error) {
	return func(ev *eventqueue.Event, err error) (any, error) {
		t.Helper()
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		v, werr := ev.Wait(ctx)
		require.NoError(t, ctx.Err(), "event did not finish")
		return v, werr
	}
}

// done is settle for events that must succeed.
func done(t *testing.T) func(*eventqueue.Event, error) any {
	return func(ev *eventqueue.Event, err error) any {
		t.Helper()
		v, err := settle(t)(ev, err)
		require.NoError(t, err)
		return v
	}
}

func spinOutcome(t *testing.T, h *drawing.Host) drawing.Outcome {
	t.Helper()
	ev, err := h.Spin()
	return done(t)(ev, err).(drawing.Outcome)
}

var samplePool = wheel.Pool{
	{ID: "a", Name: "Alice", Weight: 50},
	{ID: "b", Name: "Bob", Weight: 30},
	{ID: "c", Name: "Carol", Weight: 15},
	{ID: "d", Name: "Dan", Weight: 5},
}

func TestNew_Validation(t *testing.T) {
	_, err := drawing.New(drawing.Options{Logger: zaptest.NewLogger(t)})
	assert.Error(t, err, "publisher is required")
	_, err = drawing.New(drawing.Options{Publisher: &recorder{}})
	assert.Error(t, err, "logger is required")
	_, err = drawing.New(drawing.Options{
		Publisher: &recorder{},
		Logger:    zaptest.NewLogger(t),
		Settings:  broadcast.Settings{Mode: "bingo", SpinDurationSeconds: 1},
	})
	assert.ErrorIs(t, err, broadcast.ErrInvalidMessage)
}

func TestHost_ClassicSpinMatchesReplay(t *testing.T) {
	const seed = 7
	h, rec := newHost(t, drawing.Options{Source: wheel.NewSeededSource(seed)})
	done(t)(h.UpdateParticipants(samplePool))

	out := spinOutcome(t, h)
	want, err := wheel.ReplaySpin(seed, samplePool, 5, 10*time.Second)
	require.NoError(t, err)

	require.NotNil(t, out.Message.Spin)
	assert.Equal(t, want.WinnerID, out.Message.Spin.WinnerID)
	assert.Equal(t, want.RotationDistance, out.Message.Spin.RotationDistance)
	assert.Equal(t, 10.0, out.Message.Spin.DurationSeconds)
	assert.Equal(t, want.WinnerID, out.Winner)
	assert.Equal(t, want.WinnerID, h.State().Winner)
	assert.Equal(t, []broadcast.Kind{broadcast.KindParticipantsChanged, broadcast.KindSpin}, rec.kinds())
	assert.Equal(t, uint64(2), out.Message.Seq)
}

func TestHost_ClassicSpinLeavesPoolIntact(t *testing.T) {
	h, _ := newHost(t, drawing.Options{Source: wheel.NewSeededSource(1)})
	done(t)(h.UpdateParticipants(samplePool))
	for i := 0; i < 5; i++ {
		out := spinOutcome(t, h)
		assert.NotEmpty(t, out.Winner)
	}
	assert.Equal(t, samplePool, h.State().Participants)
	assert.Zero(t, h.State().Round)
}

func TestHost_EmptyPoolFails(t *testing.T) {
	h, _ := newHost(t, drawing.Options{})
	_, err := settle(t)(h.Spin())
	require.Error(t, err)
	assert.ErrorIs(t, err, wheel.ErrInvalidInput)
	var herr *eventqueue.HandlerError
	assert.True(t, errors.As(err, &herr))
	assert.Equal(t, "no eligible participants: add a participant with a positive weight", drawing.Explain(err))
}

func TestHost_DropoutPlaysEliminationQueue(t *testing.T) {
	const seed = 11
	pool := wheel.Pool{
		{ID: "a", Weight: 5},
		{ID: "b", Weight: 0},
		{ID: "c", Weight: 3},
		{ID: "d", Weight: 1},
	}
	order, err := wheel.BuildEliminationQueue(pool, wheel.NewSeededSource(seed))
	require.NoError(t, err)
	// A zero-weight participant is only drawn after every positive one, so
	// it is revealed first.
	require.Equal(t, "b", order[0])

	h, rec := newHost(t, drawing.Options{Source: wheel.NewSeededSource(seed)})
	done(t)(h.UpdateSettings(broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 3, BaseRotations: 2}))
	done(t)(h.UpdateParticipants(pool))

	var eliminated []string
	var final drawing.Outcome
	for round := 1; round < len(pool); round++ {
		out := spinOutcome(t, h)
		s := out.Message.Spin
		assert.True(t, s.Eliminated)
		assert.Equal(t, round, s.Round)
		eliminated = append(eliminated, s.WinnerID)
		final = out
		if round == 1 {
			assert.True(t, s.EqualSlices, "zero-weight elimination uses equal slices")
		}
		assert.GreaterOrEqual(t, s.RotationDistance, 2*360.0)
	}
	assert.Equal(t, []string(order[:len(order)-1]), eliminated)
	assert.Equal(t, order.Winner(), final.Winner)

	st := h.State()
	assert.Equal(t, order.Winner(), st.Winner)
	require.Len(t, st.Survivors, 1)
	assert.Equal(t, order.Winner(), st.Survivors[0].ID)
	assert.Len(t, st.Participants, 4, "the full pool is kept")

	// The next spin starts a new drawing and resets viewers first.
	before := len(rec.messages())
	out := spinOutcome(t, h)
	assert.Equal(t, 1, out.Message.Spin.Round)
	msgs := rec.messages()[before:]
	require.Len(t, msgs, 2)
	assert.Equal(t, broadcast.KindParticipantsChanged, msgs[0].Type)
	assert.Equal(t, []wheel.Participant(pool), msgs[0].Participants)
}

func TestHost_DropoutSingleParticipant(t *testing.T) {
	h, _ := newHost(t, drawing.Options{Settings: broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 1}})
	done(t)(h.UpdateParticipants(wheel.Pool{{ID: "solo", Weight: 0}}))
	out := spinOutcome(t, h)
	assert.False(t, out.Message.Spin.Eliminated)
	assert.Equal(t, "solo", out.Winner)
}

func TestHost_SettingsChangeAbandonsDropout(t *testing.T) {
	h, _ := newHost(t, drawing.Options{Settings: broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 1}})
	done(t)(h.UpdateParticipants(samplePool))
	spinOutcome(t, h)
	assert.Equal(t, 1, h.State().Round)

	done(t)(h.UpdateSettings(broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 2}))
	st := h.State()
	assert.Zero(t, st.Round)
	assert.Nil(t, st.Survivors)

	out := spinOutcome(t, h)
	assert.Equal(t, 1, out.Message.Spin.Round)
}

func TestReplica_MirrorsProducer(t *testing.T) {
	producer, rec := newHost(t, drawing.Options{
		Source:   wheel.NewSeededSource(3),
		Settings: broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 1, BaseRotations: 1},
	})
	done(t)(producer.UpdateParticipants(samplePool))
	for i := 0; i < 5; i++ {
		spinOutcome(t, producer)
	}

	replica, mirror := newHost(t, drawing.Options{
		Replica:  true,
		Settings: broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 1, BaseRotations: 1},
	})
	var last *eventqueue.Event
	for _, m := range rec.messages() {
		ev, err := replica.Apply(m)
		require.NoError(t, err)
		last = ev
	}
	done(t)(last, nil)
	require.NoError(t, replica.Queue().WaitForCompletion(context.Background(), 5*time.Second))
	assert.Zero(t, replica.Queue().Stats().Failed)

	ps, rs := producer.State(), replica.State()
	assert.Equal(t, ps.Participants, rs.Participants)
	assert.Equal(t, ps.Winner, rs.Winner)
	assert.Equal(t, ps.Round, rs.Round)
	assert.Equal(t, rec.kinds(), mirror.kinds())
}

func TestReplica_JoinsMidDropout(t *testing.T) {
	stream := broadcast.NewStream(broadcast.DefaultBacklog, zaptest.NewLogger(t))
	t.Cleanup(stream.Close)
	producer, _ := newHost(t, drawing.Options{Publisher: stream, Source: wheel.NewSeededSource(21)})
	done(t)(producer.UpdateSettings(broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 1, BaseRotations: 1}))
	done(t)(producer.UpdateParticipants(samplePool))
	spinOutcome(t, producer)
	require.Equal(t, 1, producer.State().Round)

	replay, live, cancel := stream.Subscribe(0, 64)
	defer cancel()
	require.Len(t, replay, 3)
	assert.Equal(t, broadcast.KindSpin, replay[2].Type)

	for producer.State().Winner == "" {
		spinOutcome(t, producer)
	}
	replica, _ := newHost(t, drawing.Options{Replica: true})
	msgs := replay
	for len(msgs) < len(replay)+len(samplePool)-2 {
		select {
		case m := <-live:
			msgs = append(msgs, m)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for live spins")
		}
	}
	for _, m := range msgs {
		_, err := settle(t)(replica.Apply(m))
		require.NoError(t, err, "seq %d", m.Seq)
	}

	ps, rs := producer.State(), replica.State()
	assert.Equal(t, ps.Winner, rs.Winner)
	assert.Equal(t, ps.Round, rs.Round)
	assert.Equal(t, ps.Survivors, rs.Survivors)
	assert.Zero(t, replica.Queue().Stats().Failed)
}

func TestReplica_RejectsDesyncedSpin(t *testing.T) {
	producer, rec := newHost(t, drawing.Options{Source: wheel.NewSeededSource(5)})
	done(t)(producer.UpdateParticipants(samplePool))
	out := spinOutcome(t, producer)

	replica, mirror := newHost(t, drawing.Options{Replica: true})
	done(t)(replica.Apply(rec.messages()[0]))

	tampered := out.Message
	s := *tampered.Spin
	for _, p := range samplePool {
		if p.ID != s.WinnerID {
			s.WinnerID = p.ID
			break
		}
	}
	tampered.Spin = &s
	_, err := settle(t)(replica.Apply(tampered))
	require.Error(t, err)
	assert.ErrorIs(t, err, drawing.ErrDesync)
	assert.Contains(t, drawing.Explain(err), "re-synchronizing")
	assert.Empty(t, replica.State().Winner)
	assert.Equal(t, []broadcast.Kind{broadcast.KindParticipantsChanged}, mirror.kinds(), "a rejected spin is not rebroadcast")

	_, err = settle(t)(replica.Apply(out.Message))
	assert.NoError(t, err)
}

func TestReplica_ReadOnly(t *testing.T) {
	h, _ := newHost(t, drawing.Options{Replica: true})
	_, err := h.Spin()
	assert.ErrorIs(t, err, drawing.ErrReadOnly)
	_, err = h.UpdateParticipants(samplePool)
	assert.ErrorIs(t, err, drawing.ErrReadOnly)
	_, err = h.UpdateSettings(broadcast.DefaultSettings())
	assert.ErrorIs(t, err, drawing.ErrReadOnly)
	_, err = h.SpinWithTicket(ticket.Ticket{})
	assert.ErrorIs(t, err, drawing.ErrReadOnly)
}

func TestHost_ApplyRejectsMalformed(t *testing.T) {
	h, _ := newHost(t, drawing.Options{})
	_, err := h.Apply(broadcast.Message{Type: broadcast.KindSpin})
	assert.ErrorIs(t, err, broadcast.ErrInvalidMessage)
	assert.Zero(t, h.Queue().Stats().Added)
}

func ticketHost(t *testing.T, mode broadcast.Mode) (*drawing.Host, *ticket.Signer) {
	t.Helper()
	key, err := ticket.GenerateKey()
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	verifier, err := ticket.NewVerifier(&key.PublicKey, 16, logger)
	require.NoError(t, err)
	h, _ := newHost(t, drawing.Options{
		Verifier: verifier,
		Settings: broadcast.Settings{Mode: mode, SpinDurationSeconds: 1, BaseRotations: 3},
	})
	done(t)(h.UpdateParticipants(samplePool))
	return h, ticket.NewSigner(key, logger)
}

func TestHost_ClassicTicketDecidesWinner(t *testing.T) {
	h, signer := ticketHost(t, broadcast.ModeClassic)
	tk, err := signer.Issue("stream-1")
	require.NoError(t, err)

	ev, err := h.SpinWithTicket(tk)
	out := done(t)(ev, err).(drawing.Outcome)
	want, err := wheel.Select(samplePool, tk.Value)
	require.NoError(t, err)
	assert.Equal(t, want, out.Winner)
	assert.Equal(t, tk.ID, out.Message.Spin.TicketID)

	// Admission only checks the proof; the replay is caught when the event runs.
	_, err = settle(t)(h.SpinWithTicket(tk))
	assert.ErrorIs(t, err, ticket.ErrReplayed)
	assert.Equal(t, "this ticket was already used", drawing.Explain(err))
}

func TestHost_DropoutTicketWinnerMatchesClassic(t *testing.T) {
	h, signer := ticketHost(t, broadcast.ModeDropout)
	tk, err := signer.Issue("stream-1")
	require.NoError(t, err)

	ev, err := h.SpinWithTicket(tk)
	first := done(t)(ev, err).(drawing.Outcome)
	assert.Equal(t, tk.ID, first.Message.Spin.TicketID)

	var final drawing.Outcome
	for final.Winner == "" {
		final = spinOutcome(t, h)
		assert.Equal(t, tk.ID, final.Message.Spin.TicketID, "later rounds keep the drawing's ticket")
	}
	want, err := wheel.Select(samplePool, tk.Value)
	require.NoError(t, err)
	assert.Equal(t, want, final.Winner)
}

func TestHost_TicketAdmission(t *testing.T) {
	h, signer := ticketHost(t, broadcast.ModeClassic)
	foreign, err := signer.Issue("another-stream")
	require.NoError(t, err)
	_, err = h.SpinWithTicket(foreign)
	assert.ErrorIs(t, err, drawing.ErrTicketSession)

	tk, err := signer.Issue("stream-1")
	require.NoError(t, err)
	tk.Proof = append([]byte(nil), tk.Proof...)
	tk.Proof[len(tk.Proof)-1] ^= 0xff
	_, err = h.SpinWithTicket(tk)
	assert.ErrorIs(t, err, ticket.ErrInvalidProof)

	plain, _ := newHost(t, drawing.Options{})
	_, err = plain.SpinWithTicket(tk)
	assert.ErrorIs(t, err, drawing.ErrTicketsDisabled)
}

func TestHost_WeightRule(t *testing.T) {
	rule, err := scripting.CompileWeightRule("double", `function weight(amount, id, name) return amount * 2 end`, 10000, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(rule.Close)

	h, rec := newHost(t, drawing.Options{Rule: rule})
	done(t)(h.UpdateParticipants(wheel.Pool{{ID: "a", Weight: 1.5}, {ID: "b", Weight: 4}}))
	want := wheel.Pool{{ID: "a", Weight: 3}, {ID: "b", Weight: 8}}
	assert.Equal(t, want, h.State().Participants)
	assert.Equal(t, []wheel.Participant(want), rec.messages()[0].Participants)

	bad, err := scripting.CompileWeightRule("negative", `function weight() return -1 end`, 10000, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(bad.Close)
	h2, _ := newHost(t, drawing.Options{Rule: bad})
	_, err = h2.UpdateParticipants(samplePool)
	assert.ErrorIs(t, err, scripting.ErrInvalidWeight)
}

func TestHost_PersistsAndRestores(t *testing.T) {
	store := newMemStore()
	h, _ := newHost(t, drawing.Options{Store: store, Source: wheel.NewSeededSource(9)})
	settings := broadcast.Settings{Mode: broadcast.ModeClassic, SpinDurationSeconds: 4, BaseRotations: 2}
	done(t)(h.UpdateSettings(settings))
	done(t)(h.UpdateParticipants(samplePool))
	out := spinOutcome(t, h)

	snap, err := store.Load(context.Background(), "stream-1")
	require.NoError(t, err)
	assert.Equal(t, wheel.Pool(samplePool), snap.Participants)
	assert.Equal(t, settings, snap.Settings)
	assert.Equal(t, out.Winner, snap.Winner)
	assert.Equal(t, 3, store.saves)

	restored, rec := newHost(t, drawing.Options{Store: store})
	ok, err := restored.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	st := restored.State()
	assert.Equal(t, wheel.Pool(samplePool), st.Participants)
	assert.Equal(t, settings, st.Settings)
	assert.Equal(t, out.Winner, st.Winner)
	assert.Equal(t, []broadcast.Kind{broadcast.KindSettings, broadcast.KindParticipantsChanged}, rec.kinds())
}

func TestHost_RestoreKeepsConfiguredSpinDuration(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save(context.Background(), storage.Snapshot{
		SessionID:    "stream-1",
		Participants: samplePool,
		Settings:     broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 45},
	}))
	configured := broadcast.Settings{Mode: broadcast.ModeClassic, SpinDurationSeconds: 2, BaseRotations: 1}
	h, rec := newHost(t, drawing.Options{Store: store, Settings: configured})
	ok, err := h.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, configured, h.State().Settings)
	assert.Equal(t, configured, *rec.messages()[0].Settings)
}

func TestHost_RestoreWithoutSnapshot(t *testing.T) {
	h, rec := newHost(t, drawing.Options{Store: newMemStore()})
	ok, err := h.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, rec.messages())

	plain, _ := newHost(t, drawing.Options{})
	ok, err = plain.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHost_Simulate(t *testing.T) {
	h, _ := newHost(t, drawing.Options{Source: wheel.NewSeededSource(2)})
	done(t)(h.UpdateParticipants(samplePool))
	v := done(t)(h.Simulate(2000))
	reports := v.([]wheel.Report)
	require.Len(t, reports, len(samplePool))
	var wins int
	for _, r := range reports {
		wins += r.WinsCount
	}
	assert.Equal(t, 2000, wins)

	_, err := h.Simulate(0)
	assert.ErrorIs(t, err, wheel.ErrInvalidInput)
}

func TestHost_AnimationTimeoutKeepsSpin(t *testing.T) {
	blocking := drawing.AnimatorFunc(func(ctx context.Context, _ broadcast.Spin) error {
		<-ctx.Done()
		return ctx.Err()
	})
	store := newMemStore()
	h, rec := newHost(t, drawing.Options{
		Animator: blocking,
		Store:    store,
		Source:   wheel.NewSeededSource(4),
		Settings: broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 0.01},
		Queue:    eventqueue.Options{EventTimeout: 50 * time.Millisecond},
	})
	done(t)(h.UpdateParticipants(wheel.Pool{{ID: "a", Weight: 1}, {ID: "b", Weight: 1}, {ID: "c", Weight: 1}}))

	var eliminated []string
	for round := 1; round <= 2; round++ {
		_, err := settle(t)(h.Spin())
		if err != nil {
			assert.ErrorIs(t, err, eventqueue.ErrTimeout)
		}
		msgs := rec.messages()
		last := msgs[len(msgs)-1]
		require.Equal(t, broadcast.KindSpin, last.Type)
		assert.Equal(t, round, last.Spin.Round)
		eliminated = append(eliminated, last.Spin.WinnerID)
		assert.Equal(t, round, h.State().Round, "a published spin is recorded even when its animation times out")
	}
	assert.NotEqual(t, eliminated[0], eliminated[1])

	st := h.State()
	require.Len(t, st.Survivors, 1)
	assert.NotContains(t, eliminated, st.Winner)
	assert.Equal(t, st.Survivors[0].ID, st.Winner)

	snap, err := store.Load(context.Background(), "stream-1")
	require.NoError(t, err)
	assert.Equal(t, st.Winner, snap.Winner)
}

func TestHost_AnimationErrorIsNotAFailure(t *testing.T) {
	broken := drawing.AnimatorFunc(func(context.Context, broadcast.Spin) error {
		return errors.New("display detached")
	})
	h, _ := newHost(t, drawing.Options{Animator: broken, Source: wheel.NewSeededSource(8)})
	done(t)(h.UpdateParticipants(samplePool))

	out := spinOutcome(t, h)
	assert.NotEmpty(t, out.Winner)
	assert.Equal(t, out.Winner, h.State().Winner)
	assert.Zero(t, h.Queue().Stats().Failed)
}

func TestHost_RejectsSpinLongerThanEventTimeout(t *testing.T) {
	_, err := drawing.New(drawing.Options{
		Publisher: &recorder{},
		Logger:    zaptest.NewLogger(t),
		Settings:  broadcast.Settings{Mode: broadcast.ModeClassic, SpinDurationSeconds: 60},
	})
	assert.ErrorIs(t, err, drawing.ErrSpinTooLong, "the default event timeout is 30s")

	h, rec := newHost(t, drawing.Options{
		Settings: broadcast.Settings{Mode: broadcast.ModeClassic, SpinDurationSeconds: 1},
		Queue:    eventqueue.Options{EventTimeout: 5 * time.Second},
	})
	_, err = h.UpdateSettings(broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 5})
	assert.ErrorIs(t, err, drawing.ErrSpinTooLong)
	_, err = h.UpdateSettings(broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: -1})
	assert.ErrorIs(t, err, broadcast.ErrInvalidMessage)
	assert.Empty(t, rec.messages())

	done(t)(h.UpdateSettings(broadcast.Settings{Mode: broadcast.ModeDropout, SpinDurationSeconds: 4.5}))
	assert.Equal(t, 4.5, h.State().Settings.SpinDurationSeconds)
}

func TestHost_EventsRunInCallOrder(t *testing.T) {
	var mu sync.Mutex
	var animated []string
	anim := drawing.AnimatorFunc(func(_ context.Context, s broadcast.Spin) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		animated = append(animated, s.WinnerID)
		mu.Unlock()
		return nil
	})
	h, rec := newHost(t, drawing.Options{Animator: anim})
	_, err := h.UpdateParticipants(wheel.Pool{{ID: "x", Weight: 1}})
	require.NoError(t, err)
	_, err = h.Spin()
	require.NoError(t, err)
	_, err = h.UpdateParticipants(wheel.Pool{{ID: "y", Weight: 1}})
	require.NoError(t, err)
	_, err = h.Spin()
	require.NoError(t, err)
	require.NoError(t, h.Queue().WaitForCompletion(context.Background(), 5*time.Second))

	assert.Equal(t, []string{"x", "y"}, animated)
	assert.Equal(t, []broadcast.Kind{
		broadcast.KindParticipantsChanged, broadcast.KindSpin,
		broadcast.KindParticipantsChanged, broadcast.KindSpin,
	}, rec.kinds())
}
