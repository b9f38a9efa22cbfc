package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/fortune/internal/api"
	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/drawing"
	"github.com/cory-johannsen/fortune/internal/wheel"
)

type testServer struct {
	host   *drawing.Host
	stream *broadcast.Stream
	srv    *httptest.Server
}

func newServer(t *testing.T, replica bool) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	stream := broadcast.NewStream(16, logger)
	host, err := drawing.New(drawing.Options{
		SessionID: "api-test",
		Replica:   replica,
		Publisher: stream,
		Animator:  drawing.NoAnimation{},
		Source:    wheel.NewSeededSource(42),
		Logger:    logger,
	})
	require.NoError(t, err)

	hub := broadcast.NewHub(stream, logger, func(*http.Request) bool { return true })
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = hub.Run(ctx)
	}()

	srv := httptest.NewServer(api.NewRouter(host, hub, logger))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hubDone
		host.Close()
		stream.Close()
	})
	return &testServer{host: host, stream: stream, srv: srv}
}

func (s *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(s.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

var pool = []wheel.Participant{
	{ID: "a", Name: "Alice", Weight: 3},
	{ID: "b", Name: "Bob", Weight: 1},
}

func TestParticipantsAndState(t *testing.T) {
	s := newServer(t, false)
	resp := s.post(t, "/api/participants?wait=true", api.ParticipantsRequest{Participants: pool})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := http.Get(s.srv.URL + "/api/state")
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	st := decode[drawing.State](t, got)
	assert.Equal(t, "api-test", st.SessionID)
	assert.Equal(t, wheel.Pool(pool), st.Participants)
	assert.Equal(t, "idle", st.QueueState)
}

func TestSpin_Waits(t *testing.T) {
	s := newServer(t, false)
	require.Equal(t, http.StatusOK, s.post(t, "/api/participants?wait=true", api.ParticipantsRequest{Participants: pool}).StatusCode)

	resp := s.post(t, "/api/spin?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[drawing.Outcome](t, resp)
	require.NotNil(t, out.Message.Spin)
	assert.Contains(t, []string{"a", "b"}, out.Winner)
	assert.Equal(t, out.Winner, out.Message.Spin.WinnerID)
}

func TestSpin_Queued(t *testing.T) {
	s := newServer(t, false)
	resp := s.post(t, "/api/queue/pause", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.post(t, "/api/spin", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ack := decode[api.EventResponse](t, resp)
	assert.NotEmpty(t, ack.EventID)
	assert.Equal(t, []string{ack.EventID}, s.host.State().Pending)

	require.Equal(t, http.StatusNoContent, s.post(t, "/api/queue/clear", nil).StatusCode)
	assert.Empty(t, s.host.State().Pending)
	require.Equal(t, http.StatusNoContent, s.post(t, "/api/queue/resume", nil).StatusCode)
}

func TestClearedEventsAreReported(t *testing.T) {
	s := newServer(t, false)
	require.Equal(t, http.StatusOK, s.post(t, "/api/participants?wait=true", api.ParticipantsRequest{Participants: pool}).StatusCode)
	require.Equal(t, http.StatusNoContent, s.post(t, "/api/queue/pause", nil).StatusCode)

	type reply struct {
		status int
		body   api.ErrorResponse
	}
	call := func(path string, body any) <-chan reply {
		ch := make(chan reply, 1)
		go func() {
			var buf bytes.Buffer
			_ = json.NewEncoder(&buf).Encode(body)
			resp, err := http.Post(s.srv.URL+path, "application/json", &buf)
			if err != nil {
				ch <- reply{}
				return
			}
			defer resp.Body.Close()
			var r reply
			r.status = resp.StatusCode
			_ = json.NewDecoder(resp.Body).Decode(&r.body)
			ch <- r
		}()
		return ch
	}
	simulated := call("/api/simulate", api.SimulateRequest{Iterations: 10})
	spun := call("/api/spin?wait=true", nil)
	require.Eventually(t, func() bool { return len(s.host.State().Pending) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusNoContent, s.post(t, "/api/queue/clear", nil).StatusCode)
	for _, ch := range []<-chan reply{simulated, spun} {
		select {
		case r := <-ch:
			assert.Equal(t, http.StatusConflict, r.status)
			assert.Equal(t, "this action was cleared from the queue before it ran", r.body.Message)
		case <-time.After(2 * time.Second):
			t.Fatal("request did not return after the queue was cleared")
		}
	}
	require.Equal(t, http.StatusNoContent, s.post(t, "/api/queue/resume", nil).StatusCode)
}

func TestSpin_EmptyPoolIsExplained(t *testing.T) {
	s := newServer(t, false)
	resp := s.post(t, "/api/spin?wait=true", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "no eligible participants: add a participant with a positive weight", body.Message)
}

func TestRequestErrors(t *testing.T) {
	s := newServer(t, false)

	resp, err := http.Post(s.srv.URL+"/api/spin", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(s.srv.URL+"/api/participants", "application/json", strings.NewReader(`{"people": []}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode, "unknown fields are rejected")

	assert.Equal(t, http.StatusBadRequest, s.post(t, "/api/queue/explode", nil).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, s.post(t, "/api/settings", broadcast.Settings{Mode: "bingo", SpinDurationSeconds: 1}).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, s.post(t, "/api/settings", broadcast.Settings{Mode: broadcast.ModeClassic, SpinDurationSeconds: 60}).StatusCode, "a spin outlasting the event timeout")
	assert.Equal(t, http.StatusUnprocessableEntity, s.post(t, "/api/participants", api.ParticipantsRequest{
		Participants: []wheel.Participant{{ID: "x", Weight: 1}, {ID: "x", Weight: 2}},
	}).StatusCode)
	assert.Equal(t, http.StatusNotImplemented, s.post(t, "/api/spin", map[string]any{
		"ticket": map[string]any{"id": "t", "context": "api-test", "value": 0.5, "proof": ""},
	}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.post(t, "/api/simulate", api.SimulateRequest{Iterations: api.MaxSimulationIterations + 1}).StatusCode)
}

func TestReplicaRejectsProducerCalls(t *testing.T) {
	s := newServer(t, true)
	resp := s.post(t, "/api/spin", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "this wheel mirrors another host; start spins on the host", body.Message)
}

func TestSimulate(t *testing.T) {
	s := newServer(t, false)
	require.Equal(t, http.StatusOK, s.post(t, "/api/participants?wait=true", api.ParticipantsRequest{Participants: pool}).StatusCode)

	resp := s.post(t, "/api/simulate", api.SimulateRequest{Iterations: 4000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[api.SimulateResponse](t, resp)
	assert.Equal(t, 4000, out.Iterations)
	require.Len(t, out.Reports, 2)
	assert.Less(t, out.MaxAbsDifference, 0.05)
}

func TestViewerSocket(t *testing.T) {
	s := newServer(t, false)
	require.Equal(t, http.StatusOK, s.post(t, "/api/participants?wait=true", api.ParticipantsRequest{Participants: pool}).StatusCode)

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	m, err := broadcast.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, broadcast.KindParticipantsChanged, m.Type)
	assert.Equal(t, pool, m.Participants)
}
