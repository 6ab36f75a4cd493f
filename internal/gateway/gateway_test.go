package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scamwatch-io/scamwatch/internal/clock/system"
	"github.com/scamwatch-io/scamwatch/internal/stream"
)

type sseRecord struct {
	Event string
	Data  string
}

// readRecord consumes one SSE record (event + data lines up to the blank
// separator) from the response body.
func readRecord(t *testing.T, br *bufio.Reader) sseRecord {
	t.Helper()
	var rec sseRecord
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if rec.Event != "" || rec.Data != "" {
				return rec
			}
		case strings.HasPrefix(line, "event: "):
			rec.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			rec.Data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func newTestEnv(t *testing.T, streamCfg stream.Config, gwCfg Config) (*stream.Registry, *httptest.Server) {
	t.Helper()
	clock := system.New()
	reg := stream.NewRegistry(streamCfg, clock)
	t.Cleanup(func() {
		require.NoError(t, reg.Close(context.Background()))
	})
	g := New(reg, clock, gwCfg, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/v1/checks/{task_id}/events", g.HandleEvents)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return reg, srv
}

// TestHandleEventsReplayThenLive walks the full happy path: a task publishes
// started and a progress step, a client connects and receives both buffered
// events in order, then the live completed event, and the connection closes.
func TestHandleEventsReplayThenLive(t *testing.T) {
	t.Parallel()

	reg, srv := newTestEnv(t, stream.Config{}, Config{})
	pub, err := reg.Publisher("t1")
	require.NoError(t, err)
	require.NoError(t, pub.Started(nil))
	require.NoError(t, pub.Step(map[string]float64{"progress": 0.5}))

	resp, err := http.Get(srv.URL + "/v1/checks/t1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	br := bufio.NewReader(resp.Body)

	first := readRecord(t, br)
	require.Equal(t, "started", first.Event)
	second := readRecord(t, br)
	require.Equal(t, "step", second.Event)

	var step stream.Event
	require.NoError(t, json.Unmarshal([]byte(second.Data), &step))
	require.Equal(t, uint64(2), step.Sequence)
	require.JSONEq(t, `{"progress":0.5}`, string(step.Payload))

	require.NoError(t, pub.Complete(map[string]string{"risk": "low"}))

	final := readRecord(t, br)
	require.Equal(t, "completed", final.Event)
	var done stream.Event
	require.NoError(t, json.Unmarshal([]byte(final.Data), &done))
	require.Equal(t, uint64(3), done.Sequence)
	require.JSONEq(t, `{"risk":"low"}`, string(done.Payload))

	_, err = br.ReadString('\n')
	require.ErrorIs(t, err, io.EOF)
}

// TestHandleEventsLateSubscriber verifies a client connecting after the task
// finished still receives the complete history ending in the terminal event.
func TestHandleEventsLateSubscriber(t *testing.T) {
	t.Parallel()

	reg, srv := newTestEnv(t, stream.Config{}, Config{})
	pub, err := reg.Publisher("t1")
	require.NoError(t, err)
	require.NoError(t, pub.Started(nil))
	require.NoError(t, pub.Step(map[string]float64{"progress": 0.5}))
	require.NoError(t, pub.Complete(map[string]string{"risk": "low"}))

	resp, err := http.Get(srv.URL + "/v1/checks/t1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	kinds := []string{
		readRecord(t, br).Event,
		readRecord(t, br).Event,
		readRecord(t, br).Event,
	}
	require.Equal(t, []string{"started", "step", "completed"}, kinds)

	_, err = br.ReadString('\n')
	require.ErrorIs(t, err, io.EOF)
}

// TestHandleEventsUnknownTask asserts an unknown id is rejected immediately
// rather than held open.
func TestHandleEventsUnknownTask(t *testing.T) {
	t.Parallel()

	_, srv := newTestEnv(t, stream.Config{}, Config{})

	resp, err := http.Get(srv.URL + "/v1/checks/nope/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "unknown or expired task", body["error"])
}

// TestHandleEventsBrokerOutage verifies connected clients receive the
// broker_unavailable terminal record and new connections fail fast with 503.
func TestHandleEventsBrokerOutage(t *testing.T) {
	t.Parallel()

	reg, srv := newTestEnv(t, stream.Config{}, Config{})
	pub, err := reg.Publisher("t1")
	require.NoError(t, err)
	require.NoError(t, pub.Started(nil))

	resp, err := http.Get(srv.URL + "/v1/checks/t1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	br := bufio.NewReader(resp.Body)
	require.Equal(t, "started", readRecord(t, br).Event)

	reg.SetUnavailable(errors.New("publish: connection refused"))

	rec := readRecord(t, br)
	require.Equal(t, "broker_unavailable", rec.Event)
	_, err = br.ReadString('\n')
	require.ErrorIs(t, err, io.EOF)

	resp2, err := http.Get(srv.URL + "/v1/checks/t1/events")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

// TestHandleEventsIdleTimeout verifies a quiet stream closes the connection
// with a timeout record instead of holding it open forever.
func TestHandleEventsIdleTimeout(t *testing.T) {
	t.Parallel()

	reg, srv := newTestEnv(t, stream.Config{}, Config{IdleTimeout: 50 * time.Millisecond})
	pub, err := reg.Publisher("t1")
	require.NoError(t, err)
	require.NoError(t, pub.Started(nil))

	resp, err := http.Get(srv.URL + "/v1/checks/t1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	br := bufio.NewReader(resp.Body)

	require.Equal(t, "started", readRecord(t, br).Event)
	require.Equal(t, "timeout", readRecord(t, br).Event)
	_, err = br.ReadString('\n')
	require.ErrorIs(t, err, io.EOF)
}

// blockedWriter is an SSE-capable response writer whose Write calls block
// until the gate channel is closed, simulating a stalled client.
type blockedWriter struct {
	gate     chan struct{}
	attempts chan struct{}
	header   http.Header

	mu  sync.Mutex
	buf bytes.Buffer
}

func newBlockedWriter() *blockedWriter {
	return &blockedWriter{
		gate:     make(chan struct{}),
		attempts: make(chan struct{}, 1),
		header:   make(http.Header),
	}
}

func (w *blockedWriter) Header() http.Header { return w.header }
func (w *blockedWriter) WriteHeader(int)     {}
func (w *blockedWriter) Flush()              {}

func (w *blockedWriter) Write(p []byte) (int, error) {
	select {
	case w.attempts <- struct{}{}:
	default:
	}
	<-w.gate
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *blockedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// TestHandleEventsOverflow verifies a stalled client whose queue fills is cut
// off with an overflow record after the queued backlog is flushed.
func TestHandleEventsOverflow(t *testing.T) {
	t.Parallel()

	clock := system.New()
	reg := stream.NewRegistry(stream.Config{SubscriberBuffer: 1}, clock)
	t.Cleanup(func() {
		require.NoError(t, reg.Close(context.Background()))
	})
	g := New(reg, clock, Config{}, zap.NewNop())

	pub, err := reg.Publisher("t1")
	require.NoError(t, err)
	require.NoError(t, pub.Started(nil))

	w := newBlockedWriter()
	req := httptest.NewRequest(http.MethodGet, "/v1/checks/t1/events", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("task_id", "t1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		g.HandleEvents(w, req)
	}()

	// Wait until the handler is stuck writing the replayed started event,
	// which guarantees the subscription exists. Then fill the one-slot queue
	// and overflow it.
	select {
	case <-w.attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never attempted a write")
	}
	require.NoError(t, pub.Step(map[string]int{"i": 1}))
	require.NoError(t, pub.Step(map[string]int{"i": 2}))

	close(w.gate)
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish after unblocking writer")
	}

	out := w.String()
	require.Contains(t, out, "event: started")
	require.Contains(t, out, "event: overflow")
	require.Less(t, strings.Index(out, "event: started"), strings.Index(out, "event: overflow"))
}
