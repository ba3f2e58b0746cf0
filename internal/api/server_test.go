package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-sync/internal/pipeline"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestServer() (*Server, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewServer(nil, clock), clock
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()
	rec := serve(s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, "/readyz").Code)
	s.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(s, "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()
	serve(s, "/healthz")
	rec := serve(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "catalogsync_")
}

func TestRunStatusLifecycle(t *testing.T) {
	t.Parallel()

	s, clock := newTestServer()

	var idle RunStatus
	require.NoError(t, json.Unmarshal(serve(s, "/v1/run").Body.Bytes(), &idle))
	assert.Equal(t, RunIdle, idle.State)

	live := pipeline.Stats{Inserted: 2, Resumed: 1}
	s.RunStarted("run-1", func() pipeline.Stats { return live })
	var running RunStatus
	require.NoError(t, json.Unmarshal(serve(s, "/v1/run").Body.Bytes(), &running))
	assert.Equal(t, RunRunning, running.State)
	assert.Equal(t, "run-1", running.RunID)
	assert.Equal(t, live, running.Stats)
	require.NotNil(t, running.StartedAt)
	assert.True(t, clock.now.Equal(*running.StartedAt))

	clock.now = clock.now.Add(time.Minute)
	s.RunFinished(pipeline.Stats{Inserted: 5}, errors.New("crawl category: timeout"))
	st := s.Status()
	assert.Equal(t, RunFailed, st.State)
	assert.Equal(t, "crawl category: timeout", st.Error)
	assert.Equal(t, 5, st.Stats.Inserted)
	require.NotNil(t, st.FinishedAt)
	assert.True(t, clock.now.Equal(*st.FinishedAt))
}

func TestRunFinishedWithoutError(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()
	s.RunStarted("run-2", nil)
	s.RunFinished(pipeline.Stats{Skipped: 1}, nil)
	assert.Equal(t, RunFinished, s.Status().State)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenAndServeBadAddr(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	s, _ := newTestServer()
	err = s.ListenAndServe(context.Background(), l.Addr().String())
	assert.Error(t, err)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")
}
