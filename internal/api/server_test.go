package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

type fakeSource struct {
	snap progress.Snapshot
}

func (f fakeSource) Stats() progress.Snapshot { return f.snap }

type panicSource struct{}

func (panicSource) Stats() progress.Snapshot { panic("boom") }

func newTestServer(source ProgressSource) *Server {
	return NewServer(source, RunInfo{
		RunID:       "run-1",
		Destination: "gs://bucket/dossiers.parquet",
		Identifiers: 10,
		Workers:     5,
		StartedAt:   time.Unix(100, 0).UTC(),
	}, zap.NewNop())
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(nil), "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzRequiresTracker(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusServiceUnavailable, serve(t, newTestServer(nil), "/readyz").Code)
	require.Equal(t, http.StatusOK, serve(t, newTestServer(fakeSource{}), "/readyz").Code)
}

func TestServer_GetProgress(t *testing.T) {
	t.Parallel()

	source := fakeSource{snap: progress.Snapshot{
		Total:              10,
		Processed:          4,
		Successful:         3,
		Failed:             1,
		CurrentItem:        "0001234-25.2023.1.00.0000",
		StartedAt:          time.Unix(100, 0),
		Elapsed:            8 * time.Second,
		ItemsPerSecond:     0.5,
		EstimatedRemaining: 12 * time.Second,
		CompletionPercent:  40,
		SuccessRate:        75,
	}}
	rec := serve(t, newTestServer(source), "/v1/progress")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Progress progressDTO `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 10, body.Progress.Total)
	assert.Equal(t, 6, body.Progress.Remaining)
	assert.Equal(t, 8.0, body.Progress.ElapsedSeconds)
	assert.Equal(t, 12.0, body.Progress.EstimatedRemainingSecs)
	assert.Equal(t, 75.0, body.Progress.SuccessRate)
	assert.Equal(t, "0001234-25.2023.1.00.0000", body.Progress.CurrentItem)
}

func TestServer_GetProgressWithoutTracker(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(nil), "/v1/progress")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "tracker not attached")
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(fakeSource{}), "/v1/run")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
	require.Contains(t, rec.Body.String(), "gs://bucket/dossiers.parquet")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(fakeSource{})
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_request_duration_seconds")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(panicSource{}), "/v1/progress")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_KeepsCallerRequestID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	newTestServer(nil).Handler().ServeHTTP(rec, req)

	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestServer(nil).serveListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
