package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/dispatcher"
	"github.com/JakeFAU/ccextract/internal/metrics"
)

type staticProgress struct{ sum dispatcher.Summary }

func (p staticProgress) Progress() dispatcher.Summary { return p.sum }

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, "", time.Time{}, zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestProgress(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := NewServer(staticProgress{dispatcher.Summary{
		Batches:   []int{3, 3, 1},
		Processed: 6,
		Skipped:   2,
		Failed:    1,
		Failures:  []string{"entry-1"},
	}}, "run-1", started, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body progressResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "run-1", body.RunID)
	assert.True(t, started.Equal(body.Started))
	assert.Equal(t, []int{3, 3, 1}, body.Progress.Batches)
	assert.Equal(t, 1, body.Progress.Failed)
}

func TestProgressWithoutRun(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, "", time.Time{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.ObserveShard("metadata", metrics.StatusSucceeded, time.Second)
	srv := NewServer(nil, "", time.Time{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ccextract_shards_total")
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, "", time.Time{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
