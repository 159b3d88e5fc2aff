package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shardPath = "crawl-data/CC-MAIN-2024-10/segments/1.0/warc/CC-MAIN-x-00001.warc.gz"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+shardPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("\x1f\x8bpayload"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSavesShard(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	f := New(Config{BaseURL: srv.URL})
	dir := t.TempDir()

	local, err := f.Fetch(context.Background(), shardPath+"\n", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "CC-MAIN-x-00001.warc.gz"), local)

	data, err := os.ReadFile(local) // #nosec G304 -- test temp dir
	require.NoError(t, err)
	assert.Equal(t, "\x1f\x8bpayload", string(data))
}

func TestFetchFailureIsLogged(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	errorsLog := filepath.Join(t.TempDir(), "errors.txt")
	f := New(Config{BaseURL: srv.URL + "/", ErrorsLog: errorsLog})

	_, err := f.Fetch(context.Background(), "crawl-data/missing.warc.gz", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.Status)

	_, err = f.Fetch(context.Background(), "crawl-data/other.warc.gz", t.TempDir())
	require.Error(t, err)

	logged, err := os.ReadFile(errorsLog) // #nosec G304 -- test temp dir
	require.NoError(t, err)
	assert.Equal(t, "crawl-data/missing.warc.gz\ncrawl-data/other.warc.gz\n", string(logged))
}

func TestURL(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	assert.Equal(t, DefaultBaseURL+"a/b.warc.gz", f.URL("/a/b.warc.gz"))
}

func TestFetchCancelAbortsDownload(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
		close(aborted)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	f := New(Config{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, shardPath, dir)
		errCh <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("download kept running after cancel")
	}
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "CC-MAIN-x-00001.warc.gz"))
		return errors.Is(err, os.ErrNotExist)
	}, time.Second, 10*time.Millisecond)
}
