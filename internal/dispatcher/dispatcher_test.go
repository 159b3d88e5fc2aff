package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/extract"
	"github.com/JakeFAU/ccextract/internal/manifest"
	"github.com/JakeFAU/ccextract/internal/worker"
)

type recordingPipeline struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	seen     []string
	fail     map[string]bool
	skip     map[string]bool
}

func (p *recordingPipeline) Name() string { return "recording" }

func (p *recordingPipeline) Process(_ context.Context, entry string) (extract.ShardResult, error) {
	p.mu.Lock()
	p.inFlight++
	p.peak = max(p.peak, p.inFlight)
	p.seen = append(p.seen, entry)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.fail[entry] {
		panic("entry " + entry + " exploded")
	}
	if p.skip[entry] {
		return extract.ShardResult{Shard: entry, Skipped: true}, nil
	}
	return extract.ShardResult{Shard: entry}, nil
}

func writeManifest(t *testing.T, n int) string {
	t.Helper()
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("entry-%d", i)
	}
	p := filepath.Join(t.TempDir(), "warc.paths")
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return p
}

func TestDispatcherRunBatches(t *testing.T) {
	t.Parallel()

	pipe := &recordingPipeline{
		fail: map[string]bool{"entry-1": true},
		skip: map[string]bool{"entry-6": true},
	}
	d := New(worker.New(pipe, zap.NewNop()), 3, zap.NewNop())

	sum, err := d.Run(context.Background(), writeManifest(t, 7))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sum.Batches)
	assert.Equal(t, 6, sum.Processed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{"entry-1"}, sum.Failures)
	assert.Len(t, pipe.seen, 7)
	assert.LessOrEqual(t, pipe.peak, 3)
	assert.Equal(t, sum, d.Progress())
	assert.Equal(t, 7, sum.Seen())
	assert.Equal(t, 7, sum.Completed())
}

func TestDispatcherMissingManifest(t *testing.T) {
	t.Parallel()

	d := New(worker.New(&recordingPipeline{}, nil), 2, nil)
	_, err := d.Run(context.Background(), filepath.Join(t.TempDir(), "absent.paths"))
	require.ErrorIs(t, err, manifest.ErrManifestMissing)
}

func TestDispatcherCanceled(t *testing.T) {
	t.Parallel()

	pipe := &recordingPipeline{}
	d := New(worker.New(pipe, nil), 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.RunSource(ctx, manifest.NewSource(strings.NewReader("a\nb\n")))
	require.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, pipe.seen)
}
