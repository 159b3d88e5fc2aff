// Package dispatcher reads a manifest in waves and fans each wave out to
// workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ccextract/internal/manifest"
	"github.com/JakeFAU/ccextract/internal/worker"
)

// Summary totals a run.
type Summary struct {
	Batches   []int    `json:"batches"`
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Failures  []string `json:"failures,omitempty"`
}

// Completed counts entries that finished either way.
func (s Summary) Completed() int { return s.Processed + s.Failed }

// Seen counts entries read from the manifest so far.
func (s Summary) Seen() int {
	n := 0
	for _, b := range s.Batches {
		n += b
	}
	return n
}

// Dispatcher runs waves of at most Workers concurrent entries. Each wave is
// fully drained before the next batch is read.
type Dispatcher struct {
	worker  *worker.Worker
	workers int
	logger  *zap.Logger

	mu       sync.RWMutex
	progress Summary
}

// New creates a Dispatcher.
func New(w *worker.Worker, workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{worker: w, workers: workers, logger: logger.Named("dispatcher")}
}

// Run opens the manifest and processes it. A manifest that cannot be opened
// aborts the run.
func (d *Dispatcher) Run(ctx context.Context, manifestPath string) (Summary, error) {
	src, err := manifest.Open(manifestPath)
	if err != nil {
		return Summary{}, fmt.Errorf("open manifest: %w", err)
	}
	defer src.Close() //nolint:errcheck // read-only
	return d.RunSource(ctx, src)
}

// RunSource processes every entry of src.
func (d *Dispatcher) RunSource(ctx context.Context, src *manifest.Source) (Summary, error) {
	d.setProgress(Summary{})
	for {
		if err := ctx.Err(); err != nil {
			return d.Progress(), fmt.Errorf("run canceled: %w", err)
		}
		batch, err := src.Next(d.workers)
		if err != nil {
			return d.Progress(), fmt.Errorf("read manifest: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		d.update(func(s *Summary) { s.Batches = append(s.Batches, len(batch)) })
		d.logger.Info("starting batch", zap.Int("size", len(batch)))
		d.wave(ctx, batch)
	}

	sum := d.Progress()
	d.logger.Info("run complete",
		zap.Ints("batches", sum.Batches),
		zap.Int("processed", sum.Processed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (d *Dispatcher) wave(ctx context.Context, batch []string) {
	var g errgroup.Group
	for _, entry := range batch {
		g.Go(func() error {
			res := d.worker.Process(ctx, entry)
			d.record(res)
			return nil
		})
	}
	// Workers contain their own failures, so Wait never reports one.
	_ = g.Wait()
}

func (d *Dispatcher) record(res worker.Result) {
	var sum Summary
	d.update(func(s *Summary) {
		switch {
		case res.Err != nil:
			s.Failed++
			s.Failures = append(s.Failures, res.Entry)
		case res.Shard.Skipped:
			s.Processed++
			s.Skipped++
		default:
			s.Processed++
		}
		sum = *s
	})
	fields := []zap.Field{
		zap.String("entry", res.Entry),
		zap.String("progress", fmt.Sprintf("%d/%d", sum.Completed(), sum.Seen())),
		zap.Duration("elapsed", res.Duration),
	}
	if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
		d.logger.Warn("entry failed", append(fields, zap.Error(res.Err))...)
		return
	}
	d.logger.Info("entry done", fields...)
}

// Progress returns a snapshot of the current run.
func (d *Dispatcher) Progress() Summary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := d.progress
	out.Batches = append([]int(nil), d.progress.Batches...)
	out.Failures = append([]string(nil), d.progress.Failures...)
	return out
}

func (d *Dispatcher) setProgress(s Summary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress = s
}

func (d *Dispatcher) update(fn func(*Summary)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.progress)
}
