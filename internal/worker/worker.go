// Package worker runs one manifest entry through a pipeline and contains its
// failures.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/extract"
	"github.com/JakeFAU/ccextract/internal/metrics"
)

// Pipeline processes one manifest entry.
type Pipeline interface {
	Name() string
	Process(ctx context.Context, entry string) (extract.ShardResult, error)
}

// Result is the outcome of one entry. Err is nil on success.
type Result struct {
	Entry    string
	Shard    extract.ShardResult
	Err      error
	Duration time.Duration
}

// Failed reports whether the entry failed.
func (r Result) Failed() bool { return r.Err != nil }

// Worker isolates pipeline failures so they never reach sibling workers.
type Worker struct {
	pipeline Pipeline
	logger   *zap.Logger
}

// New constructs a Worker.
func New(pipeline Pipeline, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{pipeline: pipeline, logger: logger.Named("worker")}
}

// Pipeline returns the wrapped pipeline.
func (w *Worker) Pipeline() Pipeline { return w.pipeline }

// Process runs the pipeline on entry. Errors and panics are logged and
// returned in the Result, never propagated.
func (w *Worker) Process(ctx context.Context, entry string) (res Result) {
	res.Entry = entry
	start := time.Now()
	metrics.IncActiveWorkers()
	logger := w.logger.With(zap.String("pipeline", w.pipeline.Name()), zap.String("entry", entry))

	defer func() {
		metrics.DecActiveWorkers()
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("pipeline panic: %v", r)
			logger.Error("pipeline panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		res.Duration = time.Since(start)
	}()

	logger.Debug("processing entry")
	shard, err := w.pipeline.Process(ctx, entry)
	res.Shard = shard
	if err != nil {
		res.Err = err
		logger.Error("entry failed", zap.Error(err))
	}
	return res
}
