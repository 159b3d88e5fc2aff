// Package extract turns archive shards into metadata and text tables.
//
// Both pipelines share one per-shard runner: skip when the output already
// exists, fetch, optionally decompress, scan, persist atomically, then remove
// the local artifacts whatever the outcome.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/decompress"
	"github.com/JakeFAU/ccextract/internal/manifest"
	"github.com/JakeFAU/ccextract/internal/metrics"
	"github.com/JakeFAU/ccextract/internal/table"
	"github.com/JakeFAU/ccextract/internal/warc"
)

// ErrMetadataMissing is returned when a metadata table needed for
// verification or correlation does not exist.
var ErrMetadataMissing = errors.New("metadata table missing")

// Fetcher downloads a relative archive path into a local directory.
type Fetcher interface {
	Fetch(ctx context.Context, relPath, destDir string) (string, error)
}

// Publisher announces completed shards.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock stamps notifications.
type Clock interface {
	Now() time.Time
}

// Options tune a pipeline.
type Options struct {
	// CacheDir receives downloaded and decompressed shards.
	CacheDir string
	// Decompress expands the download to disk before scanning.
	Decompress bool
	// MaxRecords caps the rows produced per shard; 0 means unlimited.
	MaxRecords int
	// PrefixBytes bounds the body prefix handed to attribute extraction.
	PrefixBytes int
	// Topic enables ShardCompleted notifications when set.
	Topic string
	// RunID is copied into notifications.
	RunID string
	// LooseLanguageHeader reads content_language from the first HTTP header
	// whose name contains "lang".
	LooseLanguageHeader bool
}

func (o Options) withDefaults() Options {
	if o.CacheDir == "" {
		o.CacheDir = os.TempDir()
	}
	if o.PrefixBytes <= 0 {
		o.PrefixBytes = defaultPrefixBytes
	}
	return o
}

// VerifyReport summarizes a verification pass over one text shard.
type VerifyReport struct {
	Matched int
	Missing int
}

// ShardResult describes what happened to one shard.
type ShardResult struct {
	Shard     string
	Path      string
	Rows      int
	Location  string
	Skipped   bool
	Malformed int
	Verify    *VerifyReport
}

// ShardCompleted is the notification payload published after a write.
type ShardCompleted struct {
	RunID       string    `json:"run_id,omitempty"`
	Pipeline    string    `json:"pipeline"`
	Shard       string    `json:"shard"`
	Rows        int       `json:"rows"`
	Location    string    `json:"location"`
	CompletedAt time.Time `json:"completed_at"`
}

// scanFunc consumes the filtered records of one shard.
type scanFunc func(ctx context.Context, shard string, rd *warc.Reader) (scanOutcome, error)

type scanOutcome struct {
	rows      [][]string
	malformed int
	verify    *VerifyReport
}

// runner holds what the pipelines share.
type runner struct {
	name      string
	table     table.Table
	flavor    manifest.Flavor
	fetcher   Fetcher
	sink      table.Sink
	publisher Publisher
	clock     Clock
	opts      Options
	logger    *zap.Logger
}

// run processes one manifest entry. When persist is false the shard is
// scanned but neither the idempotence check nor the write happens.
func (r *runner) run(ctx context.Context, entry string, persist bool, scan scanFunc) (ShardResult, error) {
	shard := manifest.ShardName(entry, r.flavor)
	res := ShardResult{Shard: shard, Path: entry}
	logger := r.logger.With(zap.String("shard", shard))
	start := time.Now()

	if persist {
		exists, err := r.sink.Exists(ctx, r.table, shard)
		if err != nil {
			metrics.ObserveShard(r.name, metrics.StatusFailed, time.Since(start))
			return res, fmt.Errorf("check %s output for %s: %w", r.table.Name, shard, err)
		}
		if exists {
			logger.Info("output exists, skipping shard")
			res.Skipped = true
			metrics.ObserveShard(r.name, metrics.StatusSkipped, 0)
			return res, nil
		}
	}

	out, err := r.scanShard(ctx, entry, shard, scan)
	res.Malformed = out.malformed
	res.Verify = out.verify
	metrics.ObserveRecords(r.name, len(out.rows), out.malformed)
	if err != nil {
		metrics.ObserveShard(r.name, metrics.StatusFailed, time.Since(start))
		return res, err
	}
	res.Rows = len(out.rows)

	if persist {
		loc, err := r.sink.Write(ctx, r.table, shard, out.rows)
		if err != nil {
			metrics.ObserveShard(r.name, metrics.StatusFailed, time.Since(start))
			return res, fmt.Errorf("write %s table for %s: %w", r.table.Name, shard, err)
		}
		res.Location = loc
		r.notify(ctx, logger, res)
	}

	metrics.ObserveShard(r.name, metrics.StatusSucceeded, time.Since(start))
	logger.Info("shard complete",
		zap.Int("rows", res.Rows),
		zap.Int("malformed", res.Malformed),
		zap.String("location", res.Location),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// scanShard fetches and scans one shard. Local artifacts are removed on
// every return path.
func (r *runner) scanShard(ctx context.Context, entry, shard string, scan scanFunc) (scanOutcome, error) {
	local, err := r.fetcher.Fetch(ctx, entry, r.opts.CacheDir)
	if err != nil {
		return scanOutcome{}, fmt.Errorf("fetch %s: %w", entry, err)
	}
	defer r.remove(local)

	if r.opts.Decompress {
		expanded, err := decompress.Gunzip(local, r.opts.CacheDir, false)
		if err != nil {
			return scanOutcome{}, fmt.Errorf("decompress %s: %w", shard, err)
		}
		defer r.remove(expanded)
		r.remove(local)
		local = expanded
	}

	f, err := os.Open(local) // #nosec G304 -- path produced by the fetcher inside the cache dir.
	if err != nil {
		return scanOutcome{}, fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	rd, err := warc.NewReader(f)
	if err != nil {
		return scanOutcome{}, fmt.Errorf("open archive %s: %w", shard, err)
	}
	defer rd.Close() //nolint:errcheck // best effort

	return scan(ctx, shard, rd)
}

func (r *runner) remove(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("failed to remove local artifact", zap.String("path", p), zap.Error(err))
	}
}

// notify publishes a ShardCompleted message. Failures are logged only; the
// table has already been written.
func (r *runner) notify(ctx context.Context, logger *zap.Logger, res ShardResult) {
	if r.publisher == nil || r.opts.Topic == "" {
		return
	}
	msg := ShardCompleted{
		RunID:       r.opts.RunID,
		Pipeline:    r.name,
		Shard:       res.Shard,
		Rows:        res.Rows,
		Location:    res.Location,
		CompletedAt: r.now(),
	}
	id, err := r.publisher.Publish(ctx, r.opts.Topic, msg)
	if err != nil {
		logger.Warn("publish shard completion failed", zap.Error(err))
		return
	}
	logger.Debug("published shard completion", zap.String("message_id", id))
}

func (r *runner) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}

// collect walks the filtered records, hands each to fn, and stops once
// limit rows have been produced (0 means no limit). Malformed records are
// counted and skipped.
func collect(
	ctx context.Context,
	rd *warc.Reader,
	filter warc.Filter,
	limit int,
	logger *zap.Logger,
	fn func(*warc.Record) ([]string, error),
) (scanOutcome, error) {
	var out scanOutcome
	for rec, err := range rd.Records(filter) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("scan canceled: %w", ctxErr)
		}
		if err != nil {
			var scanErr *warc.ScanError
			if errors.As(err, &scanErr) {
				out.malformed++
				logger.Warn("skipping malformed record", zap.Int("index", scanErr.Index), zap.String("reason", scanErr.Reason))
				continue
			}
			return out, fmt.Errorf("scan archive: %w", err)
		}
		row, err := fn(rec)
		if err != nil {
			return out, err
		}
		if row != nil {
			out.rows = append(out.rows, row)
		}
		if limit > 0 && len(out.rows) >= limit {
			break
		}
	}
	return out, nil
}
