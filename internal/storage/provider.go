// Package storage selects the table sink backend the pipelines persist through.
// This abstraction keeps the extractors independent of where rows end up
// (local CSV files, Google Cloud Storage objects, or Postgres tables).
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/storage/gcs"
	"github.com/JakeFAU/ccextract/internal/storage/local"
	"github.com/JakeFAU/ccextract/internal/storage/memory"
	"github.com/JakeFAU/ccextract/internal/storage/postgres"
	"github.com/JakeFAU/ccextract/internal/table"
)

// Backend names accepted in configuration.
const (
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string          `mapstructure:"backend"`
	GCS      gcs.Config      `mapstructure:"gcs"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// New builds the configured sink. The returned close function releases any
// client the backend holds and is never nil.
func New(ctx context.Context, cfg Config, outputDir string, logger *zap.Logger) (table.Sink, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "", BackendLocal:
		sink, err := local.New(local.Config{BaseDir: outputDir})
		if err != nil {
			return nil, noop, fmt.Errorf("init local sink: %w", err)
		}
		logger.Info("using local sink", zap.String("dir", outputDir))
		return sink, noop, nil
	case BackendGCS:
		sink, err := gcs.Open(ctx, cfg.GCS)
		if err != nil {
			return nil, noop, fmt.Errorf("init gcs sink: %w", err)
		}
		logger.Info("using gcs sink", zap.String("bucket", cfg.GCS.Bucket), zap.String("prefix", cfg.GCS.Prefix))
		return sink, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("failed to close gcs sink", zap.Error(err))
			}
		}, nil
	case BackendPostgres:
		sink, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, noop, fmt.Errorf("init postgres sink: %w", err)
		}
		logger.Info("using postgres sink", zap.String("table_prefix", cfg.Postgres.TablePrefix))
		return sink, sink.Close, nil
	case BackendMemory:
		logger.Info("using in-memory sink; rows are discarded at exit")
		return memory.NewSink(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
