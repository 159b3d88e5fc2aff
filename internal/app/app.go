// Package app initializes and holds the long-lived services of a run, acting
// as a dependency injection container for the commands.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/clock/system"
	"github.com/JakeFAU/ccextract/internal/config"
	"github.com/JakeFAU/ccextract/internal/extract"
	collyfetcher "github.com/JakeFAU/ccextract/internal/fetcher/colly"
	"github.com/JakeFAU/ccextract/internal/id/uuid"
	"github.com/JakeFAU/ccextract/internal/metrics"
	gcppublisher "github.com/JakeFAU/ccextract/internal/publisher/pubsub"
	"github.com/JakeFAU/ccextract/internal/storage"
	"github.com/JakeFAU/ccextract/internal/table"
)

// Publisher is an extract.Publisher that owns a client.
type Publisher interface {
	extract.Publisher
	Close() error
}

// App holds the shared services of one run.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runID     string
	started   time.Time
	sink      table.Sink
	closeSink func()
	fetcher   *collyfetcher.Fetcher
	publisher Publisher
	clock     *system.Clock
}

// New creates the services described by cfg. It fails fast when a backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))
	clk := system.New()

	sink, closeSink, err := storage.New(ctx, cfg.Storage, cfg.Run.OutputDir, logger)
	if err != nil {
		return nil, err
	}

	var pub Publisher
	if cfg.PubSub.Topic != "" {
		gcp, err := gcppublisher.Open(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			closeSink()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		logger.Info("publishing shard notifications", zap.String("topic", cfg.PubSub.Topic))
		pub = gcp
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		BaseURL:   cfg.Fetch.BaseURL,
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
		ErrorsLog: cfg.Run.ErrorsLog,
	})

	return &App{
		cfg:       cfg,
		logger:    logger,
		runID:     runID,
		started:   clk.Now(),
		sink:      sink,
		closeSink: closeSink,
		fetcher:   fetcher,
		publisher: pub,
		clock:     clk,
	}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this run in logs and notifications.
func (a *App) RunID() string { return a.runID }

// Started is when the run began.
func (a *App) Started() time.Time { return a.started }

// Sink returns the configured table sink.
func (a *App) Sink() table.Sink { return a.sink }

// Fetcher returns the shard fetcher.
func (a *App) Fetcher() extract.Fetcher { return a.fetcher }

// Publisher returns the notification publisher, or nil when no topic is
// configured.
func (a *App) Publisher() extract.Publisher { return a.publisher }

// Clock returns the wall clock.
func (a *App) Clock() extract.Clock { return a.clock }

// Options builds pipeline options from the run configuration.
func (a *App) Options() extract.Options {
	return extract.Options{
		CacheDir:    a.cfg.Run.CacheDir,
		Decompress:  a.cfg.Run.Decompress,
		MaxRecords:  a.cfg.Run.MaxRecords,
		PrefixBytes: a.cfg.Run.PrefixBytes,
		Topic:       a.cfg.PubSub.Topic,
		RunID:       a.runID,

		LooseLanguageHeader: a.cfg.Run.LooseLanguageHeader,
	}
}

// Close releases every client the App holds.
func (a *App) Close() {
	a.logger.Debug("shutting down services")
	a.closeSink()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("error closing publisher", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
