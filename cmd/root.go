// Package cmd defines the ccextract command-line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/app"
	"github.com/JakeFAU/ccextract/internal/config"
	"github.com/JakeFAU/ccextract/internal/logging"
)

type appKeyType struct{}

var appKey appKeyType

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "ccextract",
		Short: "Extract metadata and text from Common Crawl archives.",
		Long: `ccextract walks a Common Crawl manifest (warc.paths or wet.paths) shard by
shard, extracting per-page metadata from raw captures and plain text from text
conversions, and joins the two by record id.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML)")
	pf.BoolP("verbose", "v", false, "development logging at debug level")
	pf.String("output-dir", "output", "directory receiving local tables")
	pf.String("cache-dir", "", "directory for downloaded shards (default: system temp dir)")
	pf.String("errors-log", "", "append failed shard paths to this file")
	pf.String("base-url", "https://data.commoncrawl.org/", "archive base URL")
	pf.Duration("fetch-timeout", 0, "per-download timeout (0 disables)")
	pf.String("sink", "local", "table sink: local, gcs, postgres or memory")

	cmd.AddCommand(newMetadataCmd(), newTextCmd(), newJoinCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
