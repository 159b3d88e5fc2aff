package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/api"
	"github.com/JakeFAU/ccextract/internal/app"
	"github.com/JakeFAU/ccextract/internal/dispatcher"
	"github.com/JakeFAU/ccextract/internal/extract"
	"github.com/JakeFAU/ccextract/internal/manifest"
	"github.com/JakeFAU/ccextract/internal/worker"
)

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntP("workers", "w", 4, "shards processed concurrently per batch")
	f.Int("max-records", 0, "rows extracted per shard (0 = unlimited)")
	f.Bool("decompress", false, "expand shards to disk before scanning")
	f.String("topic", "", "Pub/Sub topic for shard completion notifications")
	f.String("status-addr", "", "serve /healthz, /metrics and /progress on this address")
}

func newMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata <warc.paths>",
		Short: "Extract per-page metadata from raw capture shards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p := extract.NewMetadataPipeline(a.Fetcher(), a.Sink(), a.Publisher(), a.Clock(), a.Options(), a.Logger())
			return runPipeline(cmd, a, p, manifest.FlavorRaw, args[0])
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Bool("loose-lang-header", false, `read content_language from the first HTTP header containing "lang"`)
	return cmd
}

func newTextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "text <wet.paths>",
		Short: "Extract plain text from text conversion shards",
		Long: `Extract plain text from text conversion shards. With --verify-dir the
shards are checked record by record against previously extracted metadata
tables instead, and nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p := extract.NewTextPipeline(
				a.Fetcher(), a.Sink(), a.Publisher(), a.Clock(), a.Options(),
				a.Config().Run.VerifyDir, a.Logger(),
			)
			return runPipeline(cmd, a, p, manifest.FlavorText, args[0])
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("verify-dir", "", "directory of metadata tables to verify against")
	return cmd
}

func runPipeline(cmd *cobra.Command, a *app.App, p worker.Pipeline, want manifest.Flavor, manifestPath string) error {
	if got := manifest.FlavorFromFilename(manifestPath); got != want {
		return fmt.Errorf("%s reads %s.paths manifests, got %s", p.Name(), want, filepath.Base(manifestPath))
	}
	logger := a.Logger()
	d := dispatcher.New(worker.New(p, logger), a.Config().Run.Workers, logger)

	if addr := a.Config().Server.Addr; addr != "" {
		srv := api.NewServer(d, a.RunID(), a.Started(), logger)
		go func() {
			if err := srv.Serve(cmd.Context(), addr); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("starting run", zap.String("pipeline", p.Name()), zap.String("manifest", manifestPath))
	sum, err := d.Run(cmd.Context(), manifestPath)
	if err != nil {
		return fmt.Errorf("%s run: %w", p.Name(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d processed (%d skipped), %d failed\n",
		p.Name(), sum.Processed, sum.Skipped, sum.Failed)
	return nil
}
