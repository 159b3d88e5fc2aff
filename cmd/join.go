package cmd

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/config"
	"github.com/JakeFAU/ccextract/internal/correlate"
	"github.com/JakeFAU/ccextract/internal/manifest"
	"github.com/JakeFAU/ccextract/internal/table"
)

func newJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <shard>...",
		Short: "Join metadata and text tables of shards by record id",
		Long: `Load each shard's metadata table, fetch and index its text conversion
counterpart, then write a joined table of the sampled records that pass every
filter.

Filters:
  --where column=value     metadata column equals value
  --where column!=value    metadata column differs from value
  --where column~value     metadata column contains value
  --text-contains value    text contains value (see --ignore-case)`,
		Args: cobra.MinimumNArgs(1),
		RunE: runJoin,
	}
	f := cmd.Flags()
	f.String("text-manifest", "wet.paths", "text conversion manifest used to resolve shards")
	f.String("metadata-dir", "output", "directory holding metadata tables")
	f.String("text-dir", "", "directory holding extracted text tables, tried before fetching")
	f.Float64("fraction", 1, "sample fraction of matching records, in (0, 1]")
	f.Uint64("seed", 0, "sampling seed (0 = random)")
	f.Bool("ignore-missing", false, "return empty values for records absent from either side")
	f.Bool("ignore-unresolved", false, "continue with empty text when a text shard cannot be found or fetched")
	f.StringArray("where", nil, "metadata filter, repeatable")
	f.StringArray("text-contains", nil, "text filter, repeatable")
	f.Bool("ignore-case", false, "case-insensitive text filters")
	f.String("domain", "", "only query records of this top-level domain")
	return cmd
}

func runJoin(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Config()
	logger := a.Logger()

	filters, err := joinFilters(cmd)
	if err != nil {
		return err
	}
	pred := correlate.All
	if domain, _ := cmd.Flags().GetString("domain"); domain != "" {
		pred = func(r correlate.Row) bool { return r.Get(table.ColDomain) == domain }
	}

	textPaths, err := manifest.Load(cfg.Join.TextManifest, manifest.FlavorText)
	if err != nil {
		return fmt.Errorf("load text manifest: %w", err)
	}
	if textPaths.Len() == 0 {
		logger.Warn("text manifest is empty or missing", zap.String("path", cfg.Join.TextManifest))
	}

	var failed int
	for _, arg := range args {
		shard := manifest.ShardName(arg, manifest.FlavorRaw)
		ix, err := correlate.New(indexConfig(cfg, shard), correlate.Deps{
			TextPaths: textPaths,
			Fetcher:   a.Fetcher(),
			Sink:      a.Sink(),
			Rand:      sampler(cfg.Join.Seed),
			Logger:    logger,
		})
		if err != nil {
			failed++
			logger.Error("build index failed", zap.String("shard", shard), zap.Error(err))
			continue
		}
		loc, err := ix.Save(cmd.Context(), pred, cfg.Join.Fraction, filters...)
		if err != nil {
			failed++
			logger.Error("join failed", zap.String("shard", shard), zap.Error(err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", shard, loc)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d shards failed to join", failed, len(args))
	}
	return nil
}

func indexConfig(cfg config.Config, shard string) correlate.Config {
	return correlate.Config{
		Shard:            shard,
		MetadataDir:      cfg.Join.MetadataDir,
		TextDir:          cfg.Join.TextDir,
		CacheDir:         cfg.Run.CacheDir,
		IgnoreMissing:    cfg.Join.IgnoreMissing,
		IgnoreUnresolved: cfg.Join.IgnoreUnresolved,
	}
}

func sampler(seed uint64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(seed, seed)) // #nosec G404 -- reproducible sampling.
}

func joinFilters(cmd *cobra.Command) ([]correlate.Filter, error) {
	var filters []correlate.Filter
	wheres, _ := cmd.Flags().GetStringArray("where")
	for _, w := range wheres {
		column, op, value, err := parseWhere(w)
		if err != nil {
			return nil, err
		}
		filters = append(filters, correlate.MetadataFilter(column, op, value))
	}
	ignoreCase, _ := cmd.Flags().GetBool("ignore-case")
	contains, _ := cmd.Flags().GetStringArray("text-contains")
	for _, c := range contains {
		filters = append(filters, correlate.TextFilter(correlate.Contains, c, ignoreCase))
	}
	return filters, nil
}

// parseWhere splits "column<op>value" for the operators !=, = and ~.
func parseWhere(expr string) (string, correlate.Op, string, error) {
	for _, sym := range []string{"!=", "=", "~"} {
		column, value, ok := strings.Cut(expr, sym)
		if !ok {
			continue
		}
		column = strings.TrimSpace(column)
		if table.Metadata.ColumnIndex(column) < 0 {
			return "", 0, "", fmt.Errorf("--where %q: %w: %q", expr, correlate.ErrUnknownColumn, column)
		}
		op, err := correlate.ParseOp(sym)
		if err != nil {
			return "", 0, "", err
		}
		return column, op, value, nil
	}
	return "", 0, "", fmt.Errorf("--where %q: expected column=value, column!=value or column~value", expr)
}
