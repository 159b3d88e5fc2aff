package extract

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/attr"
	"github.com/JakeFAU/ccextract/internal/manifest"
	"github.com/JakeFAU/ccextract/internal/metrics"
	"github.com/JakeFAU/ccextract/internal/table"
	"github.com/JakeFAU/ccextract/internal/warc"
)

const (
	// PipelineMetadata labels the raw capture pipeline in logs and metrics.
	PipelineMetadata = "metadata"

	defaultPrefixBytes = attr.DefaultPrefixBytes
)

var htmlAttributes = []string{"lang", "dir"}

// MetadataPipeline extracts per-page metadata from raw capture shards.
type MetadataPipeline struct {
	runner
}

// NewMetadataPipeline wires a metadata pipeline. publisher and clock may be nil.
func NewMetadataPipeline(
	fetcher Fetcher,
	sink table.Sink,
	publisher Publisher,
	clock Clock,
	opts Options,
	logger *zap.Logger,
) *MetadataPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataPipeline{runner: runner{
		name:      PipelineMetadata,
		table:     table.Metadata,
		flavor:    manifest.FlavorRaw,
		fetcher:   fetcher,
		sink:      sink,
		publisher: publisher,
		clock:     clock,
		opts:      opts.withDefaults(),
		logger:    logger.Named(PipelineMetadata),
	}}
}

// Name labels the pipeline.
func (p *MetadataPipeline) Name() string { return p.name }

// Process extracts the metadata table of one raw capture shard.
func (p *MetadataPipeline) Process(ctx context.Context, entry string) (ShardResult, error) {
	return p.run(ctx, entry, true, p.scan)
}

func (p *MetadataPipeline) scan(ctx context.Context, shard string, rd *warc.Reader) (scanOutcome, error) {
	return collect(ctx, rd, warc.ResponseHTML, p.opts.MaxRecords, p.logger, func(rec *warc.Record) ([]string, error) {
		prefix, err := rec.ReadPrefix(p.opts.PrefixBytes)
		if err != nil {
			p.logger.Warn("short record body", zap.String("record_id", rec.ID), zap.Error(err))
		}
		attrs := attr.Extract(prefix, rec.Charset(), htmlAttributes, "")
		domain := Domain(rec.TargetURI)
		metrics.ObserveDomain(domain)
		return []string{
			shard,
			rec.ID,
			rec.TargetURI,
			domain,
			p.contentLanguage(rec.HTTPHeaders),
			attrs["lang"],
			attrs["dir"],
		}, nil
	})
}

func (p *MetadataPipeline) contentLanguage(h warc.Header) string {
	if p.opts.LooseLanguageHeader {
		return h.Lookup("lang", "", false)
	}
	return h.Lookup(warc.HeaderContentLanguage, "", true)
}

// Domain returns the last label of the URI's host, or "" when the URI has
// no host.
func Domain(targetURI string) string {
	u, err := url.Parse(strings.TrimSpace(targetURI))
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	if host == "" {
		return ""
	}
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		return strings.ToLower(host[i+1:])
	}
	return strings.ToLower(host)
}
