package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/attr"
	"github.com/JakeFAU/ccextract/internal/manifest"
	"github.com/JakeFAU/ccextract/internal/table"
	"github.com/JakeFAU/ccextract/internal/warc"
)

const (
	// PipelineText labels the text conversion pipeline in logs and metrics.
	PipelineText = "text"

	previewRunes = 20
)

// TextPipeline extracts plain text from conversion shards. With VerifyDir set
// it instead checks every record against the metadata table of the paired
// raw shard and writes nothing.
type TextPipeline struct {
	runner
	verifyDir string
}

// NewTextPipeline wires a text pipeline. verifyDir enables verification mode.
func NewTextPipeline(
	fetcher Fetcher,
	sink table.Sink,
	publisher Publisher,
	clock Clock,
	opts Options,
	verifyDir string,
	logger *zap.Logger,
) *TextPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextPipeline{
		runner: runner{
			name:      PipelineText,
			table:     table.Text,
			flavor:    manifest.FlavorText,
			fetcher:   fetcher,
			sink:      sink,
			publisher: publisher,
			clock:     clock,
			opts:      opts.withDefaults(),
			logger:    logger.Named(PipelineText),
		},
		verifyDir: verifyDir,
	}
}

// Name labels the pipeline.
func (p *TextPipeline) Name() string { return p.name }

// Process extracts, or verifies, one text conversion shard.
func (p *TextPipeline) Process(ctx context.Context, entry string) (ShardResult, error) {
	if p.verifyDir != "" {
		return p.run(ctx, entry, false, p.verify)
	}
	return p.run(ctx, entry, true, p.scan)
}

func (p *TextPipeline) scan(ctx context.Context, shard string, rd *warc.Reader) (scanOutcome, error) {
	return collect(ctx, rd, warc.ConversionText, p.opts.MaxRecords, p.logger, func(rec *warc.Record) ([]string, error) {
		row, err := textRow(shard, rec)
		if err != nil {
			return nil, err
		}
		return []string{row.shard, row.recordID, row.refersTo, row.language, row.content}, nil
	})
}

type textFields struct {
	shard    string
	recordID string
	refersTo string
	language string
	content  string
}

func textRow(shard string, rec *warc.Record) (textFields, error) {
	body, err := rec.ReadAll()
	if err != nil {
		return textFields{}, fmt.Errorf("read conversion %s: %w", rec.ID, err)
	}
	return textFields{
		shard:    shard,
		recordID: rec.ID,
		refersTo: rec.Headers.Get(warc.HeaderRefersTo, ""),
		language: rec.Headers.Get(warc.HeaderIdentifiedLang, ""),
		content:  attr.Decode(body, "utf-8"),
	}, nil
}

// verify matches each conversion record to its metadata row by refers_to.
func (p *TextPipeline) verify(ctx context.Context, shard string, rd *warc.Reader) (scanOutcome, error) {
	langs, err := loadHTMLLangs(filepath.Join(p.verifyDir, table.Metadata.FileName(shard)))
	if err != nil {
		return scanOutcome{}, err
	}

	report := &VerifyReport{}
	out, err := collect(ctx, rd, warc.ConversionText, p.opts.MaxRecords, p.logger, func(rec *warc.Record) ([]string, error) {
		row, err := textRow(shard, rec)
		if err != nil {
			return nil, err
		}
		lang, ok := langs[row.refersTo]
		if !ok {
			report.Missing++
			p.logger.Warn("text record has no metadata row",
				zap.String("record_id", row.recordID),
				zap.String("refers_to", row.refersTo),
			)
			return nil, nil
		}
		report.Matched++
		p.logger.Info("verified text record",
			zap.String("refers_to", row.refersTo),
			zap.String("html_lang", lang),
			zap.String("preview", preview(row.content, previewRunes)),
		)
		return []string{}, nil
	})
	out.verify = report
	out.rows = nil
	return out, err
}

// loadHTMLLangs reads a metadata table into record_id → html_lang.
func loadHTMLLangs(path string) (map[string]string, error) {
	rows, err := table.ReadFile(path, table.Metadata)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMetadataMissing, path)
		}
		return nil, err
	}
	idCol := table.Metadata.ColumnIndex(table.ColRecordID)
	langCol := table.Metadata.ColumnIndex(table.ColHTMLLang)
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row[idCol]] = row[langCol]
	}
	return out, nil
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
