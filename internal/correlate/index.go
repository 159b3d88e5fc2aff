// Package correlate joins one shard's metadata table with the text of its
// paired conversion shard.
//
// The metadata side is loaded eagerly and must already exist locally. The text
// side is resolved through the text manifest, fetched and indexed by
// refers_to the first time a text value is needed.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/attr"
	"github.com/JakeFAU/ccextract/internal/extract"
	"github.com/JakeFAU/ccextract/internal/manifest"
	"github.com/JakeFAU/ccextract/internal/table"
	"github.com/JakeFAU/ccextract/internal/warc"
)

// State is the lifecycle of the text side of an Index.
type State int

// Text side states.
const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config selects the shard and how strictly misses are treated.
type Config struct {
	Shard       string
	MetadataDir string
	// TextDir, when set, is searched for an already extracted text table
	// before the conversion shard is fetched.
	TextDir  string
	CacheDir string
	// IgnoreMissing makes lookup misses return the caller default.
	IgnoreMissing bool
	// IgnoreUnresolved degrades an unresolvable or unfetchable text shard to
	// an empty text index.
	IgnoreUnresolved bool
}

// Deps are the collaborators of an Index. Fetcher and TextPaths may be nil
// when TextDir holds every text table that will be needed.
type Deps struct {
	TextPaths *manifest.PathIndex
	Fetcher   extract.Fetcher
	Sink      table.Sink
	Rand      *rand.Rand
	Logger    *zap.Logger
}

// Index is the correlation index of one shard. It is safe for concurrent use
// but meant to be owned by a single worker.
type Index struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	ids  []string
	rows map[string][]string

	mu      sync.Mutex
	state   State
	text    map[string]string
	loadErr error
}

// New loads the metadata table of cfg.Shard. A missing table is always an
// error, whatever the permissive flags say.
func New(cfg Config, deps Deps) (*Index, error) {
	if cfg.Shard == "" {
		return nil, fmt.Errorf("shard is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) // #nosec G404 -- sampling, not security.
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = os.TempDir()
	}

	path := filepath.Join(cfg.MetadataDir, table.Metadata.FileName(cfg.Shard))
	rows, err := table.ReadFile(path, table.Metadata)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", extract.ErrMetadataMissing, path)
		}
		return nil, fmt.Errorf("load metadata for %s: %w", cfg.Shard, err)
	}

	ix := &Index{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("correlate").With(zap.String("shard", cfg.Shard)),
		ids:    make([]string, 0, len(rows)),
		rows:   make(map[string][]string, len(rows)),
	}
	idCol := table.Metadata.ColumnIndex(table.ColRecordID)
	for _, row := range rows {
		id := row[idCol]
		if _, dup := ix.rows[id]; dup {
			return nil, fmt.Errorf("%w: %s in %s", ErrDuplicateRecord, id, path)
		}
		ix.rows[id] = row
		ix.ids = append(ix.ids, id)
	}
	ix.logger.Debug("metadata loaded", zap.Int("rows", len(ix.ids)))
	return ix, nil
}

// Shard returns the shard name.
func (ix *Index) Shard() string { return ix.cfg.Shard }

// Len returns the number of metadata rows.
func (ix *Index) Len() int { return len(ix.ids) }

// State reports the text side state.
func (ix *Index) State() State {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.state
}

// Text returns the text whose refers_to is id.
func (ix *Index) Text(ctx context.Context, id, def string) (string, error) {
	text, err := ix.loadText(ctx)
	if err != nil {
		return def, err
	}
	if v, ok := text[id]; ok {
		return v, nil
	}
	return ix.miss(&MissingError{Side: "text", Key: id}, def)
}

// Metadata returns one column of the metadata row for id.
func (ix *Index) Metadata(id, column, def string) (string, error) {
	col := table.Metadata.ColumnIndex(column)
	if col < 0 {
		return def, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	row, ok := ix.rows[id]
	if !ok {
		return ix.miss(&MissingError{Side: "metadata", Key: id}, def)
	}
	return row[col], nil
}

func (ix *Index) miss(err *MissingError, def string) (string, error) {
	if ix.cfg.IgnoreMissing {
		return def, nil
	}
	return def, err
}

// loadText moves the text side from Unloaded to Loaded or Failed exactly once.
func (ix *Index) loadText(ctx context.Context) (map[string]string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	switch ix.state {
	case StateLoaded:
		return ix.text, nil
	case StateFailed:
		return nil, ix.loadErr
	}

	ix.state = StateLoading
	text, err := ix.buildText(ctx)
	if err != nil && ix.cfg.IgnoreUnresolved && errors.Is(err, ErrUnresolvedShard) {
		ix.logger.Warn("text shard unavailable, continuing without text", zap.Error(err))
		text, err = map[string]string{}, nil
	}
	if err != nil {
		ix.state = StateFailed
		ix.loadErr = err
		return nil, err
	}
	ix.state = StateLoaded
	ix.text = text
	ix.logger.Debug("text loaded", zap.Int("records", len(text)))
	return text, nil
}

func (ix *Index) buildText(ctx context.Context) (map[string]string, error) {
	if ix.cfg.TextDir != "" {
		text, err := ix.readTextTable()
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			return text, err
		}
	}

	if ix.deps.TextPaths == nil || ix.deps.Fetcher == nil {
		return nil, fmt.Errorf("%w: %s: no text manifest configured", ErrUnresolvedShard, ix.cfg.Shard)
	}
	relPath, ok := ix.deps.TextPaths.Resolve(ix.cfg.Shard)
	if !ok {
		return nil, fmt.Errorf("%w: %s not in text manifest", ErrUnresolvedShard, ix.cfg.Shard)
	}
	local, err := ix.deps.Fetcher.Fetch(ctx, relPath, ix.cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnresolvedShard, ix.cfg.Shard, err)
	}
	defer func() {
		if err := os.Remove(local); err != nil && !errors.Is(err, fs.ErrNotExist) {
			ix.logger.Warn("failed to remove text shard", zap.String("path", local), zap.Error(err))
		}
	}()
	return ix.scanText(ctx, local)
}

func (ix *Index) readTextTable() (map[string]string, error) {
	rows, err := table.ReadFile(filepath.Join(ix.cfg.TextDir, table.Text.FileName(ix.cfg.Shard)), table.Text)
	if err != nil {
		return nil, err
	}
	refCol := table.Text.ColumnIndex(table.ColRefersTo)
	contentCol := table.Text.ColumnIndex(table.ColContent)
	text := make(map[string]string, len(rows))
	for _, row := range rows {
		if _, dup := text[row[refCol]]; !dup {
			text[row[refCol]] = row[contentCol]
		}
	}
	return text, nil
}

func (ix *Index) scanText(ctx context.Context, local string) (map[string]string, error) {
	f, err := os.Open(local) // #nosec G304 -- path produced by the fetcher inside the cache dir.
	if err != nil {
		return nil, fmt.Errorf("open text shard: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	rd, err := warc.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open text shard: %w", err)
	}
	defer rd.Close() //nolint:errcheck // best effort

	text := make(map[string]string)
	for rec, err := range rd.Records(warc.ConversionText) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("scan text shard: %w", ctxErr)
		}
		if err != nil {
			if errors.Is(err, warc.ErrMalformedRecord) {
				ix.logger.Warn("skipping malformed text record", zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("scan text shard: %w", err)
		}
		ref := rec.Headers.Get(warc.HeaderRefersTo, "")
		if _, dup := text[ref]; dup {
			continue
		}
		body, err := rec.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read text record %s: %w", rec.ID, err)
		}
		text[ref] = attr.Decode(body, "utf-8")
	}
	return text, nil
}
