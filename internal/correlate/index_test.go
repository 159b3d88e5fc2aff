package correlate_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/correlate"
	"github.com/JakeFAU/ccextract/internal/extract"
	"github.com/JakeFAU/ccextract/internal/manifest"
	"github.com/JakeFAU/ccextract/internal/storage/local"
	"github.com/JakeFAU/ccextract/internal/storage/memory"
	"github.com/JakeFAU/ccextract/internal/table"
	"github.com/JakeFAU/ccextract/internal/warc/warctest"
)

const (
	shard     = "CC-MAIN-20230126210844-20230127000844-00000"
	textEntry = "crawl-data/CC-MAIN-2023-06/segments/1674764494826.88/wet/" + shard + ".warc.wet.gz"
)

func metaRow(id, domain, lang string) []string {
	return []string{shard, id, "https://site." + domain + "/", domain, "", lang, ""}
}

func writeMetadata(t *testing.T, rows [][]string) string {
	t.Helper()
	dir := t.TempDir()
	sink, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	_, err = sink.Write(context.Background(), table.Metadata, shard, rows)
	require.NoError(t, err)
	return dir
}

func textArchive() []byte {
	b := &warctest.Builder{}
	b.AddConversion(warctest.Conversion{ID: "<urn:uuid:t1>", RefersTo: "<urn:uuid:1>", Body: "Hello World"})
	b.AddConversion(warctest.Conversion{ID: "<urn:uuid:t2>", RefersTo: "<urn:uuid:2>", Body: "Bonjour le monde"})
	return b.Gzip()
}

type fixture struct {
	cfg     correlate.Config
	deps    correlate.Deps
	fetcher *warctest.Fetcher
	sink    *memory.Sink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	paths, err := manifest.NewPathIndex(manifest.FlavorText, textEntry)
	require.NoError(t, err)
	fetcher := warctest.NewFetcher(map[string][]byte{textEntry: textArchive()})
	sink := memory.NewSink()
	return &fixture{
		cfg: correlate.Config{
			Shard: shard,
			MetadataDir: writeMetadata(t, [][]string{
				metaRow("<urn:uuid:1>", "com", "en"),
				metaRow("<urn:uuid:2>", "fr", "fr"),
				metaRow("<urn:uuid:3>", "de", "de"),
			}),
			CacheDir: t.TempDir(),
		},
		deps: correlate.Deps{
			TextPaths: paths,
			Fetcher:   fetcher,
			Sink:      sink,
			Rand:      rand.New(rand.NewPCG(1, 2)),
			Logger:    zap.NewNop(),
		},
		fetcher: fetcher,
		sink:    sink,
	}
}

func TestNewMissingMetadata(t *testing.T) {
	t.Parallel()

	_, err := correlate.New(correlate.Config{
		Shard:            shard,
		MetadataDir:      t.TempDir(),
		IgnoreMissing:    true,
		IgnoreUnresolved: true,
	}, correlate.Deps{})
	require.ErrorIs(t, err, extract.ErrMetadataMissing)
}

func TestNewDuplicateRecord(t *testing.T) {
	t.Parallel()

	dir := writeMetadata(t, [][]string{
		metaRow("<urn:uuid:1>", "com", "en"),
		metaRow("<urn:uuid:1>", "org", "en"),
	})
	_, err := correlate.New(correlate.Config{Shard: shard, MetadataDir: dir}, correlate.Deps{})
	require.ErrorIs(t, err, correlate.ErrDuplicateRecord)
}

func TestTextLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ix, err := correlate.New(f.cfg, f.deps)
	require.NoError(t, err)
	assert.Equal(t, correlate.StateUnloaded, ix.State())
	assert.Empty(t, f.fetcher.Calls(), "text side loads lazily")

	got, err := ix.Text(context.Background(), "<urn:uuid:1>", "default")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", got)
	assert.Equal(t, correlate.StateLoaded, ix.State())

	_, err = ix.Text(context.Background(), "<urn:uuid:2>", "")
	require.NoError(t, err)
	assert.Len(t, f.fetcher.Calls(), 1, "text side loads once")
}

func TestTextStrictAndPermissive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	strict, err := correlate.New(f.cfg, f.deps)
	require.NoError(t, err)
	got, err := strict.Text(context.Background(), "<urn:uuid:404>", "fallback")
	require.ErrorIs(t, err, correlate.ErrCorrelationMissing)
	var missing *correlate.MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "<urn:uuid:404>", missing.Key)
	assert.Equal(t, "fallback", got)

	cfg := f.cfg
	cfg.IgnoreMissing = true
	permissive, err := correlate.New(cfg, f.deps)
	require.NoError(t, err)
	got, err = permissive.Text(context.Background(), "<urn:uuid:404>", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}

func TestUnresolvedShard(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	empty, err := manifest.NewPathIndex(manifest.FlavorText)
	require.NoError(t, err)
	f.deps.TextPaths = empty

	strict, err := correlate.New(f.cfg, f.deps)
	require.NoError(t, err)
	_, err = strict.Text(context.Background(), "<urn:uuid:1>", "")
	require.ErrorIs(t, err, correlate.ErrUnresolvedShard)
	assert.Equal(t, correlate.StateFailed, strict.State())

	// IgnoreUnresolved alone still reports lookup misses.
	cfg := f.cfg
	cfg.IgnoreUnresolved = true
	degraded, err := correlate.New(cfg, f.deps)
	require.NoError(t, err)
	_, err = degraded.Text(context.Background(), "<urn:uuid:1>", "")
	require.ErrorIs(t, err, correlate.ErrCorrelationMissing)
	assert.Equal(t, correlate.StateLoaded, degraded.State())
}

func TestFetchFailureIsUnresolved(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.deps.Fetcher = warctest.NewFetcher(nil)
	cfg := f.cfg
	cfg.IgnoreUnresolved = true
	cfg.IgnoreMissing = true

	ix, err := correlate.New(cfg, f.deps)
	require.NoError(t, err)
	got, err := ix.Text(context.Background(), "<urn:uuid:1>", "none")
	require.NoError(t, err)
	assert.Equal(t, "none", got)
}

func TestTextDirIsPreferred(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	textDir := t.TempDir()
	sink, err := local.New(local.Config{BaseDir: textDir})
	require.NoError(t, err)
	_, err = sink.Write(context.Background(), table.Text, shard, [][]string{
		{shard, "<urn:uuid:t1>", "<urn:uuid:1>", "eng", "from table"},
	})
	require.NoError(t, err)

	cfg := f.cfg
	cfg.TextDir = textDir
	ix, err := correlate.New(cfg, f.deps)
	require.NoError(t, err)
	got, err := ix.Text(context.Background(), "<urn:uuid:1>", "")
	require.NoError(t, err)
	assert.Equal(t, "from table", got)
	assert.Empty(t, f.fetcher.Calls())
}

func TestMetadataLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ix, err := correlate.New(f.cfg, f.deps)
	require.NoError(t, err)
	assert.Equal(t, 3, ix.Len())
	assert.Equal(t, shard, ix.Shard())

	got, err := ix.Metadata("<urn:uuid:2>", table.ColDomain, "")
	require.NoError(t, err)
	assert.Equal(t, "fr", got)

	_, err = ix.Metadata("<urn:uuid:404>", table.ColDomain, "")
	require.ErrorIs(t, err, correlate.ErrCorrelationMissing)

	_, err = ix.Metadata("<urn:uuid:2>", "nope", "")
	require.ErrorIs(t, err, correlate.ErrUnknownColumn)
}

func TestQuerySampling(t *testing.T) {
	t.Parallel()

	rows := make([][]string, 0, 11)
	for i := range 11 {
		rows = append(rows, metaRow(fmt.Sprintf("<urn:uuid:%d>", i), "com", "en"))
	}
	ix, err := correlate.New(
		correlate.Config{Shard: shard, MetadataDir: writeMetadata(t, rows)},
		correlate.Deps{Rand: rand.New(rand.NewPCG(7, 7))},
	)
	require.NoError(t, err)

	sample, err := ix.Query(correlate.All, 0.5)
	require.NoError(t, err)
	assert.Len(t, sample, 5)

	all, err := ix.Query(nil, 1)
	require.NoError(t, err)
	require.Len(t, all, 11)

	seen := map[string]bool{}
	for _, id := range sample {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		assert.Contains(t, all, id)
	}

	for _, frac := range []float64{0, -1, 1.5} {
		_, err := ix.Query(correlate.All, frac)
		require.ErrorIs(t, err, correlate.ErrInvalidFraction)
	}
}

func TestQueryPredicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ix, err := correlate.New(f.cfg, f.deps)
	require.NoError(t, err)

	ids, err := ix.Query(func(r correlate.Row) bool { return r.Get(table.ColHTMLLang) != "de" }, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"<urn:uuid:1>", "<urn:uuid:2>"}, ids)
}

func TestFilters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ix, err := correlate.New(f.cfg, f.deps)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := ix.FilterMetadata("<urn:uuid:1>", table.ColDomain, correlate.Equal, "com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ix.FilterMetadata("<urn:uuid:1>", table.ColDomain, correlate.NotEqual, "com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ix.FilterText(ctx, "<urn:uuid:1>", correlate.Contains, "world", true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ix.FilterText(ctx, "<urn:uuid:1>", correlate.Contains, "world", false)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ix.FilterText(ctx, "<urn:uuid:3>", correlate.Equal, "", false)
	require.ErrorIs(t, err, correlate.ErrCorrelationMissing)
}

func TestParseOp(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]correlate.Op{"eq": correlate.Equal, "!=": correlate.NotEqual, "contains": correlate.Contains} {
		got, err := correlate.ParseOp(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := correlate.ParseOp("like")
	require.Error(t, err)
}

func TestSave(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.IgnoreMissing = true
	ix, err := correlate.New(f.cfg, f.deps)
	require.NoError(t, err)

	loc, err := ix.Save(context.Background(), correlate.All, 1,
		correlate.MetadataFilter(table.ColDomain, correlate.NotEqual, "de"),
		correlate.TextFilter(correlate.Contains, "monde", false),
	)
	require.NoError(t, err)
	assert.Equal(t, "memory://joined/"+shard+".joined.csv", loc)

	rows, ok := f.sink.Rows(table.Joined, shard)
	require.True(t, ok)
	want := append(metaRow("<urn:uuid:2>", "fr", "fr"), "Bonjour le monde")
	assert.Equal(t, [][]string{want}, rows)
}

func TestSaveStrictMissingText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ix, err := correlate.New(f.cfg, f.deps)
	require.NoError(t, err)

	_, err = ix.Save(context.Background(), correlate.All, 1)
	require.ErrorIs(t, err, correlate.ErrCorrelationMissing)
	assert.Zero(t, f.sink.Writes())
}
