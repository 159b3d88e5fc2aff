package decompress

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMembers(t *testing.T, path string, members ...string) {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range members {
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write([]byte(m))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestGunzipMultiMember(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "CC-1.warc.gz")
	writeMembers(t, src, "first record\n", "second record\n")

	out, err := Gunzip(src, dir, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "CC-1.warc"), out)

	data, err := os.ReadFile(out) // #nosec G304 -- test temp dir
	require.NoError(t, err)
	assert.Equal(t, "first record\nsecond record\n", string(data))
	assert.NoFileExists(t, src)
}

func TestGunzipKeepsSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "CC-2.warc.wet.gz")
	writeMembers(t, src, "text")

	out, err := Gunzip(src, dir, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "CC-2.warc.wet"), out)
	assert.FileExists(t, src)
}

func TestGunzipCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "bad.warc.gz")
	require.NoError(t, os.WriteFile(src, []byte("not gzip at all"), 0o600))

	_, err := Gunzip(src, dir, true)
	require.ErrorIs(t, err, ErrDecompress)
	assert.NoFileExists(t, filepath.Join(dir, "bad.warc"))
	assert.FileExists(t, src)
}
