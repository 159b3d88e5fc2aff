// Package decompress expands gzip-compressed shards onto local disk.
package decompress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrDecompress marks a corrupt or truncated archive.
var ErrDecompress = errors.New("decompression failed")

// Gunzip expands src into destDir, naming the output after src without its
// .gz suffix. The source is removed after success when removeSource is set;
// a partially written output is always removed on failure.
func Gunzip(src, destDir string, removeSource bool) (string, error) {
	out := filepath.Join(destDir, strings.TrimSuffix(filepath.Base(src), ".gz"))
	if out == src {
		out += ".out"
	}

	if err := expand(src, out); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("%w: %s: %v", ErrDecompress, src, err)
	}

	if removeSource {
		if err := os.Remove(src); err != nil {
			return out, fmt.Errorf("remove %s: %w", src, err)
		}
	}
	return out, nil
}

func expand(src, out string) error {
	in, err := os.Open(src) // #nosec G304 -- shard paths come from the local cache dir.
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close() //nolint:errcheck // read-only

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close() //nolint:errcheck // reader close only releases state
	zr.Multistream(true)

	dst, err := os.Create(out) // #nosec G304 -- output lives next to the cached shard.
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(dst, zr); err != nil {
		_ = dst.Close()
		return fmt.Errorf("expand: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}
