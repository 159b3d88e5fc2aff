package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// Source reads manifest entries sequentially. It is owned by a single caller.
type Source struct {
	file    io.Closer
	scanner *bufio.Scanner
	done    bool
}

// Open opens a manifest for batch reading. A missing file is ErrManifestMissing.
func Open(p string) (*Source, error) {
	file, err := os.Open(p) // #nosec G304 -- manifest path is operator supplied.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, p)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestMissing, p, err)
	}
	return NewSource(file), nil
}

// NewSource reads entries from r. If r is an io.Closer it is closed by Close.
func NewSource(r io.Reader) *Source {
	s := &Source{scanner: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		s.file = c
	}
	return s
}

// Next returns up to n non-empty entries. An empty slice with a nil error
// means the manifest is exhausted.
func (s *Source) Next(n int) ([]string, error) {
	if n <= 0 {
		n = 1
	}
	batch := make([]string, 0, n)
	for !s.done && len(batch) < n {
		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return batch, fmt.Errorf("read manifest: %w", err)
			}
			break
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line != "" {
			batch = append(batch, line)
		}
	}
	return batch, nil
}

// Close releases the underlying file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return nil
}
