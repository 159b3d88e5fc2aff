package warctest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
)

// Fetcher serves archives from memory, writing them into the destination
// directory the way a network fetcher would.
type Fetcher struct {
	Archives map[string][]byte

	mu    sync.Mutex
	calls []string
}

// NewFetcher returns a Fetcher serving the given relative paths.
func NewFetcher(archives map[string][]byte) *Fetcher {
	return &Fetcher{Archives: archives}
}

// Fetch writes the archive for relPath into destDir.
func (f *Fetcher) Fetch(_ context.Context, relPath, destDir string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, relPath)
	data, ok := f.Archives[relPath]
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("fetch %s: %w", relPath, fs.ErrNotExist)
	}
	dest := filepath.Join(destDir, path.Base(relPath))
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return dest, nil
}

// Calls returns the requested paths in order.
func (f *Fetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
