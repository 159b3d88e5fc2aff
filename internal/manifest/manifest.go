// Package manifest reads Common Crawl path manifests (warc.paths, wet.paths)
// and resolves logical shard names to their remote storage paths.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrManifestMissing is returned when a manifest that must exist cannot be opened.
var ErrManifestMissing = errors.New("manifest missing")

// Flavor distinguishes raw-capture and text-conversion manifests.
type Flavor int

// Archive flavors.
const (
	FlavorRaw Flavor = iota
	FlavorText
)

// segments is the fixed layout <crawl>/<crawl2>/<segA>/<segB>/<segC>/<file>.
const segments = 6

// Suffix returns the file suffix stripped to obtain a shard name.
func (f Flavor) Suffix() string {
	if f == FlavorText {
		return ".warc.wet.gz"
	}
	return ".warc.gz"
}

func (f Flavor) String() string {
	if f == FlavorText {
		return "wet"
	}
	return "warc"
}

// FlavorFromFilename infers the flavor from a manifest file name such as
// "wet.paths". Anything not starting with "wet" is treated as raw capture.
func FlavorFromFilename(name string) Flavor {
	base := filepath.Base(name)
	kind, _, _ := strings.Cut(base, ".")
	if kind == "wet" {
		return FlavorText
	}
	return FlavorRaw
}

// ShardName returns the logical shard name of a relative path.
func ShardName(relPath string, f Flavor) string {
	return strings.TrimSuffix(path.Base(strings.TrimSpace(relPath)), f.Suffix())
}

// PathIndex maps shard names to the directory prefix that holds them. It is
// immutable once loaded and safe to share between goroutines.
type PathIndex struct {
	flavor   Flavor
	prefixes map[string]string
}

// Load parses the manifest at p. A manifest that does not exist yields an
// empty index and no error; callers treat every lookup as unresolved.
func Load(p string, f Flavor) (*PathIndex, error) {
	idx := &PathIndex{flavor: f, prefixes: make(map[string]string)}
	file, err := os.Open(p) // #nosec G304 -- manifest path is operator supplied.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil
		}
		return nil, fmt.Errorf("open manifest %s: %w", p, err)
	}
	defer file.Close() //nolint:errcheck // read-only

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := idx.add(line); err != nil {
			return nil, fmt.Errorf("manifest %s line %d: %w", p, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", p, err)
	}
	return idx, nil
}

// NewPathIndex builds an index from in-memory relative paths.
func NewPathIndex(f Flavor, paths ...string) (*PathIndex, error) {
	idx := &PathIndex{flavor: f, prefixes: make(map[string]string, len(paths))}
	for _, p := range paths {
		if err := idx.add(strings.TrimSpace(p)); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (x *PathIndex) add(relPath string) error {
	parts := strings.Split(relPath, "/")
	if len(parts) != segments {
		return fmt.Errorf("path %q has %d segments, want %d", relPath, len(parts), segments)
	}
	prefix := strings.Join(parts[:segments-1], "/") + "/"
	x.prefixes[ShardName(parts[segments-1], x.flavor)] = prefix
	return nil
}

// Flavor reports the manifest flavor.
func (x *PathIndex) Flavor() Flavor {
	return x.flavor
}

// Len reports the number of shards in the index.
func (x *PathIndex) Len() int {
	return len(x.prefixes)
}

// Prefix returns the directory prefix of a shard, ending in "/".
func (x *PathIndex) Prefix(shard string) (string, bool) {
	p, ok := x.prefixes[shard]
	return p, ok
}

// Resolve returns the full relative path of a shard.
func (x *PathIndex) Resolve(shard string) (string, bool) {
	p, ok := x.prefixes[shard]
	if !ok {
		return "", false
	}
	return p + shard + x.flavor.Suffix(), true
}
