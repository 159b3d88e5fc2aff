// Package local implements a table sink backed by CSV files on the local filesystem.
package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/ccextract/internal/table"
)

// Config captures the parameters for the local filesystem sink.
type Config struct {
	// BaseDir is the directory that receives one CSV file per shard and table.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Sink writes table artifacts to the local filesystem.
type Sink struct {
	baseDir string
}

// New creates a local sink, creating BaseDir when needed.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Sink{baseDir: cfg.BaseDir}, nil
}

// Dir returns the base directory.
func (s *Sink) Dir() string {
	return s.baseDir
}

// Path returns the artifact path of a shard.
func (s *Sink) Path(t table.Table, shard string) (string, error) {
	if strings.TrimSpace(shard) == "" {
		return "", fmt.Errorf("shard is required")
	}
	fullPath := filepath.Join(s.baseDir, t.FileName(shard))
	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

// Exists reports whether the shard artifact is already present.
func (s *Sink) Exists(_ context.Context, t table.Table, shard string) (bool, error) {
	p, err := s.Path(t, shard)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
}

// Write renders rows into a hidden temporary file and renames it into place,
// so the artifact only appears once complete. It returns a file:// URI.
func (s *Sink) Write(ctx context.Context, t table.Table, shard string, rows [][]string) (string, error) {
	if err := t.Validate(rows); err != nil {
		return "", err
	}
	fullPath, err := s.Path(t, shard)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}

	tmp, err := os.CreateTemp(s.baseDir, "."+t.FileName(shard)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := table.EncodeCSV(bw, t, rows); err != nil {
		return "", err
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("flush %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("rename into %s: %w", fullPath, err)
	}
	committed = true

	return fmt.Sprintf("file://%s", fullPath), nil
}
