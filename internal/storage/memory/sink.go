// Package memory stores table artifacts in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/ccextract/internal/table"
)

// Sink keeps written rows keyed by table and shard.
type Sink struct {
	mu     sync.RWMutex
	data   map[string][][]string
	writes int
}

// NewSink creates an empty in-memory sink.
func NewSink() *Sink {
	return &Sink{data: make(map[string][][]string)}
}

func key(t table.Table, shard string) string {
	return t.Name + "/" + shard
}

// Exists reports whether rows were written for the shard.
func (s *Sink) Exists(_ context.Context, t table.Table, shard string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key(t, shard)]
	return ok, nil
}

// Write stores a copy of rows and returns a memory:// URI.
func (s *Sink) Write(_ context.Context, t table.Table, shard string, rows [][]string) (string, error) {
	if err := t.Validate(rows); err != nil {
		return "", err
	}
	cp := make([][]string, len(rows))
	for i, row := range rows {
		cp[i] = append([]string(nil), row...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key(t, shard)] = cp
	s.writes++
	return fmt.Sprintf("memory://%s", key(t, shard)+t.Suffix), nil
}

// Rows returns the stored rows of a shard.
func (s *Sink) Rows(t table.Table, shard string) ([][]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.data[key(t, shard)]
	return rows, ok
}

// Writes counts successful Write calls.
func (s *Sink) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
