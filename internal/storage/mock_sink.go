package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/ccextract/internal/table"
)

// MockSink is a testify mock of table.Sink.
type MockSink struct {
	mock.Mock
}

// Exists is the mock implementation of Exists.
func (m *MockSink) Exists(ctx context.Context, t table.Table, shard string) (bool, error) {
	args := m.Called(ctx, t, shard)
	return args.Bool(0), args.Error(1) //nolint:wrapcheck
}

// Write is the mock implementation of Write.
func (m *MockSink) Write(ctx context.Context, t table.Table, shard string, rows [][]string) (string, error) {
	args := m.Called(ctx, t, shard, rows)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
