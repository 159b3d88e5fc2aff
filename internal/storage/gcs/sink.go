// Package gcs provides a table sink backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/ccextract/internal/table"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Sink uploads one CSV object per shard and table.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
}

// Open creates a storage client and verifies the bucket is reachable.
// Authentication uses Application Default Credentials.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		closeErr := client.Close()
		return nil, errors.Join(fmt.Errorf("get gcs bucket %q attributes: %w", cfg.Bucket, err), closeErr)
	}
	return New(client, cfg)
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object key of a shard artifact.
func ObjectName(prefix string, t table.Table, shard string) string {
	if prefix == "" {
		return t.FileName(shard)
	}
	return path.Join(prefix, t.FileName(shard))
}

// Exists reports whether the shard object is present.
func (s *Sink) Exists(ctx context.Context, t table.Table, shard string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(ObjectName(s.prefix, t, shard)).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat gcs object: %w", err)
	}
}

// Write streams the CSV to GCS. The object is only finalized by a successful
// Close; on any error the upload context is canceled so nothing becomes visible.
func (s *Sink) Write(ctx context.Context, t table.Table, shard string, rows [][]string) (string, error) {
	if err := t.Validate(rows); err != nil {
		return "", err
	}
	name := ObjectName(s.prefix, t, shard)

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(uploadCtx)
	writer.ContentType = "text/csv"
	if err := table.EncodeCSV(writer, t, rows); err != nil {
		cancel()
		_ = writer.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Close releases the client.
func (s *Sink) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
