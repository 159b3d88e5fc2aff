// Package postgres provides a Postgres-backed table sink.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ccextract/internal/table"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table naming.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	TablePrefix     string        `mapstructure:"table_prefix"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// markerTable records completed shards, so a shard that produced no rows
// still counts as done.
const markerTable = "shards"

// Sink writes each table into <prefix><table name>, one transaction per shard.
// Tables are expected to exist with a text column per schema column, plus
// <prefix>shards (table_name text, shard text, completed_at timestamptz,
// primary key (table_name, shard)).
type Sink struct {
	pool   pool
	prefix string
}

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, cfg.TablePrefix)
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(p pool, prefix string) (*Sink, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	for _, name := range []string{table.Metadata.Name, table.Text.Name, table.Joined.Name, markerTable} {
		if !validTableName.MatchString(prefix + name) {
			return nil, fmt.Errorf("invalid table name %q", prefix+name)
		}
	}
	return &Sink{pool: p, prefix: prefix}, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TableName returns the SQL table used for t.
func (s *Sink) TableName(t table.Table) string {
	return s.prefix + t.Name
}

func (s *Sink) markerName() string {
	return s.prefix + markerTable
}

// Exists reports whether the shard has a completion marker for t.
func (s *Sink) Exists(ctx context.Context, t table.Table, shard string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE table_name = $1 AND shard = $2)", s.markerName())
	var exists bool
	if err := s.pool.QueryRow(ctx, query, t.Name, shard).Scan(&exists); err != nil {
		return false, fmt.Errorf("check shard %s: %w", shard, err)
	}
	return exists, nil
}

// Write replaces the shard's rows and marks it complete inside a single
// transaction using COPY.
func (s *Sink) Write(ctx context.Context, t table.Table, shard string, rows [][]string) (location string, err error) {
	if err := t.Validate(rows); err != nil {
		return "", err
	}
	name := s.TableName(t)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE shard = $1", name), shard); err != nil {
		return "", fmt.Errorf("clear shard %s: %w", shard, err)
	}

	src := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = v
		}
		src[i] = vals
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{name}, t.Columns, pgx.CopyFromRows(src))
	if err != nil {
		return "", fmt.Errorf("copy into %s: %w", name, err)
	}
	if n != int64(len(rows)) {
		err = fmt.Errorf("copy into %s: wrote %d of %d rows", name, n, len(rows))
		return "", err
	}
	mark := fmt.Sprintf(
		"INSERT INTO %s (table_name, shard, completed_at) VALUES ($1, $2, now()) "+
			"ON CONFLICT (table_name, shard) DO UPDATE SET completed_at = EXCLUDED.completed_at",
		s.markerName(),
	)
	if _, err = tx.Exec(ctx, mark, t.Name, shard); err != nil {
		return "", fmt.Errorf("mark shard %s: %w", shard, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit shard %s: %w", shard, err)
	}
	return fmt.Sprintf("postgres://%s?shard=%s", name, shard), nil
}
