package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ccextract/internal/table"
)

func TestWriteCopiesRowsInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "cc_")
	require.NoError(t, err)

	rows := [][]string{
		{"CC-1", "<urn:uuid:1>", "https://a.example.com/", "com", "en", "en", "ltr"},
		{"CC-1", "<urn:uuid:2>", "https://b.example.de/", "de", "", "de", ""},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cc_metadata").
		WithArgs("CC-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"cc_metadata"}, table.Metadata.Columns).
		WillReturnResult(2)
	mock.ExpectExec("INSERT INTO cc_shards").
		WithArgs("metadata", "CC-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	loc, err := sink.Write(context.Background(), table.Metadata, "CC-1", rows)
	require.NoError(t, err)
	assert.Equal(t, "postgres://cc_metadata?shard=CC-1", loc)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteRollsBackOnCopyFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM text").
		WithArgs("CC-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"text"}, table.Text.Columns).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = sink.Write(context.Background(), table.Text, "CC-1", [][]string{{"CC-1", "a", "b", "eng", "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "cc_")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS \\(SELECT 1 FROM cc_shards").
		WithArgs("text", "CC-9").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := sink.Exists(context.Background(), table.Text, "CC-9")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmptyShardIsMarkedComplete(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "cc_")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cc_text").
		WithArgs("CC-0").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"cc_text"}, table.Text.Columns).
		WillReturnResult(0)
	mock.ExpectExec("INSERT INTO cc_shards").
		WithArgs("text", "CC-0").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT EXISTS \\(SELECT 1 FROM cc_shards").
		WithArgs("text", "CC-0").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	_, err = sink.Write(context.Background(), table.Text, "CC-0", nil)
	require.NoError(t, err)

	ok, err := sink.Exists(context.Background(), table.Text, "CC-0")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteRollsBackWhenMarkerFails(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM metadata").
		WithArgs("CC-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"metadata"}, table.Metadata.Columns).
		WillReturnResult(0)
	mock.ExpectExec("INSERT INTO shards").
		WithArgs("metadata", "CC-1").
		WillReturnError(errors.New("no such table"))
	mock.ExpectRollback()

	_, err = sink.Write(context.Background(), table.Metadata, "CC-1", nil)
	require.ErrorContains(t, err, "no such table")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRejectsBadPrefix(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-prefix;")
	assert.Error(t, err)
}
