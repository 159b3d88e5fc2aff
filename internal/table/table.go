// Package table describes the tabular outputs of the extractors and the Sink
// contract every storage backend implements.
package table

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// Column names shared by the schemas.
const (
	ColShard              = "shard"
	ColRecordID           = "record_id"
	ColTargetURI          = "target_uri"
	ColDomain             = "domain"
	ColContentLanguage    = "content_language"
	ColHTMLLang           = "html_lang"
	ColHTMLDir            = "html_dir"
	ColRefersTo           = "refers_to"
	ColIdentifiedLanguage = "identified_language"
	ColContent            = "content"
)

// Table names a schema and the file suffix its per-shard artifact uses.
type Table struct {
	Name    string
	Suffix  string
	Columns []string
}

// Stock tables. The column order is the schema.
var (
	Metadata = Table{
		Name:   "metadata",
		Suffix: ".csv",
		Columns: []string{
			ColShard, ColRecordID, ColTargetURI, ColDomain,
			ColContentLanguage, ColHTMLLang, ColHTMLDir,
		},
	}
	Text = Table{
		Name:    "text",
		Suffix:  ".wet.csv",
		Columns: []string{ColShard, ColRecordID, ColRefersTo, ColIdentifiedLanguage, ColContent},
	}
	Joined = Table{
		Name:   "joined",
		Suffix: ".joined.csv",
		Columns: []string{
			ColShard, ColRecordID, ColTargetURI, ColDomain,
			ColContentLanguage, ColHTMLLang, ColHTMLDir, ColContent,
		},
	}
)

// FileName is the artifact name of a shard in this table.
func (t Table) FileName(shard string) string {
	return shard + t.Suffix
}

// ColumnIndex returns the position of a column, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Sink persists one shard's rows as a single artifact. Write must not expose
// a partially written artifact: readers see either nothing or every row.
type Sink interface {
	Exists(ctx context.Context, t Table, shard string) (bool, error)
	Write(ctx context.Context, t Table, shard string, rows [][]string) (string, error)
}

// ErrSchemaMismatch is returned when a row or file does not match its table.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Validate checks that every row has one value per column.
func (t Table) Validate(rows [][]string) error {
	for i, row := range rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: %s row %d has %d values, want %d", ErrSchemaMismatch, t.Name, i, len(row), len(t.Columns))
		}
	}
	return nil
}

// EncodeCSV writes the header and rows as CSV.
func EncodeCSV(w io.Writer, t Table, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// MarshalCSV renders a table artifact in memory.
func MarshalCSV(t Table, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, t, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCSV reads an artifact and checks its header against t.
func DecodeCSV(r io.Reader, t Table) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) != len(t.Columns) {
		return nil, fmt.Errorf("%w: %s header has %d columns, want %d", ErrSchemaMismatch, t.Name, len(header), len(t.Columns))
	}
	cr.FieldsPerRecord = len(t.Columns)
	for i, col := range t.Columns {
		if header[i] != col {
			return nil, fmt.Errorf("%w: %s column %d is %q, want %q", ErrSchemaMismatch, t.Name, i, header[i], col)
		}
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv rows: %w", err)
	}
	return rows, nil
}

// ReadFile loads a local artifact.
func ReadFile(path string, t Table) ([][]string, error) {
	f, err := os.Open(path) // #nosec G304 -- artifact paths are derived from configured directories.
	if err != nil {
		return nil, fmt.Errorf("open %s table: %w", t.Name, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	rows, err := DecodeCSV(f, t)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rows, nil
}
