package correlate

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/table"
)

// Row is a read-only view of one metadata row.
type Row struct {
	values []string
}

// Get returns a column value, or "" for an unknown column.
func (r Row) Get(column string) string {
	if i := table.Metadata.ColumnIndex(column); i >= 0 {
		return r.values[i]
	}
	return ""
}

// ID returns the record id.
func (r Row) ID() string {
	return r.Get(table.ColRecordID)
}

// Predicate selects metadata rows.
type Predicate func(Row) bool

// All matches every row.
func All(Row) bool { return true }

// Query returns a uniform sample, without replacement, of the record ids
// whose metadata matches pred. The sample has floor(frac·N) members for N
// matches and keeps table order; frac == 1 returns every match.
func (ix *Index) Query(pred Predicate, frac float64) ([]string, error) {
	if !(frac > 0 && frac <= 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFraction, frac)
	}
	if pred == nil {
		pred = All
	}

	var matches []string
	for _, id := range ix.ids {
		if pred(Row{values: ix.rows[id]}) {
			matches = append(matches, id)
		}
	}
	if frac == 1 {
		return matches, nil
	}

	k := int(math.Floor(frac * float64(len(matches))))
	ix.mu.Lock()
	picked := ix.deps.Rand.Perm(len(matches))[:k]
	ix.mu.Unlock()
	slices.Sort(picked)

	out := make([]string, k)
	for i, p := range picked {
		out[i] = matches[p]
	}
	return out, nil
}

// Op is a comparison operator for filters.
type Op int

// Supported operators.
const (
	Equal Op = iota
	NotEqual
	Contains
)

func (o Op) String() string {
	switch o {
	case Equal:
		return "eq"
	case NotEqual:
		return "ne"
	case Contains:
		return "contains"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// ParseOp parses the names accepted on the command line.
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eq", "=", "==", "equal":
		return Equal, nil
	case "ne", "!=", "not-equal":
		return NotEqual, nil
	case "contains", "~":
		return Contains, nil
	default:
		return 0, fmt.Errorf("unknown operator %q", s)
	}
}

func compare(got string, op Op, want string, caseInsensitive bool) (bool, error) {
	if caseInsensitive {
		got, want = strings.ToLower(got), strings.ToLower(want)
	}
	switch op {
	case Equal:
		return got == want, nil
	case NotEqual:
		return got != want, nil
	case Contains:
		return strings.Contains(got, want), nil
	default:
		return false, fmt.Errorf("unsupported operator %v", op)
	}
}

// FilterMetadata compares one metadata column of id against value. Misses
// follow the same strict or permissive rule as Metadata, with "" as default.
func (ix *Index) FilterMetadata(id, column string, op Op, value string) (bool, error) {
	got, err := ix.Metadata(id, column, "")
	if err != nil {
		return false, err
	}
	return compare(got, op, value, false)
}

// FilterText compares the text of id against value.
func (ix *Index) FilterText(ctx context.Context, id string, op Op, value string, caseInsensitive bool) (bool, error) {
	got, err := ix.Text(ctx, id, "")
	if err != nil {
		return false, err
	}
	return compare(got, op, value, caseInsensitive)
}

// Filter decides whether a queried record is kept by Save.
type Filter func(ctx context.Context, ix *Index, id string) (bool, error)

// MetadataFilter adapts FilterMetadata.
func MetadataFilter(column string, op Op, value string) Filter {
	return func(_ context.Context, ix *Index, id string) (bool, error) {
		return ix.FilterMetadata(id, column, op, value)
	}
}

// TextFilter adapts FilterText.
func TextFilter(op Op, value string, caseInsensitive bool) Filter {
	return func(ctx context.Context, ix *Index, id string) (bool, error) {
		return ix.FilterText(ctx, id, op, value, caseInsensitive)
	}
}

// Save queries the index, keeps the records every filter accepts, and
// writes one joined row per record through the sink.
func (ix *Index) Save(ctx context.Context, pred Predicate, frac float64, filters ...Filter) (string, error) {
	if ix.deps.Sink == nil {
		return "", fmt.Errorf("no sink configured")
	}
	ids, err := ix.Query(pred, frac)
	if err != nil {
		return "", err
	}

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		keep, err := ix.accept(ctx, id, filters)
		if err != nil {
			return "", err
		}
		if !keep {
			continue
		}
		text, err := ix.Text(ctx, id, "")
		if err != nil {
			return "", err
		}
		row := make([]string, 0, len(table.Joined.Columns))
		row = append(row, ix.rows[id]...)
		rows = append(rows, append(row, text))
	}

	loc, err := ix.deps.Sink.Write(ctx, table.Joined, ix.cfg.Shard, rows)
	if err != nil {
		return "", fmt.Errorf("write joined table for %s: %w", ix.cfg.Shard, err)
	}
	ix.logger.Info("joined table written",
		zap.Int("queried", len(ids)),
		zap.Int("rows", len(rows)),
		zap.String("location", loc),
	)
	return loc, nil
}

func (ix *Index) accept(ctx context.Context, id string, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := f(ctx, ix, id)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
