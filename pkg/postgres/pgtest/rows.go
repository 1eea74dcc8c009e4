package pgtest

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rows implements pgx.Rows over materialized values. Scan accepts *string,
// *int64, *bool and *any destinations and fails on a type mismatch the way pgx
// fails to decode.
type rows struct {
	fields []string
	data   [][]any
	idx    int
	err    error
	closed bool
}

var _ pgx.Rows = (*rows)(nil)

func newRows(fields []string, data [][]any) *rows {
	return &rows{fields: fields, data: data}
}

func (r *rows) Close() {
	r.closed = true
}

func (r *rows) Err() error {
	return r.err
}

func (r *rows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.data)))
}

func (r *rows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		fds[i] = pgconn.FieldDescription{Name: f}
	}
	return fds
}

func (r *rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if r.idx >= len(r.data) {
		r.Close()
		return false
	}
	r.idx++
	return true
}

func (r *rows) current() []any {
	return r.data[r.idx-1]
}

func (r *rows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.data) {
		return fmt.Errorf("pgtest: scan called without a current row")
	}
	values := r.current()
	if len(dest) != len(values) {
		return fmt.Errorf("pgtest: number of field descriptions must equal number of destinations, got %d and %d", len(values), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, values[i]); err != nil {
			return fmt.Errorf("can't scan into dest[%d] (col: %s): %w", i, r.fields[i], err)
		}
	}
	return nil
}

func assign(dest, value any) error {
	switch d := dest.(type) {
	case *any:
		*d = value
	case *string:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("cannot scan %T into *string", value)
		}
		*d = s
	case *int64:
		n, ok := value.(int64)
		if !ok {
			return fmt.Errorf("cannot scan %T into *int64", value)
		}
		*d = n
	case *bool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("cannot scan %T into *bool", value)
		}
		*d = b
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}

func (r *rows) Values() ([]any, error) {
	return append([]any(nil), r.current()...), nil
}

func (r *rows) RawValues() [][]byte {
	return nil
}

func (r *rows) Conn() *pgx.Conn {
	return nil
}

// row implements pgx.Row.
type row struct {
	rows *rows
	err  error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()
	if !r.rows.Next() {
		return pgx.ErrNoRows
	}
	return r.rows.Scan(dest...)
}
