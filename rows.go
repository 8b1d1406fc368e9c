package braze

import (
	"database/sql/driver"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

type Rows struct {
	columns []string
	rows    [][]any
	next    int
}

// Columns returns the names of the columns, renamed by output bindings
// when the statement had any.
func (r *Rows) Columns() []string {
	return r.columns
}

// Close closes the rows iterator.
func (r *Rows) Close() error {
	r.rows = nil
	return nil
}

// Next is called to populate the next row of data into
// the provided slice. The provided slice will be the same
// size as the Columns() are wide.
//
// Next should return io.EOF when there are no more rows.
func (r *Rows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}

	aRow := r.rows[r.next]
	r.next++
	if len(aRow) != len(dest) {
		return fmt.Errorf("expected %d values, got %d", len(dest), len(aRow))
	}

	for i, value := range aRow {
		v, err := driverValue(value)
		if err != nil {
			return fmt.Errorf("column %q: %w", r.columns[i], err)
		}
		dest[i] = v
	}

	return nil
}

// driverValue converts a JSON decoded value into one of the types
// database/sql scans from.
func driverValue(value any) (driver.Value, error) {
	switch v := value.(type) {
	case nil, bool, string, int64, float64, []byte:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", value)
	}
}
