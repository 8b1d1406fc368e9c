package braze

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/RichardKnop/braze/internal/stmt"
)

type Stmt struct {
	conn  *Conn
	query string
	names []string
}

// Close closes the statement.
func (s *Stmt) Close() error {
	return nil
}

// NumInput returns the number of distinct placeholder names, which is how
// many arguments the sql package checks callers pass.
func (s *Stmt) NumInput() int {
	return len(s.names)
}

// Exec executes a query that doesn't return rows, such
// as an INSERT or UPDATE.
//
// Deprecated: Drivers should implement StmtExecContext instead (or additionally).
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

// Query executes a query that may return rows, such as a
// SELECT.
//
// Deprecated: Drivers should implement StmtQueryContext instead (or additionally).
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, 0, len(args))
	for i, arg := range args {
		named = append(named, driver.NamedValue{Ordinal: i + 1, Value: arg})
	}
	return named
}

// typeOf maps a driver.Value to the type tag the server decodes it as.
func typeOf(arg driver.Value) (stmt.TypeTag, error) {
	//	int64
	//	float64
	//	bool
	//	[]byte
	//	string
	//	time.Time
	switch arg.(type) {
	case nil:
		return stmt.Untyped, nil
	case int64:
		return stmt.Int64, nil
	case float64:
		return stmt.Double, nil
	case bool:
		return stmt.Bool, nil
	case []byte:
		return stmt.Bytes, nil
	case string:
		return stmt.String, nil
	case time.Time:
		return stmt.Timestamp, nil
	default:
		return stmt.Untyped, fmt.Errorf("unsupported argument type: %T", arg)
	}
}

var _ driver.Stmt = (*Stmt)(nil)
var _ driver.StmtExecContext = (*Stmt)(nil)
var _ driver.StmtQueryContext = (*Stmt)(nil)
