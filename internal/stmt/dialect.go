package stmt

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect is a driver placeholder syntax.
type Dialect int

const (
	// Dollar is $1, $2, ... as used by PostgreSQL.
	Dollar Dialect = iota + 1
	// Question is ? as used by SQLite and MySQL.
	Question
	// AtName is @name as used by pgx named arguments and SQL Server.
	AtName
	// ColonIndex is :1, :2, ... as used by Oracle.
	ColonIndex
)

func (d Dialect) String() string {
	switch d {
	case Dollar:
		return "dollar"
	case Question:
		return "question"
	case AtName:
		return "at_name"
	case ColonIndex:
		return "colon_index"
	default:
		return "unknown"
	}
}

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dollar", "postgres", "postgresql", "pgx":
		return Dollar, nil
	case "question", "sqlite", "mysql":
		return Question, nil
	case "at_name", "named":
		return AtName, nil
	case "colon_index", "oracle":
		return ColonIndex, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q", s)
	}
}

// Substitute returns the placeholder renderer for the dialect.
func (d Dialect) Substitute() SubstituteFunc {
	switch d {
	case Question:
		return func(int, string, InputBinding) string { return "?" }
	case AtName:
		return func(_ int, name string, _ InputBinding) string { return "@" + name }
	case ColonIndex:
		return func(index int, _ string, _ InputBinding) string { return ":" + strconv.Itoa(index) }
	default:
		return func(index int, _ string, _ InputBinding) string { return "$" + strconv.Itoa(index) }
	}
}

// Bound is a statement rendered for a particular dialect.
type Bound struct {
	SQL   string
	Names []string
	Args  []any
}

// Bind renders s for dialect d. The statement itself keeps its template text
// so it can be bound again with other values.
func Bind(s *Statement, d Dialect) (Bound, error) {
	var (
		render = d.Substitute()
		bound  Bound
	)

	rendered, err := s.Clone().Rewrite(func(index int, name string, in InputBinding) string {
		bound.Names = append(bound.Names, name)
		bound.Args = append(bound.Args, in.Value)
		return render(index, name, in)
	})
	if err != nil {
		return Bound{}, err
	}
	bound.SQL = rendered

	return bound, nil
}
