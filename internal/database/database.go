// Package database executes stmt.Statement values against a SQL driver.
//
// Every execution rewrites the statement's :name placeholders into the
// driver's dialect. Rendered SQL is cached per dialect, statement name and
// text, argument values are taken from the current bindings each time.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/RichardKnop/braze/internal/stmt"
	"github.com/RichardKnop/braze/pkg/lrucache"
)

var (
	ErrUnsupportedDriver  = errors.New("unsupported driver")
	ErrUnsupportedDialect = errors.New("unsupported dialect")
	ErrOutputMismatch     = errors.New("output bindings do not match result columns")
)

// Conn executes statements. Implementations are safe for concurrent use, the
// statements passed to them are not.
type Conn interface {
	Execute(ctx context.Context, s *stmt.Statement) (*Result, error)
	Dialect() stmt.Dialect
	Close() error
}

type Result struct {
	Kind         stmt.Kind
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

const defaultCacheSize = 256

type options struct {
	dialect   stmt.Dialect
	cacheSize int
	logger    *zap.Logger
}

type Option func(*options)

// WithDialect overrides the driver's default placeholder dialect.
func WithDialect(d stmt.Dialect) Option {
	return func(o *options) {
		o.dialect = d
	}
}

// WithCacheSize sets how many rendered statements are kept.
func WithCacheSize(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(defaultDialect stmt.Dialect, opts []Option) options {
	o := options{
		dialect:   defaultDialect,
		cacheSize: defaultCacheSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open connects to driver "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Conn, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return NewPostgres(ctx, dsn, opts...)
	case "sqlite", "sqlite3":
		return NewSQLite(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

type rendering struct {
	sql   string
	names []string
}

type renderer struct {
	dialect stmt.Dialect
	cache   *lrucache.Cache[string, rendering]
	logger  *zap.Logger
}

func newRenderer(o options) *renderer {
	return &renderer{
		dialect: o.dialect,
		cache:   lrucache.New[string, rendering](o.cacheSize),
		logger:  o.logger,
	}
}

// render returns the statement text in the renderer's dialect together with
// the placeholder names in order of appearance and their bound values.
func (r *renderer) render(s *stmt.Statement) (string, []string, []any, error) {
	// Without bindings the text is passed through untouched, so it must not
	// share a cache slot with a bound execution of the same text.
	if s.NumInputs() == 0 {
		return s.Text(), nil, nil, nil
	}

	key := r.dialect.String() + "|" + s.Name() + "|" + s.Text()
	if cached, ok := r.cache.Get(key); ok {
		args, err := s.Args(cached.names)
		if err != nil {
			return "", nil, nil, err
		}
		return cached.sql, cached.names, args, nil
	}

	bound, err := stmt.Bind(s, r.dialect)
	if err != nil {
		return "", nil, nil, err
	}
	if r.cache.Put(key, rendering{sql: bound.SQL, names: bound.Names}) {
		r.logger.Debug("statement cache eviction", zap.String("statement", s.Name()))
	}

	return bound.SQL, bound.Names, bound.Args, nil
}

// wantsRows reports whether the statement is executed as a query.
func wantsRows(s *stmt.Statement) bool {
	return s.Classify() == stmt.Read || len(s.Outputs()) > 0
}

// columnNames applies output bindings to the driver's column list.
func columnNames(s *stmt.Statement, driverColumns []string) ([]string, error) {
	outputs := s.Outputs()
	if len(outputs) == 0 {
		return driverColumns, nil
	}
	if len(outputs) != len(driverColumns) {
		return nil, fmt.Errorf("%w: %d bound, %d returned", ErrOutputMismatch, len(outputs), len(driverColumns))
	}
	names := make([]string, 0, len(outputs))
	for _, out := range outputs {
		names = append(names, out.Name)
	}
	return names, nil
}
