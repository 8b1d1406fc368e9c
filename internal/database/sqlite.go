package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/RichardKnop/braze/internal/stmt"
)

// SQLite executes statements through database/sql and the pure Go
// modernc.org/sqlite driver. Only the Question dialect is accepted.
type SQLite struct {
	db       *sql.DB
	renderer *renderer
	logger   *zap.Logger
}

func NewSQLite(ctx context.Context, dsn string, opts ...Option) (*SQLite, error) {
	o := newOptions(stmt.Question, opts)
	if o.dialect != stmt.Question {
		return nil, fmt.Errorf("%w: sqlite does not accept %s", ErrUnsupportedDialect, o.dialect)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection keeps in-memory databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &SQLite{
		db:       db,
		renderer: newRenderer(o),
		logger:   o.logger,
	}, nil
}

func (l *SQLite) Dialect() stmt.Dialect {
	return l.renderer.dialect
}

func (l *SQLite) Close() error {
	return l.db.Close()
}

func (l *SQLite) Execute(ctx context.Context, s *stmt.Statement) (*Result, error) {
	query, _, args, err := l.renderer.render(s)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("executing statement",
		zap.String("statement", s.Name()),
		zap.String("sql", query),
		zap.Int("args", len(args)),
	)

	result := &Result{Kind: s.Classify()}

	if !wantsRows(s) {
		res, err := l.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: exec %s: %w", s.Name(), err)
		}
		result.RowsAffected, err = res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("sqlite: rows affected %s: %w", s.Name(), err)
		}
		return result, nil
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", s.Name(), err)
	}
	defer rows.Close()

	driverColumns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns %s: %w", s.Name(), err)
	}
	result.Columns, err = columnNames(s, driverColumns)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		values := make([]any, len(driverColumns))
		dest := make([]any, len(driverColumns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", s.Name(), err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows %s: %w", s.Name(), err)
	}
	result.RowsAffected = int64(len(result.Rows))

	return result, nil
}
