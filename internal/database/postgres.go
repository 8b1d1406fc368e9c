package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/RichardKnop/braze/internal/stmt"
)

// Postgres executes statements through a pgx connection pool. It accepts the
// Dollar dialect and AtName, which is sent as pgx.NamedArgs.
type Postgres struct {
	pool     *pgxpool.Pool
	renderer *renderer
	logger   *zap.Logger
}

func NewPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	o := newOptions(stmt.Dollar, opts)
	if o.dialect != stmt.Dollar && o.dialect != stmt.AtName {
		return nil, fmt.Errorf("%w: postgres does not accept %s", ErrUnsupportedDialect, o.dialect)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Postgres{
		pool:     pool,
		renderer: newRenderer(o),
		logger:   o.logger,
	}, nil
}

func (p *Postgres) Dialect() stmt.Dialect {
	return p.renderer.dialect
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Execute(ctx context.Context, s *stmt.Statement) (*Result, error) {
	sql, names, args, err := p.renderer.render(s)
	if err != nil {
		return nil, err
	}
	driverArgs := p.driverArgs(names, args)

	p.logger.Debug("executing statement",
		zap.String("statement", s.Name()),
		zap.String("sql", sql),
		zap.Int("args", len(args)),
	)

	result := &Result{Kind: s.Classify()}

	if !wantsRows(s) {
		tag, err := p.pool.Exec(ctx, sql, driverArgs...)
		if err != nil {
			return nil, fmt.Errorf("postgres: exec %s: %w", s.Name(), err)
		}
		result.RowsAffected = tag.RowsAffected()
		return result, nil
	}

	rows, err := p.pool.Query(ctx, sql, driverArgs...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", s.Name(), err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	driverColumns := make([]string, 0, len(fields))
	for _, field := range fields {
		driverColumns = append(driverColumns, field.Name)
	}
	result.Columns, err = columnNames(s, driverColumns)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", s.Name(), err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows %s: %w", s.Name(), err)
	}
	result.RowsAffected = rows.CommandTag().RowsAffected()

	return result, nil
}

func (p *Postgres) driverArgs(names []string, args []any) []any {
	if p.renderer.dialect != stmt.AtName || len(names) == 0 {
		return args
	}
	named := make(pgx.NamedArgs, len(names))
	for i, name := range names {
		named[name] = args[i]
	}
	return []any{named}
}
