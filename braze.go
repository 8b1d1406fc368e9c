// Package braze is a database/sql driver for braze servers. Queries use
// :name placeholders, arguments are bound with sql.Named or by position in
// order of each name's first appearance.
//
//	db, err := sql.Open("braze", "localhost:7070?timeout=5s")
//	rows, err := db.QueryContext(ctx, "SELECT name FROM users WHERE id = :id", sql.Named("id", 7))
package braze

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/RichardKnop/braze/internal/protocol"
	"github.com/RichardKnop/braze/internal/stmt"
)

const (
	driverName = "braze"
)

var ErrTransactionsNotSupported = errors.New("transactions are not supported")

func init() {
	sql.Register(driverName, &Driver{})
}

// Driver implements the database/sql/driver.Driver interface.
//
// A server talks to one client at a time and queues the rest, so all
// connections opened with the same name share a single protocol client.
type Driver struct {
	mu      sync.Mutex
	clients map[string]*sharedClient
}

type sharedClient struct {
	client *protocol.Client
	logger *zap.Logger
	refs   int
}

// Open returns a new connection to the server.
// The name is a connection string, see ParseConnectionString.
func (d *Driver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.clients == nil {
		d.clients = make(map[string]*sharedClient)
	}

	shared, exists := d.clients[name]
	if !exists {
		cfg, err := ParseConnectionString(name)
		if err != nil {
			return nil, err
		}

		logger, err := cfg.Logger()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}

		aClient, err := protocol.NewClient(
			context.Background(),
			cfg.Address.DialTarget(),
			protocol.WithClientTimeout(cfg.Address.Timeout),
			protocol.WithRetries(cfg.Address.Retries),
			protocol.WithClientLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}

		shared = &sharedClient{client: aClient, logger: logger}
		d.clients[name] = shared
	}
	shared.refs++

	return &Conn{
		driver: d,
		name:   name,
		client: shared.client,
		logger: shared.logger,
	}, nil
}

func (d *Driver) release(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	shared, ok := d.clients[name]
	if !ok {
		return nil
	}
	shared.refs--
	if shared.refs > 0 {
		return nil
	}
	delete(d.clients, name)
	_ = shared.logger.Sync()
	return shared.client.Close()
}

// Conn implements the database/sql/driver.Conn interface.
type Conn struct {
	driver *Driver
	name   string
	client *protocol.Client
	logger *zap.Logger
	once   sync.Once
}

func (c *Conn) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", driver.ErrBadConn, err)
	}
	return nil
}

// Close releases the connection's share of the protocol client. The last
// connection to close hangs up on the server.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.driver.release(c.name)
	})
	return err
}

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext returns a prepared statement, bound to this connection.
// Placeholders are checked here so syntax errors surface before execution.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	names, err := stmt.Placeholders(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}

	return &Stmt{
		conn:  c,
		query: query,
		names: distinct(names),
	}, nil
}

// Begin starts and returns a new transaction.
//
// Deprecated: Drivers should implement ConnBeginTx instead (or additionally).
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx always fails, every request runs in its own implicit transaction
// on the server.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return nil, ErrTransactionsNotSupported
}

// ExecContext executes a query that doesn't return rows.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	aStatement, err := c.statement(query, stmt.ChangeData, args)
	if err != nil {
		return nil, err
	}

	result, err := c.client.Exec(ctx, aStatement)
	if err != nil {
		return nil, err
	}

	return Result{rowsAffected: result.RowsAffected}, nil
}

// QueryContext executes a query that may return rows.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	aStatement, err := c.statement(query, stmt.Read, args)
	if err != nil {
		return nil, err
	}

	result, err := c.client.Exec(ctx, aStatement)
	if err != nil {
		return nil, err
	}

	return &Rows{
		columns: result.Columns,
		rows:    result.Rows,
	}, nil
}

// statement binds args to the placeholders of query. Positional arguments
// bind to the distinct placeholder names in order of first appearance.
func (c *Conn) statement(query string, kind stmt.Kind, args []driver.NamedValue) (*stmt.Statement, error) {
	aStatement := stmt.New(driverName, kind).SetText(query)
	if len(args) == 0 {
		return aStatement, nil
	}

	names, err := stmt.Placeholders(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}
	names = distinct(names)

	for _, arg := range args {
		name := arg.Name
		if name == "" {
			if arg.Ordinal < 1 || arg.Ordinal > len(names) {
				return nil, fmt.Errorf("argument %d has no matching placeholder", arg.Ordinal)
			}
			name = names[arg.Ordinal-1]
		}

		typ, err := typeOf(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", name, err)
		}
		aStatement.BindInput(name, arg.Value, typ, typ.Width())
	}

	c.logger.Debug("bound statement",
		zap.String("sql", query),
		zap.Int("args", len(args)),
	)

	return aStatement, nil
}

func distinct(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	return unique
}

// Ensure interfaces are implemented
var _ driver.Driver = (*Driver)(nil)
var _ driver.Conn = (*Conn)(nil)
var _ driver.Pinger = (*Conn)(nil)
var _ driver.ConnPrepareContext = (*Conn)(nil)
var _ driver.ConnBeginTx = (*Conn)(nil)
var _ driver.ExecerContext = (*Conn)(nil)
var _ driver.QueryerContext = (*Conn)(nil)
