package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RichardKnop/braze/internal/database"
	"github.com/RichardKnop/braze/internal/stmt"
	"github.com/RichardKnop/braze/internal/transport"
)

const (
	defaultClientRetries = 3
	defaultRetryInterval = 100 * time.Millisecond
	maxRetryInterval     = 2 * time.Second
)

var (
	// ErrRemote is a request the server answered with an error.
	ErrRemote           = errors.New("server error")
	ErrResponseMismatch = errors.New("response does not match request")
)

// Client talks to a protocol Server. A lost connection is re-established
// and the request resent, up to the configured number of retries. Requests
// that change data may therefore run twice if the connection drops after the
// server received them. Client is safe for concurrent use, requests are
// serialized.
type Client struct {
	addr          string
	timeout       time.Duration
	retries       int
	retryInterval time.Duration
	logger        *zap.Logger

	mu   sync.Mutex
	conn *transport.Conn
}

type ClientOption func(*Client)

// WithClientTimeout bounds dialing and every read and write.
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithRetries sets how many times a request is retried after a broken
// connection. Zero disables retrying.
func WithRetries(retries int) ClientOption {
	return func(c *Client) {
		c.retries = retries
	}
}

// WithRetryInterval sets the first backoff interval.
func WithRetryInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.retryInterval = interval
	}
}

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient connects to addr.
func NewClient(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		addr:          addr,
		retries:       defaultClientRetries,
		retryInterval: defaultRetryInterval,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := transport.Dial(ctx, addr, c.timeout)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	return c, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Send delivers req and waits for its response. A request without an ID is
// given a new one. A response with Success false is not an error here.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = maxRetryInterval

	return backoff.Retry(ctx, func() (Response, error) {
		resp, err := c.roundTrip(ctx, req)
		if err == nil {
			return resp, nil
		}
		if c.isRetryable(err) {
			c.logger.Debug("request failed, reconnecting",
				zap.String("addr", c.addr),
				zap.String("id", req.ID.String()),
				zap.Error(err),
			)
			return Response{}, err
		}
		return Response{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.retries+1)))
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	if c.conn == nil {
		conn, err := transport.Dial(ctx, c.addr, c.timeout)
		if err != nil {
			return Response{}, err
		}
		c.conn = conn
	}

	if err := WriteFrame(c.conn, req); err != nil {
		c.dropConn()
		return Response{}, err
	}

	var resp Response
	if err := ReadFrame(c.conn, &resp); err != nil {
		if !errors.Is(err, ErrDecode) {
			c.dropConn()
		}
		return Response{}, err
	}
	if resp.ID != req.ID {
		c.dropConn()
		return Response{}, fmt.Errorf("%w: sent %s, got %s", ErrResponseMismatch, req.ID, resp.ID)
	}

	return resp, nil
}

func (c *Client) dropConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("error closing connection", zap.Error(err))
	}
	c.conn = nil
}

// isRetryable is true for broken connections and failed dials, both of which
// leave the client without a connection.
func (c *Client) isRetryable(err error) bool {
	if errors.Is(err, transport.ErrConnectionBroken) {
		return true
	}
	var tErr *transport.Error
	return c.conn == nil && errors.As(err, &tErr)
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, Request{Type: TypePing})
	return err
}

// Classify asks the server for the kind of a statement text.
func (c *Client) Classify(ctx context.Context, sql string) (stmt.Kind, error) {
	resp, err := c.call(ctx, Request{Type: TypeClassify, SQL: sql})
	if err != nil {
		return stmt.Unknown, err
	}
	return stmt.ParseKind(resp.Kind)
}

// Placeholders lists the placeholder names in sql as the server sees them.
func (c *Client) Placeholders(ctx context.Context, sql string) ([]string, error) {
	resp, err := c.call(ctx, Request{Type: TypePlaceholders, SQL: sql})
	if err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// Rewrite has the server render s in dialect d. Argument values come back
// JSON decoded, so numbers are json.Number values.
func (c *Client) Rewrite(ctx context.Context, s *stmt.Statement, d stmt.Dialect) (stmt.Bound, error) {
	req, err := NewRequest(TypeRewrite, s)
	if err != nil {
		return stmt.Bound{}, err
	}
	req.Dialect = d.String()

	resp, err := c.call(ctx, req)
	if err != nil {
		return stmt.Bound{}, err
	}
	return stmt.Bound{
		SQL:   resp.SQL,
		Names: resp.Names,
		Args:  resp.Args,
	}, nil
}

// Exec has the server execute s against its database. Binary columns come
// back as []byte, numbers as json.Number.
func (c *Client) Exec(ctx context.Context, s *stmt.Statement) (*database.Result, error) {
	req, err := NewRequest(TypeExec, s)
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}

	kind, err := stmt.ParseKind(resp.Kind)
	if err != nil {
		return nil, err
	}
	if err := decodeRows(resp.ColumnTypes, resp.Rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &database.Result{
		Kind:         kind,
		Columns:      resp.Columns,
		Rows:         resp.Rows,
		RowsAffected: resp.RowsAffected,
	}, nil
}
