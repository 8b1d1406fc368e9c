package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RichardKnop/braze/internal/database"
	"github.com/RichardKnop/braze/internal/stmt"
	"github.com/RichardKnop/braze/internal/transport"
)

const DefaultPollInterval = 500 * time.Millisecond

var errNoDatabase = errors.New("no database configured")

// Server answers requests from one client at a time over a transport.Server.
type Server struct {
	transport    *transport.Server
	database     database.Conn
	dialect      stmt.Dialect
	pollInterval time.Duration
	metrics      *Metrics
	logger       *zap.Logger
}

type ServerOption func(*Server)

// WithDatabase enables exec requests. Rewrite requests without a dialect
// then default to the database's dialect.
func WithDatabase(conn database.Conn) ServerOption {
	return func(s *Server) {
		s.database = conn
		s.dialect = conn.Dialect()
	}
}

func WithPollInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pollInterval = interval
	}
}

func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer serves over t, which must already be open.
func NewServer(t *transport.Server, opts ...ServerOption) *Server {
	s := &Server{
		transport:    t,
		dialect:      stmt.Dollar,
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve accepts clients until ctx is done. A client is served until it
// disconnects, then the next one is accepted. Cancelling ctx disconnects the
// current client.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		if err := s.transport.CloseAccepted(); err != nil {
			s.logger.Warn("error disconnecting client", zap.Error(err))
		}
	})
	defer stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		ok, err := s.transport.WaitForConnection(s.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for connection: %w", err)
		}
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return s.transport.CloseAccepted()
		}

		s.serveSession(ctx)
	}
}

func (s *Server) serveSession(ctx context.Context) {
	peer := s.transport.ClientAddress()
	logger := s.logger.With(zap.String("peer", peer))

	s.metrics.sessionStarted()
	defer s.metrics.sessionEnded()

	logger.Debug("new session")
	defer func() {
		if err := s.transport.CloseAccepted(); err != nil {
			logger.Warn("error closing session", zap.Error(err))
		}
		logger.Debug("session closed")
	}()

	for {
		var req Request
		err := ReadFrame(s.transport, &req)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrConnectionBroken):
			return
		case errors.Is(err, ErrDecode):
			// The frame was consumed whole, so the session can go on.
			logger.Debug("invalid request", zap.Error(err))
			if err := WriteFrame(s.transport, Response{Error: fmt.Sprintf("Invalid request: %v", err)}); err != nil {
				logger.Debug("error sending response", zap.Error(err))
				return
			}
			continue
		default:
			logger.Error("error reading request", zap.Error(err))
			return
		}

		resp := s.handle(ctx, req)
		if err := WriteFrame(s.transport, resp); err != nil {
			if !errors.Is(err, transport.ErrConnectionBroken) {
				logger.Error("error sending response", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	start := time.Now()

	resp, err := s.dispatch(ctx, req)
	if err != nil {
		resp = Response{Error: err.Error()}
	} else {
		resp.Success = true
	}
	resp.ID = req.ID

	s.metrics.observe(req.Type, resp.Success, time.Since(start))
	s.logger.Debug("handled request",
		zap.String("id", req.ID.String()),
		zap.String("type", string(req.Type)),
		zap.Bool("success", resp.Success),
	)

	return resp
}

func (s *Server) dispatch(ctx context.Context, req Request) (Response, error) {
	switch req.Type {
	case TypePing:
		return Response{Message: "pong"}, nil
	case TypePlaceholders:
		names, err := stmt.Placeholders(req.SQL)
		if err != nil {
			return Response{}, err
		}
		return Response{Names: names}, nil
	case TypeClassify, TypeRewrite, TypeExec:
	default:
		return Response{}, fmt.Errorf("unknown request type: %q", req.Type)
	}

	aStatement, err := req.Statement()
	if err != nil {
		return Response{}, err
	}

	switch req.Type {
	case TypeClassify:
		return Response{Kind: aStatement.Classify().String()}, nil
	case TypeRewrite:
		return s.rewrite(req, aStatement)
	default:
		return s.exec(ctx, aStatement)
	}
}

func (s *Server) rewrite(req Request, aStatement *stmt.Statement) (Response, error) {
	dialect := s.dialect
	if req.Dialect != "" {
		var err error
		dialect, err = stmt.ParseDialect(req.Dialect)
		if err != nil {
			return Response{}, err
		}
	}

	bound, err := stmt.Bind(aStatement, dialect)
	if err != nil {
		return Response{}, err
	}

	return Response{
		Kind:  aStatement.Classify().String(),
		SQL:   bound.SQL,
		Names: bound.Names,
		Args:  bound.Args,
	}, nil
}

func (s *Server) exec(ctx context.Context, aStatement *stmt.Statement) (Response, error) {
	if s.database == nil {
		return Response{}, errNoDatabase
	}

	result, err := s.database.Execute(ctx, aStatement)
	if err != nil {
		return Response{}, err
	}

	return Response{
		Kind:         result.Kind.String(),
		Columns:      result.Columns,
		ColumnTypes:  encodeRows(result.Columns, result.Rows),
		Rows:         result.Rows,
		RowsAffected: result.RowsAffected,
	}, nil
}
