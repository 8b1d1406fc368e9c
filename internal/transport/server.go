// Package transport is a minimal blocking TCP server that talks to one client
// at a time using exact-size reads and writes.
//
// A Server is meant to be driven by a single goroutine. The only call that is
// safe from another goroutine is Close (or CloseAccepted), which is also the
// way to cancel a blocked WaitForConnection, SendSize or ReadSize: the blocked
// call fails with ErrConnectionBroken. Anything else needs external locking.
// To serve several clients concurrently run one Server per goroutine, all
// attached to the same listener through OpenManaged.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	// NoClientAddress is what ClientAddress returns when nobody is connected.
	NoClientAddress = "No active client connection"

	defaultBacklog = 5
	minAcceptWait  = time.Millisecond
)

type Server struct {
	timeout time.Duration
	retries int
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	managed  bool
	peer     net.Conn
	peerAddr string
}

type Option func(*Server)

// WithTimeout sets the per read/write timeout. Zero blocks forever.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// WithRetries records how many times callers should retry an operation. The
// server itself never retries.
func WithRetries(retries int) Option {
	return func(s *Server) {
		s.retries = retries
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(options ...Option) *Server {
	s := &Server{
		logger: zap.NewNop(),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Server) Timeout() time.Duration {
	return s.timeout
}

func (s *Server) Retries() int {
	return s.retries
}

// Open resolves service (a port number or service name), binds the wildcard
// address of the first usable family (IPv4, then IPv6) and starts listening.
// Any socket opened before is closed first.
func (s *Server) Open(service string, backlog int, multiSocket bool) error {
	if err := s.Close(); err != nil {
		return err
	}

	port, err := net.LookupPort("tcp", service)
	if err != nil {
		return wrapError(fmt.Sprintf("resolve %q", service), err)
	}
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	listener, family, err := listen(port, backlog, multiSocket, s.timeout)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.managed = false
	s.mu.Unlock()

	s.logger.Info("listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("family", family),
		zap.Int("backlog", backlog),
		zap.Bool("multi_socket", multiSocket),
	)

	return nil
}

// OpenManaged attaches to a listener owned by someone else. Close drops the
// reference but leaves the listener open.
func (s *Server) OpenManaged(listener net.Listener) error {
	if listener == nil {
		return ErrNotOpen
	}
	if err := s.Close(); err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.managed = true
	s.mu.Unlock()

	s.logger.Debug("attached to managed listener", zap.String("addr", listener.Addr().String()))

	return nil
}

// Listener returns the listen socket, for sharing with other servers through
// OpenManaged, or nil when not open.
func (s *Server) Listener() net.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

// Addr returns the listen address or nil when not open.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WaitForConnection waits up to timeout for a client. It returns false without
// touching the current peer when nobody connects in time. Otherwise the
// previous peer is closed and replaced by the new one. Closing an owned
// listener from another goroutine ends the wait with ErrConnectionBroken.
func (s *Server) WaitForConnection(timeout time.Duration) (bool, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener == nil {
		return false, &Error{Op: "accept", Message: ErrNotOpen.Error(), Err: ErrNotOpen}
	}

	// The runtime poller wakes a blocked accept when the listener is closed,
	// so Close cancels the wait.
	conn, err := accept(listener, max(timeout, minAcceptWait))
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// Either nobody came or another worker sharing the listener won.
			return false, nil
		}
		return false, wrapError("accept", err)
	}

	// The previous peer is only dropped once there is a replacement.
	if err := s.CloseAccepted(); err != nil {
		conn.Close()
		return false, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return false, wrapError("setsockopt TCP_NODELAY", err)
		}
	}

	addr := conn.RemoteAddr().String()

	s.mu.Lock()
	s.peer = conn
	s.peerAddr = addr
	s.mu.Unlock()

	s.logger.Debug("accepted client", zap.String("peer", addr))

	return true, nil
}

func accept(listener net.Listener, wait time.Duration) (net.Conn, error) {
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	// The deadline is not reset afterwards: workers sharing a listener would
	// clear each other's deadline. Every accept sets its own.
	if dl, ok := listener.(deadliner); ok {
		if err := dl.SetDeadline(time.Now().Add(wait)); err != nil {
			return nil, err
		}
	}
	return listener.Accept()
}

// SendSize writes exactly size bytes of data to the current client.
func (s *Server) SendSize(data []byte, size int) error {
	conn, err := s.activePeer("send")
	if err != nil {
		return err
	}
	return sendSize(conn, s.timeout, data, size)
}

// ReadSize reads exactly size bytes from the current client.
func (s *Server) ReadSize(size int) ([]byte, error) {
	conn, err := s.activePeer("recv")
	if err != nil {
		return nil, err
	}
	return readSize(conn, s.timeout, size)
}

func (s *Server) activePeer(op string) (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peer == nil {
		return nil, &Error{
			Op:      op,
			Code:    syscall.ENOTCONN,
			Message: ErrNoPeer.Error(),
			Err:     ErrNoPeer,
		}
	}
	return s.peer, nil
}

// ClientAddress returns the address of the connected client.
func (s *Server) ClientAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peer == nil {
		return NoClientAddress
	}
	return s.peerAddr
}

// CloseAccepted disconnects the current client and keeps listening.
func (s *Server) CloseAccepted() error {
	s.mu.Lock()
	conn, addr := s.peer, s.peerAddr
	s.peer = nil
	s.peerAddr = ""
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.logger.Debug("closing client", zap.String("peer", addr))

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return wrapError("close peer", err)
	}
	return nil
}

// Close disconnects the client and closes the listener unless it is managed.
func (s *Server) Close() error {
	peerErr := s.CloseAccepted()

	s.mu.Lock()
	listener, managed := s.listener, s.managed
	s.listener = nil
	s.managed = false
	s.mu.Unlock()

	if listener == nil || managed {
		return peerErr
	}

	var listenErr error
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		listenErr = wrapError("close listener", err)
	}

	return errors.Join(peerErr, listenErr)
}
