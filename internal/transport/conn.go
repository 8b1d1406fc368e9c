package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// Conn is the client end of a transport connection. It offers the same
// exact-size primitives as Server.
type Conn struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial connects to addr. timeout bounds the dial and every read and write.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrapError("dial "+addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, wrapError("setsockopt TCP_NODELAY", err)
		}
	}

	return &Conn{
		conn:    conn,
		timeout: timeout,
	}, nil
}

func (c *Conn) SendSize(data []byte, size int) error {
	return sendSize(c.conn, c.timeout, data, size)
}

func (c *Conn) ReadSize(size int) ([]byte, error) {
	return readSize(c.conn, c.timeout, size)
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) Close() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return wrapError("close", err)
	}
	return nil
}
