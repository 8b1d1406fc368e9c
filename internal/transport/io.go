package transport

import (
	"fmt"
	"net"
	"time"
)

// sendSize writes exactly size bytes of data to conn. Partial writes are
// retried, a write that makes no progress means the peer is gone.
func sendSize(conn net.Conn, timeout time.Duration, data []byte, size int) error {
	if size < 0 || size > len(data) {
		return fmt.Errorf("send %d bytes from a %d byte buffer: %w", size, len(data), ErrInvalidSize)
	}

	for sent := 0; sent < size; {
		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return wrapError("send", err)
			}
		}
		n, err := conn.Write(data[sent:size])
		sent += n
		if err != nil {
			return wrapError("send", err)
		}
		if n == 0 {
			return wrapError("send", ErrConnectionBroken)
		}
	}

	return nil
}

// readSize reads exactly size bytes from conn.
func readSize(conn net.Conn, timeout time.Duration, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("read %d bytes: %w", size, ErrInvalidSize)
	}

	buf := make([]byte, size)
	for got := 0; got < size; {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return nil, wrapError("recv", err)
			}
		}
		n, err := conn.Read(buf[got:])
		got += n
		if got == size {
			break
		}
		if err != nil {
			return nil, wrapError("recv", err)
		}
		if n == 0 {
			return nil, wrapError("recv", ErrConnectionBroken)
		}
	}

	return buf, nil
}
