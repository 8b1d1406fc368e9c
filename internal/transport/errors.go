package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrConnectionBroken means the peer went away: a read or write made no progress.
	ErrConnectionBroken = errors.New("connection broken")
	// ErrNoAddressFamily means neither an IPv4 nor an IPv6 socket could be created.
	ErrNoAddressFamily = errors.New("no address family available")
	ErrNotOpen         = errors.New("listen socket is not open")
	ErrNoPeer          = errors.New("no active client connection")
	ErrInvalidSize     = errors.New("invalid size")
)

// Error is a socket level failure. Code carries the OS error number when the
// failure came from a system call, zero otherwise.
type Error struct {
	Op      string
	Code    syscall.Errno
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (errno %d)", e.Op, e.Message, int(e.Code))
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError classifies err. Peer hang-ups become ErrConnectionBroken so callers
// can reconnect, everything else becomes an *Error.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isBroken(err) {
		return fmt.Errorf("%s: %w", op, ErrConnectionBroken)
	}

	tErr := &Error{
		Op:      op,
		Message: err.Error(),
		Err:     err,
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		tErr.Code = errno
		tErr.Message = errno.Error()
	}
	return tErr
}

func isBroken(err error) bool {
	switch {
	case errors.Is(err, ErrConnectionBroken):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		return true
	case errors.Is(err, net.ErrClosed):
		// Closed from another goroutine, which is how blocked calls get cancelled.
		return true
	}
	return false
}
