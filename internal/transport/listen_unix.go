//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package transport

import (
	"errors"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

type family struct {
	name     string
	domain   int
	sockaddr func(port int) unix.Sockaddr
}

var families = []family{
	{
		name:     "ipv4",
		domain:   unix.AF_INET,
		sockaddr: func(port int) unix.Sockaddr { return &unix.SockaddrInet4{Port: port} },
	},
	{
		name:     "ipv6",
		domain:   unix.AF_INET6,
		sockaddr: func(port int) unix.Sockaddr { return &unix.SockaddrInet6{Port: port} },
	},
}

// listen builds the listening socket by hand so that every option is set
// before listen(2) and the backlog is honoured, then hands the descriptor to
// the Go runtime. From then on the runtime poller owns it and timeouts are
// enforced with deadlines.
func listen(port, backlog int, multiSocket bool, timeout time.Duration) (net.Listener, string, error) {
	for _, f := range families {
		fd, err := unix.Socket(f.domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
		if err != nil {
			if errors.Is(err, unix.EAFNOSUPPORT) || errors.Is(err, unix.EPROTONOSUPPORT) {
				continue
			}
			return nil, "", wrapError("socket", err)
		}
		unix.CloseOnExec(fd)

		if err := prepare(fd, f.sockaddr(port), backlog, multiSocket, timeout); err != nil {
			unix.Close(fd)
			return nil, "", err
		}

		file := os.NewFile(uintptr(fd), "braze-"+f.name)
		listener, err := net.FileListener(file)
		file.Close()
		if err != nil {
			return nil, "", wrapError("listen", err)
		}
		return listener, f.name, nil
	}

	return nil, "", ErrNoAddressFamily
}

func prepare(fd int, addr unix.Sockaddr, backlog int, multiSocket bool, timeout time.Duration) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return wrapError("setsockopt TCP_NODELAY", err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		return wrapError("set blocking", err)
	}
	if timeout > 0 {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return wrapError("setsockopt SO_RCVTIMEO", err)
		}
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
			return wrapError("setsockopt SO_SNDTIMEO", err)
		}
	}
	if multiSocket {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return wrapError("setsockopt SO_REUSEADDR", err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return wrapError("setsockopt SO_REUSEPORT", err)
		}
	}
	if err := unix.Bind(fd, addr); err != nil {
		return wrapError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return wrapError("listen", err)
	}
	return nil
}
