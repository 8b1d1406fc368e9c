//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// listen falls back to the standard library. The backlog and the reuse
// options are left to the platform defaults here.
func listen(port, backlog int, multiSocket bool, timeout time.Duration) (net.Listener, string, error) {
	lc := net.ListenConfig{}

	for _, f := range []struct{ name, network, addr string }{
		{"ipv4", "tcp4", fmt.Sprintf("0.0.0.0:%d", port)},
		{"ipv6", "tcp6", fmt.Sprintf("[::]:%d", port)},
	} {
		listener, err := lc.Listen(context.Background(), f.network, f.addr)
		if err != nil {
			var addrErr *net.AddrError
			if errors.As(err, &addrErr) {
				continue
			}
			return nil, "", wrapError("listen", err)
		}
		return listener, f.name, nil
	}

	return nil, "", ErrNoAddressFamily
}
