package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Address holds a parsed transport address string.
type Address struct {
	Host        string        // empty for servers, which bind the wildcard address
	Service     string        // port number or service name
	Backlog     int           // listen backlog (default: 16)
	MultiSocket bool          // SO_REUSEADDR + SO_REUSEPORT (default: false)
	Timeout     time.Duration // per I/O deadline, 0 blocks forever (default: 0)
	Retries     int           // reconnect attempts for clients (default: 3)
}

func DefaultAddress() *Address {
	return &Address{
		Service: DefaultService,
		Backlog: DefaultBacklog,
		Retries: DefaultRetries,
	}
}

// ParseAddress parses a transport address with optional query parameters.
//
// Format: tcp://[host]:service?param1=value1&param2=value2
//
// The tcp:// scheme is optional. Supported parameters:
//   - backlog=N              : listen backlog
//   - multi_socket=true|false : allow several sockets on the same port
//   - timeout=duration       : per I/O timeout, e.g. 5s
//   - retries=N              : client reconnect attempts
//
// Examples:
//   - ":7070"
//   - "tcp://localhost:7070?timeout=2s&retries=5"
//   - "tcp://:postgresql?backlog=64&multi_socket=true"
func ParseAddress(s string) (*Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}
	if scheme, rest, ok := strings.Cut(s, "://"); ok {
		if scheme != "tcp" {
			return nil, fmt.Errorf("invalid address scheme: must be 'tcp', got %q", scheme)
		}
		s = rest
	}

	// Split on first '?' to separate host:service from query params
	hostPort, query, _ := strings.Cut(s, "?")

	addr := DefaultAddress()
	if strings.Contains(hostPort, ":") {
		host, service, err := net.SplitHostPort(hostPort)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		if service == "" {
			return nil, fmt.Errorf("invalid address: empty service in %q", hostPort)
		}
		addr.Host = host
		addr.Service = service
	} else {
		addr.Host = hostPort
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid address query parameters: %w", err)
	}

	if backlogStr := params.Get("backlog"); backlogStr != "" {
		backlog, err := strconv.Atoi(backlogStr)
		if err != nil {
			return nil, fmt.Errorf("invalid backlog parameter: must be an integer, got %q", backlogStr)
		}
		if backlog < 0 {
			return nil, fmt.Errorf("invalid backlog parameter: must be non-negative, got %d", backlog)
		}
		addr.Backlog = backlog
	}

	if multiStr := params.Get("multi_socket"); multiStr != "" {
		multi, err := strconv.ParseBool(multiStr)
		if err != nil {
			return nil, fmt.Errorf("invalid multi_socket parameter: must be 'true' or 'false', got %q", multiStr)
		}
		addr.MultiSocket = multi
	}

	if timeoutStr := params.Get("timeout"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout parameter: %w", err)
		}
		if timeout < 0 {
			return nil, fmt.Errorf("invalid timeout parameter: must be non-negative, got %s", timeout)
		}
		addr.Timeout = timeout
	}

	if retriesStr := params.Get("retries"); retriesStr != "" {
		retries, err := strconv.Atoi(retriesStr)
		if err != nil {
			return nil, fmt.Errorf("invalid retries parameter: must be an integer, got %q", retriesStr)
		}
		if retries < 0 {
			return nil, fmt.Errorf("invalid retries parameter: must be non-negative, got %d", retries)
		}
		addr.Retries = retries
	}

	return addr, nil
}

// DialTarget is the host:service pair clients connect to. An empty host means
// localhost.
func (a *Address) DialTarget() string {
	host := a.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, a.Service)
}
