package braze

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/RichardKnop/braze/internal/config"
	"github.com/RichardKnop/braze/internal/logging"
)

// ConnectionConfig holds parsed connection string parameters
type ConnectionConfig struct {
	Address  *config.Address // Server address, timeout and retries
	LogLevel string          // Log level: debug, info, warn, error (default: warn)
}

// DefaultConnectionConfig returns default configuration
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Address:  config.DefaultAddress(),
		LogLevel: "warn",
	}
}

// ParseConnectionString parses a connection string with optional query parameters.
//
// Format: tcp://host:service?param1=value1&param2=value2
//
// Supported parameters:
//   - timeout=duration : per I/O timeout (default: none)
//   - retries=N        : reconnect attempts (default: 3)
//   - log_level=debug|info|warn|error : Set logging level (default: warn)
//
// Examples:
//   - "localhost:7070"                      : Default settings
//   - "tcp://db.internal:7070?timeout=5s"   : Fail requests after 5s of silence
//   - "localhost:7070?retries=0&log_level=debug"
func ParseConnectionString(connStr string) (*ConnectionConfig, error) {
	hostPort, query, _ := strings.Cut(connStr, "?")

	queryParams, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string query parameters: %w", err)
	}

	cfg := DefaultConnectionConfig()

	if logLevel := queryParams.Get("log_level"); logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return nil, fmt.Errorf("invalid log_level parameter: %w", err)
		}
		cfg.LogLevel = strings.ToLower(logLevel)
		queryParams.Del("log_level")
	}

	for _, serverOnly := range []string{"backlog", "multi_socket"} {
		if queryParams.Has(serverOnly) {
			return nil, fmt.Errorf("invalid connection string: %s only applies to servers", serverOnly)
		}
	}

	address := hostPort
	if len(queryParams) > 0 {
		address += "?" + queryParams.Encode()
	}
	cfg.Address, err = config.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Logger builds a logger at the configured level.
func (c *ConnectionConfig) Logger() (*zap.Logger, error) {
	return logging.New(c.LogLevel)
}
