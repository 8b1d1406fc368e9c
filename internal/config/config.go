// Package config loads braze.yaml and parses transport address strings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultService      = "7070"
	DefaultBacklog      = 16
	DefaultRetries      = 3
	DefaultWorkers      = 1
	DefaultPollInterval = 500 * time.Millisecond
	DefaultCacheSize    = 256
	DefaultLogLevel     = "info"
)

var errInvalidConfig = errors.New("invalid config")

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Service      string   `yaml:"service"`
	Backlog      int      `yaml:"backlog"`
	MultiSocket  bool     `yaml:"multi_socket"`
	Timeout      Duration `yaml:"timeout"`
	Retries      int      `yaml:"retries"`
	Workers      int      `yaml:"workers"`
	PollInterval Duration `yaml:"poll_interval"`
	MetricsAddr  string   `yaml:"metrics_addr"`
}

type ClientConfig struct {
	Address string   `yaml:"address"`
	Timeout Duration `yaml:"timeout"`
	Retries int      `yaml:"retries"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver"` // postgres/sqlite, empty disables exec
	DSN       string `yaml:"dsn"`
	Dialect   string `yaml:"dialect"`
	CacheSize int    `yaml:"cache_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration accepts Go duration strings such as "1.5s" in YAML.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Service:      DefaultService,
			Backlog:      DefaultBacklog,
			Retries:      DefaultRetries,
			Workers:      DefaultWorkers,
			PollInterval: Duration{DefaultPollInterval},
		},
		Client: ClientConfig{
			Address: "localhost:" + DefaultService,
			Retries: DefaultRetries,
		},
		Database: DatabaseConfig{
			CacheSize: DefaultCacheSize,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Server.Service == "":
		return fmt.Errorf("%w: server.service is required", errInvalidConfig)
	case c.Server.Backlog < 0:
		return fmt.Errorf("%w: server.backlog must be non-negative, got %d", errInvalidConfig, c.Server.Backlog)
	case c.Server.Timeout.Duration < 0:
		return fmt.Errorf("%w: server.timeout must be non-negative", errInvalidConfig)
	case c.Server.Retries < 0:
		return fmt.Errorf("%w: server.retries must be non-negative, got %d", errInvalidConfig, c.Server.Retries)
	case c.Server.Workers < 1:
		return fmt.Errorf("%w: server.workers must be at least 1, got %d", errInvalidConfig, c.Server.Workers)
	case c.Server.PollInterval.Duration <= 0:
		return fmt.Errorf("%w: server.poll_interval must be positive", errInvalidConfig)
	case c.Client.Retries < 0:
		return fmt.Errorf("%w: client.retries must be non-negative, got %d", errInvalidConfig, c.Client.Retries)
	case c.Database.Driver != "" && c.Database.DSN == "":
		return fmt.Errorf("%w: database.dsn is required when database.driver is set", errInvalidConfig)
	}
	return nil
}
