package odm

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Transport names accepted by Config.Transport.
const (
	TransportHTTP        = "http"
	TransportSQLite      = "sqlite"
	TransportRemoteWrite = "remote_write"
)

// Config describes a manager and the transport behind it. It can be loaded
// from YAML with LoadConfig or built in code with ConfigBuilder.
type Config struct {
	// Transport selects the backend: "http", "sqlite" or "remote_write".
	// Default: "http".
	Transport string `yaml:"transport"`

	// LogLevel is a logrus level name. Default: "info".
	LogLevel string `yaml:"log_level"`

	// MappingFile is an optional YAML mapping file. Classes it describes take
	// precedence over struct tags.
	MappingFile string `yaml:"mapping_file"`

	// HTTP configures the InfluxDB HTTP transport.
	HTTP HTTPConfig `yaml:"http"`

	// SQLite configures the embedded transport.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// RemoteWrite configures the Prometheus remote write transport.
	RemoteWrite RemoteWriteConfig `yaml:"remote_write"`

	// Retry configures the network transports.
	Retry RetryConfig `yaml:"retry"`

	// Registerer receives transport metrics. Nil disables metrics.
	Registerer prometheus.Registerer `yaml:"-"`

	// Logger replaces the logger Open creates. LogLevel still applies.
	Logger *logrus.Logger `yaml:"-"`

	// Types is the logical type registry. Nil uses the built-in types.
	Types *TypeRegistry `yaml:"-"`
}

// DefaultConfig returns a configuration with sensible defaults. The HTTP
// database still has to be set.
func DefaultConfig() Config {
	return Config{
		Transport: TransportHTTP,
		LogLevel:  "info",
		HTTP:      DefaultHTTPConfig(),
		SQLite:    DefaultSQLiteConfig(),
		Retry:     DefaultRetryConfig(),
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first problem that would make Open fail.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.logLevel()); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	switch c.transport() {
	case TransportHTTP:
		if c.HTTP.Database == "" {
			return errors.New("config: http.database is required")
		}
	case TransportSQLite:
		if c.SQLite.Path == "" {
			return errors.New("config: sqlite.path is required")
		}
	case TransportRemoteWrite:
		if c.RemoteWrite.URL == "" {
			return errors.New("config: remote_write.url is required")
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("config: retry.max_attempts must not be negative")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("config: retry.jitter must be in [0, 1]")
	}
	return nil
}

func (c *Config) transport() string {
	if c.Transport == "" {
		return TransportHTTP
	}
	return strings.ToLower(c.Transport)
}

func (c *Config) logLevel() string {
	if c.LogLevel == "" {
		return "info"
	}
	return c.LogLevel
}

// Open validates cfg, creates the configured transport and returns a
// manager that owns it.
func Open(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	level, _ := logrus.ParseLevel(cfg.logLevel())
	logger.SetLevel(level)

	opts := []TransportOption{
		WithTransportLogger(logger),
		WithRegisterer(cfg.Registerer),
		WithRetryConfig(cfg.Retry),
	}
	var (
		transport Transport
		err       error
	)
	switch cfg.transport() {
	case TransportHTTP:
		transport, err = NewHTTPTransport(cfg.HTTP, opts...)
	case TransportSQLite:
		transport, err = NewSQLiteTransport(cfg.SQLite, opts...)
	case TransportRemoteWrite:
		transport, err = NewRemoteWriteTransport(cfg.RemoteWrite, opts...)
	}
	if err != nil {
		return nil, err
	}

	var source Source = NewTagSource()
	if cfg.MappingFile != "" {
		ys, err := LoadYAMLSource(cfg.MappingFile)
		if err != nil {
			_ = transport.Close()
			return nil, err
		}
		source = ChainSource{ys, source}
	}

	mopts := []Option{WithSource(source), WithLogger(logger)}
	if cfg.Types != nil {
		mopts = append(mopts, WithTypeRegistry(cfg.Types))
	}
	logger.WithFields(logrus.Fields{
		"transport": cfg.transport(),
		"mapping":   cfg.MappingFile,
	}).Debug("odm manager opened")
	return NewManager(transport, mopts...), nil
}
