package odm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ConfigBuilder provides a fluent API for constructing a [Config].
// It starts from [DefaultConfig], so only fields that differ from the
// defaults need to be set.
//
//	cfg, err := odm.NewConfigBuilder().
//	    WithHTTP("http://influx:8086", "telemetry").
//	    WithRetry(5, 200*time.Millisecond).
//	    Build()
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder creates a builder pre-populated with [DefaultConfig] values.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: DefaultConfig()}
}

// Transports

// WithHTTP selects the InfluxDB HTTP transport.
func (b *ConfigBuilder) WithHTTP(url, database string) *ConfigBuilder {
	b.cfg.Transport = TransportHTTP
	b.cfg.HTTP.URL = url
	b.cfg.HTTP.Database = database
	return b
}

// WithBasicAuth sets HTTP basic authentication credentials.
func (b *ConfigBuilder) WithBasicAuth(username, password string) *ConfigBuilder {
	b.cfg.HTTP.Username = username
	b.cfg.HTTP.Password = password
	return b
}

// WithGzip compresses HTTP write bodies.
func (b *ConfigBuilder) WithGzip() *ConfigBuilder {
	b.cfg.HTTP.Gzip = true
	return b
}

// WithSQLite selects the embedded SQLite transport.
func (b *ConfigBuilder) WithSQLite(path string) *ConfigBuilder {
	b.cfg.Transport = TransportSQLite
	b.cfg.SQLite.Path = path
	return b
}

// WithRemoteWrite selects the Prometheus remote write transport.
func (b *ConfigBuilder) WithRemoteWrite(url string) *ConfigBuilder {
	b.cfg.Transport = TransportRemoteWrite
	b.cfg.RemoteWrite.URL = url
	return b
}

// WithTimeout sets the request timeout of the network transports.
func (b *ConfigBuilder) WithTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.HTTP.Timeout = d
	b.cfg.RemoteWrite.Timeout = d
	return b
}

// WithRetry sets the attempt count and initial backoff of the network transports.
func (b *ConfigBuilder) WithRetry(maxAttempts int, initialBackoff time.Duration) *ConfigBuilder {
	b.cfg.Retry.MaxAttempts = maxAttempts
	b.cfg.Retry.InitialBackoff = initialBackoff
	return b
}

// Mapping

// WithMappingFile adds a YAML mapping file in front of struct tags.
func (b *ConfigBuilder) WithMappingFile(path string) *ConfigBuilder {
	b.cfg.MappingFile = path
	return b
}

// WithTypes sets the logical type registry.
func (b *ConfigBuilder) WithTypes(r *TypeRegistry) *ConfigBuilder {
	b.cfg.Types = r
	return b
}

// Observability

// WithLogLevel sets the logrus level by name.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.cfg.LogLevel = level
	return b
}

// WithLogger sets the logger used by the manager and its transport.
func (b *ConfigBuilder) WithLogger(l *logrus.Logger) *ConfigBuilder {
	b.cfg.Logger = l
	return b
}

// WithRegisterer registers transport metrics on reg.
func (b *ConfigBuilder) WithRegisterer(reg prometheus.Registerer) *ConfigBuilder {
	b.cfg.Registerer = reg
	return b
}

// Build validates the configuration and returns it.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.cfg.Validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

// MustBuild is like [ConfigBuilder.Build] but panics on validation errors.
func (b *ConfigBuilder) MustBuild() Config {
	cfg, err := b.Build()
	if err != nil {
		panic("odm: invalid config: " + err.Error())
	}
	return cfg
}
