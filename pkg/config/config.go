// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level configuration, assembled by koanf from
// defaults, a config file, and environment variables.
type Config struct {
	App       AppConfig       `koanf:"app"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Queue     QueueConfig     `koanf:"queue"`
	Worker    WorkerConfig    `koanf:"worker"`
	Sink      SinkConfig      `koanf:"sink"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Audit     AuditConfig     `koanf:"audit"`
	Syslog    SyslogConfig    `koanf:"syslog"`
	TLS       TLSConfig       `koanf:"tls"`
	Auth      AuthConfig      `koanf:"auth"`
	Admission AdmissionConfig `koanf:"admission"`
}

// AppConfig holds service identity and environment metadata.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// TLSConfig configures mTLS, shared by every network listener.
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	CAFile   string `koanf:"ca_file"`
}

// HTTPConfig configures the receiver's HTTP/HTTP3 listener.
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	EnableHTTP3     bool          `koanf:"enable_http3"`
	CORS            CORSConfig    `koanf:"cors"`
}

// CORSConfig configures cross-origin access to the ingest endpoints.
type CORSConfig struct {
	Enabled          bool     `koanf:"enabled"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`   // log file path, when Output is "file"
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // number of rotated files to keep
	MaxAge     int    `koanf:"max_age"`     // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// QueueConfig configures the Redis Streams broker's address and topology.
type QueueConfig struct {
	URL                 string        `koanf:"url"`
	LogStream           string        `koanf:"log_stream"`
	MetricStream        string        `koanf:"metric_stream"`
	LogGroup            string        `koanf:"log_group"`
	MetricGroup         string        `koanf:"metric_group"`
	StreamMaxLen        int64         `koanf:"stream_maxlen"`
	ReadBlock           time.Duration `koanf:"read_block"`
	ReclaimIdle         time.Duration `koanf:"reclaim_idle"`
	ReclaimInterval     time.Duration `koanf:"reclaim_interval"`
	DialTimeout         time.Duration `koanf:"dial_timeout"`
}

// WorkerConfig configures batch dispatch for the log and metric workers (C8/C9).
type WorkerConfig struct {
	BatchSize     int           `koanf:"batch_size"`
	BatchMaxAge   time.Duration `koanf:"batch_max_age"`
	Concurrency   int           `koanf:"concurrency"`
}

// SinkConfig configures the outbound sink clients (log index, pushgateway).
type SinkConfig struct {
	LogURL       string        `koanf:"log_url"`
	MetricURL    string        `koanf:"metric_url"`
	Timeout      time.Duration `koanf:"timeout"`
	RetryMax     int           `koanf:"retry_max"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// ServiceEndpoint configures a connection to an external HTTP endpoint.
type ServiceEndpoint struct {
	URL             string        `koanf:"url"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxRetries      int           `koanf:"max_retries"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"`
}

// DatabaseConfig configures the source catalogue's PostgreSQL connection (A6).
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"` // "postgres"
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN builds the driver connection string.
func (d DatabaseConfig) DSN() string {
	switch strings.ToLower(d.Driver) {
	case "postgres", "postgresql":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
		)
	default:
		return ""
	}
}

// CacheConfig configures the catalogue's read-through cache (A6).
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // "redis" or "memory"
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // memory backend only
}

// Address builds the Redis address from Host and Port.
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimitConfig configures the receiver's two rate-limit buckets (C3): a
// per-(source, tier) bucket and a per-client-address bucket.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Strategy        string        `koanf:"strategy"`
	Backend         string        `koanf:"backend"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
	Tiers           TierLimits    `koanf:"tiers"`
	ClientPerMinute int           `koanf:"client_per_minute"`
}

// TierLimits - per-tier rate limits. RATE_TIER_ENTERPRISE=unlimited is
// represented as a tier value <= 0, which pkg/ratelimit maps to a very
// large ceiling.
type TierLimits struct {
	Community    int `koanf:"community"`
	Professional int `koanf:"professional"`
	Enterprise   int `koanf:"enterprise"`
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Backend         string        `koanf:"backend"`
	FilePath        string        `koanf:"file_path"`
	BufferSize      int           `koanf:"buffer_size"`
	FlushPeriod     time.Duration `koanf:"flush_period"`
	ExcludeMethods  []string      `koanf:"exclude_methods"`
}

// SyslogConfig configures the UDP syslog listeners (C6).
type SyslogConfig struct {
	Enabled       bool   `koanf:"enabled"`
	BindHost      string `koanf:"bind_host"`
	PortRangeLow  int    `koanf:"port_range_low"`
	PortRangeHigh int    `koanf:"port_range_high"`
}

// AuthConfig configures bearer token issuance and verification (C2).
type AuthConfig struct {
	SecretKey   string        `koanf:"secret_key"`
	TokenExpiry time.Duration `koanf:"token_expiry"`
	Issuer      string        `koanf:"issuer"`
}

// AdmissionConfig configures the ingress filter's allow-list (C1).
type AdmissionConfig struct {
	Enabled      bool     `koanf:"enabled"`
	Passthrough  bool     `koanf:"passthrough"`
	AllowedCIDRs []string `koanf:"allowed_cidrs"`
	AllowedPorts []int    `koanf:"allowed_ports"`
}

// Validate checks required fields and value ranges, collecting every
// violation before returning a single combined error.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Queue.URL == "" {
		errs = append(errs, "queue.url is required")
	}
	if c.Queue.LogStream == "" {
		errs = append(errs, "queue.log_stream is required")
	}
	if c.Queue.MetricStream == "" {
		errs = append(errs, "queue.metric_stream is required")
	}
	if c.Queue.StreamMaxLen <= 0 {
		errs = append(errs, "queue.stream_maxlen must be positive")
	}

	if c.Worker.BatchSize <= 0 {
		errs = append(errs, "worker.batch_size must be positive")
	}

	if c.Sink.LogURL == "" {
		errs = append(errs, "sink.log_url is required")
	}
	if c.Sink.MetricURL == "" {
		errs = append(errs, "sink.metric_url is required")
	}

	if c.Syslog.Enabled && c.Syslog.PortRangeLow > c.Syslog.PortRangeHigh {
		errs = append(errs, "syslog.port_range_low must be <= syslog.port_range_high")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether App.Environment is a development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether App.Environment is a production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
