// pkg/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "INGESTPIPE_"
	configEnvVar = "CONFIG_PATH"
)

// Loader assembles a Config from defaults, an optional file, and
// environment variables, in that priority order.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader builds a Loader with the default search paths and env prefix,
// overridable via opts.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/ingestpipe/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption customizes a Loader built by NewLoader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the config file search paths.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load assembles the Config in priority order:
// 1. Defaults (lowest)
// 2. Config file (yaml)
// 3. Environment variables (highest)
func (l *Loader) Load() (*Config, error) {
	// 1. defaults
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. config file
	if err := l.loadConfigFile(); err != nil {
		// the file is optional; just warn and keep going
		fmt.Printf("Warning: %v\n", err)
	}

	// 3. environment variables override the file
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	// 4. unmarshal into the typed struct
	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 5. validate
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults seeds every koanf key with its default value.
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "ingestpipe",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		// HTTP
		"http.port":                   8080,
		"http.read_timeout":           30 * time.Second,
		"http.write_timeout":          30 * time.Second,
		"http.shutdown_timeout":       10 * time.Second,
		"http.enable_http3":           true,
		"http.cors.enabled":           true,
		"http.cors.allowed_origins":   []string{"*"},
		"http.cors.allowed_methods":   []string{"GET", "POST", "OPTIONS"},
		"http.cors.allowed_headers":   []string{"*"},
		"http.cors.allow_credentials": false,
		"http.cors.max_age":           86400,

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "ingestpipe",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "ingestpipe",
		"tracing.sample_rate":  0.1,

		// Queue (C7 - Redis Streams)
		"queue.url":              "redis://localhost:6379/0",
		"queue.log_stream":       "logs:raw",
		"queue.metric_stream":    "metrics:raw",
		"queue.log_group":        "log-workers",
		"queue.metric_group":     "metric-workers",
		"queue.stream_maxlen":    1000000,
		"queue.read_block":       5 * time.Second,
		"queue.reclaim_idle":     30 * time.Second,
		"queue.reclaim_interval": 15 * time.Second,
		"queue.dial_timeout":     5 * time.Second,

		// Worker (C8/C9)
		"worker.batch_size":    100,
		"worker.batch_max_age": 2 * time.Second,
		"worker.concurrency":   4,

		// Sinks
		"sink.log_url":       "http://localhost:9200/_bulk",
		"sink.metric_url":    "http://localhost:9091",
		"sink.timeout":       5 * time.Second,
		"sink.retry_max":     3,
		"sink.retry_backoff": 200 * time.Millisecond,

		// Database (catalogue, A6)
		"database.driver":             "postgres",
		"database.host":               "localhost",
		"database.port":               5432,
		"database.database":           "ingestpipe",
		"database.username":           "postgres",
		"database.password":           "",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.auto_migrate":       true,

		// Cache (catalogue read-through cache, A6)
		"cache.enabled":     true,
		"cache.driver":      "memory",
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.db":          0,
		"cache.default_ttl": 60 * time.Second,
		"cache.max_entries": 50000,

		// Rate limit (C3)
		"rate_limit.enabled":              true,
		"rate_limit.strategy":             "sliding_window",
		"rate_limit.backend":              "memory",
		"rate_limit.cleanup_interval":     5 * time.Minute,
		"rate_limit.tiers.community":      100,
		"rate_limit.tiers.professional":   1000,
		"rate_limit.tiers.enterprise":     0, // 0 == unlimited
		"rate_limit.client_per_minute":    300,

		// Audit
		"audit.enabled":      true,
		"audit.backend":      "stdout",
		"audit.buffer_size":  1000,
		"audit.flush_period": 5 * time.Second,

		// Syslog (C6)
		"syslog.enabled":          true,
		"syslog.bind_host":        "0.0.0.0",
		"syslog.port_range_low":   10000,
		"syslog.port_range_high":  11000,

		// TLS
		"tls.enabled": false,

		// Auth (C2 - bearer token issuance/validation)
		"auth.secret_key":   "",
		"auth.token_expiry": 24 * time.Hour,
		"auth.issuer":       "ingestpipe",

		// Admission (C1 - ingress allow-list)
		"admission.enabled":       true,
		"admission.passthrough":   false,
		"admission.allowed_cidrs": []string{"0.0.0.0/0"},
		"admission.allowed_ports": []int{8080, 8443},
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile loads the first config file it finds: CONFIG_PATH if
// set, otherwise the first existing path in l.configPaths.
func (l *Loader) loadConfigFile() error {
	// CONFIG_PATH takes priority over the search paths
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	// fall back to the configured search paths
	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv loads environment variables, translating e.g.
// INGESTPIPE_QUEUE_URL into the koanf key queue.url.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(
				strings.TrimPrefix(s, l.envPrefix),
			),
			"_", ".",
		)
	}), nil)
}

// MustLoad is Load, panicking on error — for service main()s that treat
// a misconfigured process as fatal at startup.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load builds a Loader with default options and loads it.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// LoadWithServiceDefaults loads the shared Config, then applies a
// per-service name and default HTTP port when they weren't overridden.
func LoadWithServiceDefaults(serviceName string, defaultPort int) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	// only override the port if it's still the shared default
	if cfg.HTTP.Port == 8080 && defaultPort != 0 {
		cfg.HTTP.Port = defaultPort
	}

	// only override the name if it's still the shared default
	if cfg.App.Name == "ingestpipe" {
		cfg.App.Name = serviceName
	}

	return cfg, nil
}
