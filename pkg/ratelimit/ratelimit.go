package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Sentinel errors surfaced by both backends.
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrLimiterClosed     = errors.New("limiter is closed")
)

// Limiter is satisfied by both the in-memory and Redis-backed bucket
// implementations, so the receiver's tiered and per-client buckets can be
// swapped between backends without touching call sites.
type Limiter interface {
	// Allow reports whether a single request under key may proceed.
	Allow(ctx context.Context, key string) (bool, error)

	// AllowN reports whether n requests under key may proceed at once.
	AllowN(ctx context.Context, key string, n int) (bool, error)

	// Wait blocks until key has a free slot or ctx is cancelled.
	Wait(ctx context.Context, key string) error

	// Reset clears key's bucket, used by tests and admin tooling.
	Reset(ctx context.Context, key string) error

	// GetInfo returns the current bucket state for key, used to populate
	// the X-RateLimit-* response headers.
	GetInfo(ctx context.Context, key string) (*LimitInfo, error)

	// Close releases the limiter's background resources.
	Close() error
}

// LimitInfo reports a bucket's current state for a throttled response.
type LimitInfo struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Config configures one Limiter bucket: a (source, tier) bucket, the global
// per-client-address bucket, or any other keyspace a caller defines.
type Config struct {
	// Requests is the budget per Window.
	Requests int `koanf:"requests"`

	// Window is the time window the budget applies over.
	Window time.Duration `koanf:"window"`

	// Strategy selects the MemoryLimiter algorithm: sliding_window or
	// token_bucket (any other value uses the sliding window). RedisLimiter
	// always uses a sliding window.
	Strategy string `koanf:"strategy"`

	// KeyFunc names which KeyExtractor a caller intends to use (ip, user, method).
	KeyFunc string `koanf:"key_func"`

	// Backend selects the storage: memory, redis.
	Backend string `koanf:"backend"`

	// BurstSize is the token bucket's burst allowance.
	BurstSize int `koanf:"burst_size"`

	// CleanupInterval is how often the in-memory backend sweeps idle buckets.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// Redis connection settings, used when Backend == "redis".
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

// DefaultConfig returns a reasonable in-memory sliding-window config.
func DefaultConfig() *Config {
	return &Config{
		Requests:        100,
		Window:          time.Minute,
		Strategy:        "sliding_window",
		KeyFunc:         "ip",
		Backend:         "memory",
		BurstSize:       10,
		CleanupInterval: 5 * time.Minute,
	}
}

// New builds a Limiter for the backend named in cfg.
func New(cfg *Config) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "redis":
		return NewRedisLimiter(cfg)
	case "memory", "":
		return NewMemoryLimiter(cfg), nil
	default:
		return NewMemoryLimiter(cfg), nil
	}
}

// KeyExtractor derives a bucket key from a request's identifying metadata.
type KeyExtractor func(ctx context.Context, method string, metadata map[string]string) string

// DefaultKeyExtractor extracts a key from the caller's forwarded address.
func DefaultKeyExtractor(_ context.Context, _ string, metadata map[string]string) string {
	if ip, ok := metadata["x-forwarded-for"]; ok && ip != "" {
		return ip
	}
	if ip, ok := metadata["x-real-ip"]; ok && ip != "" {
		return ip
	}
	if peer, ok := metadata[":authority"]; ok {
		return peer
	}
	return "unknown"
}

// MethodKeyExtractor extracts a key from the method name alone, useful for
// a bucket shared across every caller of one endpoint.
func MethodKeyExtractor(_ context.Context, method string, _ map[string]string) string {
	return method
}

// UserKeyExtractor extracts a key from an authenticated user/source id,
// falling back to DefaultKeyExtractor when none is present.
func UserKeyExtractor(ctx context.Context, method string, metadata map[string]string) string {
	if userID, ok := metadata["x-user-id"]; ok && userID != "" {
		return userID
	}
	return DefaultKeyExtractor(ctx, method, metadata)
}

// CompositeKeyExtractor concatenates several extractors into one key, so a
// bucket can be scoped by more than one dimension at once.
func CompositeKeyExtractor(extractors ...KeyExtractor) KeyExtractor {
	return func(ctx context.Context, method string, metadata map[string]string) string {
		var key string
		for _, ext := range extractors {
			key += ext(ctx, method, metadata) + ":"
		}
		return key
	}
}

// RateLimitedMethods holds a Config per named bucket (e.g. per catalogue
// tier), falling back to a default Config for any name it hasn't seen.
type RateLimitedMethods struct {
	mu            sync.RWMutex
	methods       map[string]*Config
	defaultConfig *Config
}

// NewRateLimitedMethods builds an empty registry backed by defaultCfg.
func NewRateLimitedMethods(defaultCfg *Config) *RateLimitedMethods {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig()
	}
	return &RateLimitedMethods{
		methods:       make(map[string]*Config),
		defaultConfig: defaultCfg,
	}
}

// Set registers cfg under name.
func (r *RateLimitedMethods) Set(method string, cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = cfg
}

// Get returns the Config registered under name, or the default.
func (r *RateLimitedMethods) Get(method string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.methods[method]; ok {
		return cfg
	}
	return r.defaultConfig
}
