package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ingestpipe/pkg/config"
	"ingestpipe/pkg/domain"
)

// SourceKeyExtractor builds a limiter key scoped to one source, so a noisy
// source never exhausts another source's bucket.
func SourceKeyExtractor(_ context.Context, sourceID string, _ map[string]string) string {
	return fmt.Sprintf("source:%s", sourceID)
}

// ClientKeyExtractor builds a limiter key scoped to one caller address, the
// second bucket spec.md §4.3 calls out for global abuse protection — it
// catches a misbehaving client regardless of which source credential it
// presents.
func ClientKeyExtractor(_ context.Context, clientAddr string, _ map[string]string) string {
	return fmt.Sprintf("client:%s", clientAddr)
}

// NewClientLimiter builds the single global per-client-address Limiter from
// RateLimitConfig.ClientPerMinute. Unlike the tiered source limiter, there
// is only one bucket shape here: every client address shares the same
// budget regardless of which source it authenticates as.
func NewClientLimiter(rl config.RateLimitConfig) (Limiter, error) {
	requests := rl.ClientPerMinute
	if requests <= 0 {
		requests = 300
	}
	cfg := &Config{
		Strategy:        rl.Strategy,
		Backend:         rl.Backend,
		CleanupInterval: rl.CleanupInterval,
		RedisAddr:       rl.RedisAddr,
		Window:          time.Minute,
		Requests:        requests,
		BurstSize:       requests / 10,
	}
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	return New(cfg)
}

// TierRegistry resolves the Limiter Config that applies to a source's tier,
// built once from RateLimitConfig.Tiers (spec.md §4.3's community /
// professional / enterprise buckets, expressed as requests per minute).
type TierRegistry struct {
	methods *RateLimitedMethods
}

// NewTierRegistry builds per-tier Config entries from a TierLimits block.
func NewTierRegistry(rl config.RateLimitConfig) *TierRegistry {
	base := &Config{
		Strategy:        rl.Strategy,
		Backend:         rl.Backend,
		CleanupInterval: rl.CleanupInterval,
		RedisAddr:       rl.RedisAddr,
		Window:          time.Minute,
	}

	reg := NewRateLimitedMethods(withRequests(base, rl.Tiers.Community))
	reg.Set(domain.TierCommunity.String(), withRequests(base, rl.Tiers.Community))
	reg.Set(domain.TierProfessional.String(), withRequests(base, rl.Tiers.Professional))
	reg.Set(domain.TierEnterprise.String(), withRequests(base, rl.Tiers.Enterprise))

	return &TierRegistry{methods: reg}
}

// withRequests clones base with a tier's request budget. requests <= 0
// (RATE_TIER_ENTERPRISE=unlimited) maps to a very large ceiling rather than
// zero, since a zero-request bucket would reject everything.
func withRequests(base *Config, requests int) *Config {
	cfg := *base
	if requests <= 0 {
		requests = 1_000_000
	}
	cfg.Requests = requests
	cfg.BurstSize = requests / 10
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	return &cfg
}

// ConfigForTier returns the Limiter Config for a given tier, falling back
// to the community bucket for unrecognised tiers.
func (r *TierRegistry) ConfigForTier(tier domain.Tier) *Config {
	return r.methods.Get(tier.String())
}

// TieredLimiter lazily builds one Limiter per tier on first use, so a
// receiver can rate-limit a source under its catalogue-assigned tier's
// bucket without standing up every tier's backend upfront.
type TieredLimiter struct {
	registry *TierRegistry

	mu       sync.Mutex
	limiters map[domain.Tier]Limiter
}

// NewTieredLimiter builds a TieredLimiter backed by registry.
func NewTieredLimiter(registry *TierRegistry) *TieredLimiter {
	return &TieredLimiter{registry: registry, limiters: make(map[domain.Tier]Limiter)}
}

// Allow reports whether sourceID (rate-limited under tier's bucket) may
// proceed.
func (t *TieredLimiter) Allow(ctx context.Context, tier domain.Tier, sourceID string) (bool, error) {
	limiter, err := t.limiterFor(tier)
	if err != nil {
		return false, err
	}
	return limiter.Allow(ctx, SourceKeyExtractor(ctx, sourceID, nil))
}

// Info returns the current limit state for sourceID under tier's bucket.
func (t *TieredLimiter) Info(ctx context.Context, tier domain.Tier, sourceID string) (*LimitInfo, error) {
	limiter, err := t.limiterFor(tier)
	if err != nil {
		return nil, err
	}
	return limiter.GetInfo(ctx, SourceKeyExtractor(ctx, sourceID, nil))
}

func (t *TieredLimiter) limiterFor(tier domain.Tier) (Limiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.limiters[tier]; ok {
		return l, nil
	}
	limiter, err := New(t.registry.ConfigForTier(tier))
	if err != nil {
		return nil, err
	}
	t.limiters[tier] = limiter
	return limiter, nil
}

// Close releases every tier's underlying limiter.
func (t *TieredLimiter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, l := range t.limiters {
		if err := l.Close(); err != nil {
			return err
		}
	}
	return nil
}
