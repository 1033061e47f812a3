package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ingestpipe/pkg/cache"
	"ingestpipe/pkg/domain"
)

// DefaultTTL bounds how long a resolved source stays cached before a
// disabled or re-provisioned catalogue row is observed again.
const DefaultTTL = 60 * time.Second

// cachedSource is the JSON wire shape stored under a resolver cache key.
type cachedSource struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	APIKeys         []string               `json:"api_keys,omitempty"`
	BearerSubjects  []string               `json:"bearer_subjects,omitempty"`
	MTLSSubject     string                 `json:"mtls_subject,omitempty"`
	AllowedClients  []domain.AllowedClient `json:"allowed_clients,omitempty"`
	UDPPort         int                    `json:"udp_port,omitempty"`
	Enabled         bool                   `json:"enabled"`
	Tier            int                    `json:"tier"`
	CreatedAt       time.Time              `json:"created_at"`
	LastSeenAt      time.Time              `json:"last_seen_at"`
}

func toCached(s *domain.Source) *cachedSource {
	return &cachedSource{
		ID: s.ID, Name: s.Name, APIKeys: s.APIKeys, BearerSubjects: s.BearerSubjects,
		MTLSSubject: s.MTLSSubject, AllowedClients: s.AllowedClients, UDPPort: s.UDPPort,
		Enabled: s.Enabled, Tier: int(s.Tier), CreatedAt: s.CreatedAt, LastSeenAt: s.LastSeenAt,
	}
}

func (c *cachedSource) toDomain() *domain.Source {
	return &domain.Source{
		ID: c.ID, Name: c.Name, APIKeys: c.APIKeys, BearerSubjects: c.BearerSubjects,
		MTLSSubject: c.MTLSSubject, AllowedClients: c.AllowedClients, UDPPort: c.UDPPort,
		Enabled: c.Enabled, Tier: domain.Tier(c.Tier), CreatedAt: c.CreatedAt, LastSeenAt: c.LastSeenAt,
	}
}

// CachedResolver is a read-through decorator in front of a Resolver,
// shielding the catalogue store from a lookup on every admitted record.
type CachedResolver struct {
	inner Resolver
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedResolver wraps inner with a short TTL cache. ttl <= 0 uses
// DefaultTTL.
func NewCachedResolver(inner Resolver, c cache.Cache, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedResolver{inner: inner, cache: c, ttl: ttl}
}

func (r *CachedResolver) ByAPIKey(ctx context.Context, apiKey string) (*domain.Source, error) {
	return r.resolve(ctx, cache.SourceKey("apikey:"+apiKey), func() (*domain.Source, error) {
		return r.inner.ByAPIKey(ctx, apiKey)
	})
}

func (r *CachedResolver) ByBearerSubject(ctx context.Context, subject string) (*domain.Source, error) {
	return r.resolve(ctx, cache.SourceKey("bearer:"+subject), func() (*domain.Source, error) {
		return r.inner.ByBearerSubject(ctx, subject)
	})
}

func (r *CachedResolver) ByMTLSSubject(ctx context.Context, subject string) (*domain.Source, error) {
	return r.resolve(ctx, cache.SourceKey("mtls:"+subject), func() (*domain.Source, error) {
		return r.inner.ByMTLSSubject(ctx, subject)
	})
}

func (r *CachedResolver) ByUDPPort(ctx context.Context, port int) (*domain.Source, error) {
	return r.resolve(ctx, cache.SourceByPortKey(port), func() (*domain.Source, error) {
		return r.inner.ByUDPPort(ctx, port)
	})
}

func (r *CachedResolver) resolve(ctx context.Context, key string, load func() (*domain.Source, error)) (*domain.Source, error) {
	if data, err := r.cache.Get(ctx, key); err == nil {
		var cs cachedSource
		if jsonErr := json.Unmarshal(data, &cs); jsonErr == nil {
			return cs.toDomain(), nil
		}
		_ = r.cache.Delete(ctx, key)
	}

	source, err := load()
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(toCached(source)); err == nil {
		_ = r.cache.Set(ctx, key, data, r.ttl)
	}

	return source, nil
}

// Invalidate removes any cached entries that could resolve to source's
// credentials, forcing the next lookup back to the authoritative store.
func (r *CachedResolver) Invalidate(ctx context.Context, source *domain.Source) error {
	keys := make([]string, 0, len(source.APIKeys)+len(source.BearerSubjects)+2)
	for _, k := range source.APIKeys {
		keys = append(keys, cache.SourceKey("apikey:"+k))
	}
	for _, s := range source.BearerSubjects {
		keys = append(keys, cache.SourceKey("bearer:"+s))
	}
	if source.MTLSSubject != "" {
		keys = append(keys, cache.SourceKey("mtls:"+source.MTLSSubject))
	}
	if source.UDPPort != 0 {
		keys = append(keys, cache.SourceByPortKey(source.UDPPort))
	}

	var firstErr error
	for _, key := range keys {
		if err := r.cache.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to invalidate %s: %w", key, err)
		}
	}
	return firstErr
}
