package catalogue

import (
	"context"
	"errors"
	"testing"
	"time"

	"ingestpipe/pkg/cache"
	"ingestpipe/pkg/domain"
)

type stubResolver struct {
	calls  int
	source *domain.Source
	err    error
}

func (s *stubResolver) ByAPIKey(ctx context.Context, apiKey string) (*domain.Source, error) {
	s.calls++
	return s.source, s.err
}
func (s *stubResolver) ByBearerSubject(ctx context.Context, subject string) (*domain.Source, error) {
	s.calls++
	return s.source, s.err
}
func (s *stubResolver) ByMTLSSubject(ctx context.Context, subject string) (*domain.Source, error) {
	s.calls++
	return s.source, s.err
}
func (s *stubResolver) ByUDPPort(ctx context.Context, port int) (*domain.Source, error) {
	s.calls++
	return s.source, s.err
}

func TestCachedResolver_CachesOnFirstLookup(t *testing.T) {
	inner := &stubResolver{source: &domain.Source{ID: "src-1", Name: "n", Enabled: true}}
	c := cache.NewMemoryCache(cache.DefaultOptions())
	resolver := NewCachedResolver(inner, c, time.Minute)
	ctx := context.Background()

	first, err := resolver.ByAPIKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != "src-1" {
		t.Fatalf("expected src-1, got %s", first.ID)
	}

	second, err := resolver.ByAPIKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != "src-1" {
		t.Fatalf("expected src-1 from cache, got %s", second.ID)
	}
	if inner.calls != 1 {
		t.Errorf("expected inner resolver called once, got %d", inner.calls)
	}
}

func TestCachedResolver_PropagatesErrors(t *testing.T) {
	inner := &stubResolver{err: errors.New("not found")}
	c := cache.NewMemoryCache(cache.DefaultOptions())
	resolver := NewCachedResolver(inner, c, time.Minute)

	_, err := resolver.ByAPIKey(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if inner.calls != 1 {
		t.Errorf("expected inner resolver called once, got %d", inner.calls)
	}
}

func TestCachedResolver_Invalidate(t *testing.T) {
	source := &domain.Source{ID: "src-1", APIKeys: []string{"key-1"}, UDPPort: 10001}
	inner := &stubResolver{source: source}
	c := cache.NewMemoryCache(cache.DefaultOptions())
	resolver := NewCachedResolver(inner, c, time.Minute)
	ctx := context.Background()

	resolver.ByAPIKey(ctx, "key-1")
	resolver.ByUDPPort(ctx, 10001)
	if inner.calls != 2 {
		t.Fatalf("expected 2 loads before invalidate, got %d", inner.calls)
	}

	if err := resolver.Invalidate(ctx, source); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	resolver.ByAPIKey(ctx, "key-1")
	resolver.ByUDPPort(ctx, 10001)
	if inner.calls != 4 {
		t.Errorf("expected cache misses after invalidate, got %d calls", inner.calls)
	}
}

func TestDefaultTTL_UsedWhenNonPositive(t *testing.T) {
	c := cache.NewMemoryCache(cache.DefaultOptions())
	resolver := NewCachedResolver(&stubResolver{source: &domain.Source{ID: "x"}}, c, 0)
	if resolver.ttl != DefaultTTL {
		t.Errorf("expected DefaultTTL fallback, got %v", resolver.ttl)
	}
}
