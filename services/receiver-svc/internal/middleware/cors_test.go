package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ingestpipe/pkg/config"
)

func TestCORS_SetsHeadersAndPassesThrough(t *testing.T) {
	cfg := config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"X-API-Key"},
		MaxAge:         600,
	}

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(cfg)(next)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected next handler to run for a non-preflight request")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Access-Control-Max-Age = %q", got)
	}
}

func TestCORS_ShortCircuitsPreflight(t *testing.T) {
	cfg := config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run for an OPTIONS preflight request")
	})

	handler := CORS(cfg)(next)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/logs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestCORS_DisabledSkipsMiddleware(t *testing.T) {
	cfg := config.CORSConfig{Enabled: false}

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(cfg)(next)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected next handler to run when CORS is disabled")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no CORS headers when disabled")
	}
}
