package middleware

import (
	"net"
	"net/http"
	"strings"

	"ingestpipe/pkg/apperror"
	"ingestpipe/pkg/audit"
	"ingestpipe/pkg/bearer"
	"ingestpipe/pkg/catalogue"
	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/metrics"
)

// Auth resolves the calling source from an mTLS client certificate, a
// bearer token, or an API key (checked in that order of trust) and
// attaches it to the request context. Unauthenticated or disabled
// sources are rejected before reaching a handler.
func Auth(resolver catalogue.Resolver, bearerMgr *bearer.Manager, auditLogger audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source, reason, err := authenticate(r, resolver, bearerMgr)
			if err != nil {
				metrics.Get().RecordAuthFailure(reason)
				writeAuthAudit(r, auditLogger, "", reason, false)
				writeError(w, apperror.ErrUnauthenticated)
				return
			}
			if !source.Enabled {
				metrics.Get().RecordAuthFailure("source_disabled")
				writeAuthAudit(r, auditLogger, source.ID, "source_disabled", false)
				writeError(w, apperror.ErrForbidden)
				return
			}
			if !source.AllowsClient(clientIP(r)) {
				metrics.Get().RecordAuthFailure("client_not_allowed")
				writeAuthAudit(r, auditLogger, source.ID, "client_not_allowed", false)
				logger.WithSource(source.ID).Warn("auth: client address outside source allow-list", "remote_addr", r.RemoteAddr)
				writeError(w, apperror.ErrForbidden)
				return
			}

			writeAuthAudit(r, auditLogger, source.ID, "", true)
			next.ServeHTTP(w, r.WithContext(WithSource(r.Context(), source)))
		})
	}
}

func authenticate(r *http.Request, resolver catalogue.Resolver, bearerMgr *bearer.Manager) (*domain.Source, string, error) {
	ctx := r.Context()

	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		subject := r.TLS.PeerCertificates[0].Subject.CommonName
		source, err := resolver.ByMTLSSubject(ctx, subject)
		if err == nil {
			return source, "", nil
		}
	}

	if token := bearerToken(r); token != "" && bearerMgr != nil {
		claims, err := bearerMgr.ValidateToken(token)
		if err != nil {
			return nil, "invalid_bearer_token", err
		}
		source, err := resolver.ByBearerSubject(ctx, claims.SourceID)
		if err != nil {
			return nil, "unknown_bearer_subject", err
		}
		return source, "", nil
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		source, err := resolver.ByAPIKey(ctx, apiKey)
		if err != nil {
			return nil, "unknown_api_key", err
		}
		return source, "", nil
	}

	return nil, "missing_credentials", apperror.ErrUnauthenticated
}

// clientIP extracts the caller's address from RemoteAddr, tolerating a
// bare IP (as httptest.NewRequest leaves it) alongside the usual "host:port".
func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func writeAuthAudit(r *http.Request, auditLogger audit.Logger, sourceID, reason string, ok bool) {
	if auditLogger == nil {
		return
	}
	action := audit.ActionLogin
	outcome := audit.OutcomeSuccess
	if !ok {
		outcome = audit.OutcomeFailure
	}
	entry := audit.NewEntry().
		Service("receiver").
		Method(r.Method + " " + r.URL.Path).
		Action(action).
		Outcome(outcome).
		Resource("source", sourceID).
		Meta("reason", reason).
		Build()
	_ = auditLogger.Log(r.Context(), entry)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperror.HTTPStatus(err))
	_, _ = w.Write([]byte(`{"error":"` + err.Error() + `"}`))
}
