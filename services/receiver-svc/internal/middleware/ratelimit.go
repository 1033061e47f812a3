package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"ingestpipe/pkg/apperror"
	"ingestpipe/pkg/audit"
	"ingestpipe/pkg/metrics"
	"ingestpipe/pkg/ratelimit"
)

// RateLimit throttles an authenticated source under two buckets: its
// catalogue tier's (source, tier) bucket, and a global per-client-address
// bucket that bounds a single caller regardless of which source credential
// it presents (spec.md §4.3). Must run after Auth, since it reads the
// source from context. clientLimiter may be nil, in which case only the
// tiered bucket applies.
func RateLimit(limiter *ratelimit.TieredLimiter, clientLimiter ratelimit.Limiter, auditLogger audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source := SourceFromContext(r.Context())
			if source == nil {
				writeError(w, apperror.ErrUnauthenticated)
				return
			}

			if clientLimiter != nil {
				clientKey := ratelimit.ClientKeyExtractor(r.Context(), clientIP(r).String(), nil)
				allowed, err := clientLimiter.Allow(r.Context(), clientKey)
				if err != nil {
					writeError(w, apperror.Wrap(err, apperror.CodeInternal, "rate limiter unavailable"))
					return
				}
				if !allowed {
					metrics.Get().RecordThrottled(source.ID, "client")
					writeThrottleAudit(r, auditLogger, source.ID)
					writeError(w, apperror.ErrThrottled)
					return
				}
			}

			allowed, err := limiter.Allow(r.Context(), source.Tier, source.ID)
			if err != nil {
				writeError(w, apperror.Wrap(err, apperror.CodeInternal, "rate limiter unavailable"))
				return
			}
			if !allowed {
				metrics.Get().RecordThrottled(source.ID, source.Tier.String())
				writeThrottleAudit(r, auditLogger, source.ID)

				if info, infoErr := limiter.Info(r.Context(), source.Tier, source.ID); infoErr == nil {
					w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
					w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", info.RetryAfter.Seconds()))
				}
				writeError(w, apperror.ErrThrottled)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeThrottleAudit(r *http.Request, auditLogger audit.Logger, sourceID string) {
	if auditLogger == nil {
		return
	}
	entry := audit.NewEntry().
		Service("receiver").
		Method(r.Method + " " + r.URL.Path).
		Action(audit.ActionThrottle).
		Outcome(audit.OutcomeDenied).
		Resource("source", sourceID).
		Build()
	_ = auditLogger.Log(r.Context(), entry)
}
