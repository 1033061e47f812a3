package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"ingestpipe/pkg/config"
)

// CORS applies the configured cross-origin policy, short-circuiting
// preflight OPTIONS requests.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		origins := strings.Join(cfg.AllowedOrigins, ",")
		methods := strings.Join(cfg.AllowedMethods, ",")
		headers := strings.Join(cfg.AllowedHeaders, ",")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origins)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
