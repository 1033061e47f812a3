package middleware

import (
	"net/http"
	"strconv"
	"time"

	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// AccessLog records one structured log line and a Prometheus observation
// per request, keyed by the route template rather than the raw path so
// high-cardinality paths don't blow up the metric's label set.
func AccessLog(receiver, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			metrics.Get().RecordRequest(receiver, route, strconv.Itoa(rec.status), duration)
			logger.Log.Info("request",
				"receiver", receiver,
				"route", route,
				"method", r.Method,
				"status", rec.status,
				"duration_ms", duration.Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
