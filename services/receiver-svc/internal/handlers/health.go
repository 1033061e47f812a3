package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/queue"
)

// Health serves GET /healthz: a snapshot of every dependency this process
// can cheaply probe.
func Health(broker queue.Broker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot := domain.HealthSnapshot{
			Components: map[string]domain.ComponentHealth{
				"queue": checkQueue(ctx, broker),
			},
		}
		snapshot.Status = snapshot.Overall()

		status := http.StatusOK
		if snapshot.Status == domain.StatusDown {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(snapshot)
	})
}

// Ready serves GET /readyz: a minimal liveness probe with no dependency
// checks, for the orchestrator's fast-path readiness gate.
func Ready() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func checkQueue(ctx context.Context, broker queue.Broker) domain.ComponentHealth {
	now := time.Now()
	if err := broker.Ping(ctx); err != nil {
		return domain.ComponentHealth{Status: domain.StatusDown, LastChecked: now, Detail: err.Error()}
	}
	return domain.ComponentHealth{Status: domain.StatusOK, LastChecked: now}
}
