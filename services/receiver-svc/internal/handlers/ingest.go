// Package handlers implements the receiver's HTTP endpoints: log and
// metric ingestion (C4/C5), and health/readiness probes.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ingestpipe/pkg/apperror"
	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/metrics"
	"ingestpipe/pkg/queue"
	"ingestpipe/services/receiver-svc/internal/middleware"
)

// maxRequestBody bounds a single ingest request to guard against an
// unbounded request body exhausting memory.
const maxRequestBody = 16 << 20 // 16 MiB

type logBatchRequest struct {
	Source      string          `json:"source"`
	Application string          `json:"application"`
	Logs        []domain.LogEvent `json:"logs"`
}

type metricBatchRequest struct {
	Source  string                 `json:"source"`
	Metrics []domain.MetricSample `json:"metrics"`
}

type processedResponse struct {
	Processed int `json:"processed"`
}

// LogIngest accepts a batch envelope of domain.LogEvent records, validates
// every record up front, and rejects the whole batch on any schema
// violation — partial batch success is never exposed at this boundary.
// Only once every record passes validation are they appended to the log
// stream (C7).
func LogIngest(broker queue.Broker, stream string, maxLen int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		source := middleware.SourceFromContext(r.Context())

		var req logBatchRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err := dec.Decode(&req); err != nil {
			writeIngestError(w, apperror.NewWithField(apperror.CodeInvalidInput, "malformed batch envelope: "+err.Error(), "body"))
			return
		}

		for i := range req.Logs {
			event := &req.Logs[i]
			event.Normalize()
			if event.Service == "" {
				switch {
				case req.Application != "":
					event.Service = req.Application
				case source != nil:
					event.Service = source.Name
				}
			}
			if err := event.Validate(); err != nil {
				writeIngestError(w, apperror.NewWithField(apperror.CodeInvalidInput, err.Error(), fmt.Sprintf("logs[%d]", i)))
				return
			}
		}

		for i := range req.Logs {
			payload, err := json.Marshal(&req.Logs[i])
			if err != nil {
				writeIngestError(w, apperror.New(apperror.CodeInternal, "failed to encode event"))
				return
			}
			if _, err := broker.Append(r.Context(), stream, payload, maxLen); err != nil {
				logger.Log.Error("log ingest: append failed", "error", err)
				writeIngestError(w, apperror.ErrQueueUnavailable)
				return
			}
			metrics.Get().RecordQueueAppend(stream)
		}

		writeProcessed(w, len(req.Logs))
	})
}

// MetricIngest accepts a batch envelope of domain.MetricSample records,
// validates every record up front, and rejects the whole batch on any
// schema violation before appending any record to the metric stream (C7).
func MetricIngest(broker queue.Broker, stream string, maxLen int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req metricBatchRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err := dec.Decode(&req); err != nil {
			writeIngestError(w, apperror.NewWithField(apperror.CodeInvalidInput, "malformed batch envelope: "+err.Error(), "body"))
			return
		}

		for i := range req.Metrics {
			sample := &req.Metrics[i]
			if sample.Timestamp == 0 {
				sample.Timestamp = time.Now().UnixMilli()
			}
			if err := sample.Validate(); err != nil {
				writeIngestError(w, apperror.NewWithField(apperror.CodeInvalidInput, err.Error(), fmt.Sprintf("metrics[%d]", i)))
				return
			}
		}

		for i := range req.Metrics {
			payload, err := json.Marshal(&req.Metrics[i])
			if err != nil {
				writeIngestError(w, apperror.New(apperror.CodeInternal, "failed to encode sample"))
				return
			}
			if _, err := broker.Append(r.Context(), stream, payload, maxLen); err != nil {
				logger.Log.Error("metric ingest: append failed", "error", err)
				writeIngestError(w, apperror.ErrQueueUnavailable)
				return
			}
			metrics.Get().RecordQueueAppend(stream)
		}

		writeProcessed(w, len(req.Metrics))
	})
}

func writeProcessed(w http.ResponseWriter, n int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(processedResponse{Processed: n})
}

func writeIngestError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperror.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
