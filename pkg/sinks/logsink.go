package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/telemetry"
)

// ecsDocument is the flattened, ECS-style shape a log event takes on the
// wire to the bulk index endpoint.
type ecsDocument struct {
	Timestamp time.Time         `json:"@timestamp"`
	Message   string            `json:"message"`
	LogLevel  string            `json:"log.level"`
	Service   struct {
		Name string `json:"name"`
	} `json:"service"`
	Host struct {
		Name string `json:"name"`
	} `json:"host"`
	Labels map[string]string `json:"labels,omitempty"`
	Tags   []string          `json:"tags,omitempty"`
	Trace  struct {
		ID string `json:"id,omitempty"`
	} `json:"trace,omitempty"`
	Span struct {
		ID string `json:"id,omitempty"`
	} `json:"span,omitempty"`
	TransactionID string `json:"transaction.id,omitempty"`
}

func toECSDocument(e *domain.LogEvent) ecsDocument {
	var doc ecsDocument
	doc.Timestamp = e.Timestamp
	doc.Message = e.Message
	doc.LogLevel = e.Level.String()
	doc.Service.Name = e.Service
	doc.Host.Name = e.Host
	doc.Labels = e.Labels
	doc.Tags = e.Tags
	doc.Trace.ID = e.TraceID
	doc.Span.ID = e.SpanID
	doc.TransactionID = e.TransactionID
	return doc
}

// bulkItem mirrors the per-document outcome shape of an Elasticsearch-style
// bulk response: one status (and optional error) keyed by the id the
// caller supplied.
type bulkItem struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

type bulkResponse struct {
	Items []bulkItem `json:"items"`
}

type bulkAction struct {
	Index struct {
		ID string `json:"_id"`
	} `json:"index"`
}

// encodeBulkBody renders the batch as the newline-delimited action/document
// pairs the bulk index endpoint expects: one {"index":{"_id":...}} action
// line followed by the document line, per record.
func encodeBulkBody(records map[string]*domain.LogEvent) ([]byte, error) {
	var buf bytes.Buffer
	for id, e := range records {
		action := bulkAction{}
		action.Index.ID = id
		actionLine, err := json.Marshal(action)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal bulk action for %s: %w", id, err)
		}
		docLine, err := json.Marshal(toECSDocument(e))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal document for %s: %w", id, err)
		}
		buf.Write(actionLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// LogSink bulk-indexes log events against an external log store.
type LogSink struct {
	cfg    Config
	client *http.Client
}

// NewLogSink builds a LogSink posting to cfg.URL.
func NewLogSink(cfg Config) *LogSink {
	return &LogSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Send posts one batch and returns a Result per record, applying the
// exponential-backoff retry loop for transport-level (not per-document)
// failures up to cfg.RetryMax retries (cfg.RetryMax+1 attempts in all).
func (s *LogSink) Send(ctx context.Context, records map[string]*domain.LogEvent) ([]Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "LogSink.Send")
	defer span.End()
	span.SetAttributes(telemetry.BatchAttributes(len(records), 0)...)

	body, err := encodeBulkBody(records)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			if err := sleepOrDone(ctx, retryDelay(s.cfg.RetryBackoff, attempt-1)); err != nil {
				return nil, err
			}
		}

		resp, err := s.post(ctx, body)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("log sink returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return allRejected(records, fmt.Sprintf("log sink returned status %d", resp.StatusCode)), nil
		}

		return parseBulkResponse(records, resp)
	}

	return nil, fmt.Errorf("log sink unavailable after %d attempts: %w", s.cfg.RetryMax+1, lastErr)
}

func (s *LogSink) post(ctx context.Context, body []byte) (*bulkResponseEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed bulkResponse
	_ = json.NewDecoder(resp.Body).Decode(&parsed)

	return &bulkResponseEnvelope{StatusCode: resp.StatusCode, Body: parsed}, nil
}

type bulkResponseEnvelope struct {
	StatusCode int
	Body       bulkResponse
}

func parseBulkResponse(records map[string]*domain.LogEvent, resp *bulkResponseEnvelope) ([]Result, error) {
	seen := make(map[string]bool, len(resp.Body.Items))
	results := make([]Result, 0, len(records))

	for _, item := range resp.Body.Items {
		seen[item.ID] = true
		switch {
		case item.Status >= 200 && item.Status < 300:
			results = append(results, Result{ID: item.ID, Outcome: OutcomeAccepted})
		case item.Status >= 400 && item.Status < 500:
			results = append(results, Result{ID: item.ID, Outcome: OutcomePoison, Err: fmt.Errorf("%s", item.Error)})
		default:
			results = append(results, Result{ID: item.ID, Outcome: OutcomeRetry, Err: fmt.Errorf("%s", item.Error)})
		}
	}

	// A sink that omits an id from the response is treated conservatively
	// as a transient failure so the record is retried, not silently dropped.
	for id := range records {
		if !seen[id] {
			results = append(results, Result{ID: id, Outcome: OutcomeRetry, Err: fmt.Errorf("log sink omitted status for record")})
		}
	}

	return results, nil
}

func allRejected(records map[string]*domain.LogEvent, reason string) []Result {
	out := make([]Result, 0, len(records))
	for id := range records {
		out = append(out, Result{ID: id, Outcome: OutcomeRetry, Err: fmt.Errorf("%s", reason)})
	}
	return out
}
