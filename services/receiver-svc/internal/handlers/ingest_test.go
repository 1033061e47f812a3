package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/queue"
)

var errAppendFailed = errors.New("append failed")

func init() {
	logger.Init("error")
}

type fakeBroker struct {
	appended []appendedRecord
	failNext bool
}

type appendedRecord struct {
	stream  string
	payload []byte
}

func (b *fakeBroker) Append(_ context.Context, stream string, payload []byte, _ int64) (string, error) {
	if b.failNext {
		b.failNext = false
		return "", errAppendFailed
	}
	b.appended = append(b.appended, appendedRecord{stream: stream, payload: append([]byte(nil), payload...)})
	return "1-0", nil
}

func (b *fakeBroker) EnsureGroup(context.Context, string, string, string) error { return nil }
func (b *fakeBroker) ReadGroup(context.Context, string, string, string, int64, time.Duration) ([]queue.Record, error) {
	return nil, nil
}
func (b *fakeBroker) Ack(context.Context, string, string, ...string) error { return nil }
func (b *fakeBroker) Pending(context.Context, string, string) (domain.PendingSummary, error) {
	return domain.PendingSummary{}, nil
}
func (b *fakeBroker) ClaimStale(context.Context, string, string, string, time.Duration, int64) ([]queue.Record, error) {
	return nil, nil
}
func (b *fakeBroker) Trim(context.Context, string, int64) (int64, error) { return 0, nil }
func (b *fakeBroker) Ping(context.Context) error                        { return nil }
func (b *fakeBroker) Close() error                                      { return nil }

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return buf
}

func TestLogIngest_AcceptsValidEvents(t *testing.T) {
	broker := &fakeBroker{}
	event := domain.LogEvent{
		Timestamp: time.Now(),
		Level:     domain.LevelInfo,
		Message:   "hello",
		Service:   "agent-1",
	}

	body := jsonBody(t, logBatchRequest{Source: "src-1", Logs: []domain.LogEvent{event}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", body)
	rec := httptest.NewRecorder()

	LogIngest(broker, "logs", 1000).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var result processedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("result = %+v, want Processed=1", result)
	}
	if len(broker.appended) != 1 || broker.appended[0].stream != "logs" {
		t.Errorf("broker.appended = %+v", broker.appended)
	}
}

func TestLogIngest_RejectsWholeBatchOnAnyInvalidEvent(t *testing.T) {
	broker := &fakeBroker{}
	valid := domain.LogEvent{Timestamp: time.Now(), Level: domain.LevelInfo, Message: "ok"}
	invalid := domain.LogEvent{Message: "missing level and timestamp"}

	body := jsonBody(t, logBatchRequest{Logs: []domain.LogEvent{valid, invalid}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", body)
	rec := httptest.NewRecorder()

	LogIngest(broker, "logs", 1000).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
	if len(broker.appended) != 0 {
		t.Errorf("expected no records appended when any record in the batch is invalid, got %+v", broker.appended)
	}
}

func TestLogIngest_AllRejectedReturnsBadRequest(t *testing.T) {
	broker := &fakeBroker{}
	invalid := domain.LogEvent{Message: "missing required fields"}

	body := jsonBody(t, logBatchRequest{Logs: []domain.LogEvent{invalid}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", body)
	rec := httptest.NewRecorder()

	LogIngest(broker, "logs", 1000).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLogIngest_RejectsMalformedEnvelope(t *testing.T) {
	broker := &fakeBroker{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()

	LogIngest(broker, "logs", 1000).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(broker.appended) != 0 {
		t.Errorf("expected no records appended for a malformed envelope, got %+v", broker.appended)
	}
}

func TestLogIngest_RejectsNonPostMethod(t *testing.T) {
	broker := &fakeBroker{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs", nil)
	rec := httptest.NewRecorder()

	LogIngest(broker, "logs", 1000).ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMetricIngest_AcceptsValidSamples(t *testing.T) {
	broker := &fakeBroker{}
	sample := domain.MetricSample{
		Name:      "cpu_usage",
		Kind:      domain.MetricKindGauge,
		Value:     0.5,
		Timestamp: time.Now().UnixMilli(),
	}

	body := jsonBody(t, metricBatchRequest{Source: "src-1", Metrics: []domain.MetricSample{sample}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", body)
	rec := httptest.NewRecorder()

	MetricIngest(broker, "metrics", 1000).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var result processedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("result = %+v, want Processed=1", result)
	}
	if len(broker.appended) != 1 || broker.appended[0].stream != "metrics" {
		t.Errorf("broker.appended = %+v", broker.appended)
	}
}

func TestMetricIngest_DefaultsMissingTimestamp(t *testing.T) {
	broker := &fakeBroker{}
	sample := domain.MetricSample{Name: "cpu_usage", Kind: domain.MetricKindGauge, Value: 1}

	body := jsonBody(t, metricBatchRequest{Metrics: []domain.MetricSample{sample}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", body)
	rec := httptest.NewRecorder()

	MetricIngest(broker, "metrics", 1000).ServeHTTP(rec, req)

	if len(broker.appended) != 1 {
		t.Fatalf("expected sample to be appended after timestamp defaulting, got %+v", broker.appended)
	}
	var stored domain.MetricSample
	if err := json.Unmarshal(broker.appended[0].payload, &stored); err != nil {
		t.Fatalf("decode stored payload: %v", err)
	}
	if stored.Timestamp == 0 {
		t.Error("expected a non-zero defaulted timestamp")
	}
}

func TestMetricIngest_RejectsWholeBatchOnAnyInvalidSample(t *testing.T) {
	broker := &fakeBroker{}
	valid := domain.MetricSample{Name: "cpu_usage", Kind: domain.MetricKindGauge, Value: 1, Timestamp: time.Now().UnixMilli()}
	invalid := domain.MetricSample{Name: "not a valid name!", Kind: domain.MetricKindGauge, Value: 1}

	body := jsonBody(t, metricBatchRequest{Metrics: []domain.MetricSample{valid, invalid}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", body)
	rec := httptest.NewRecorder()

	MetricIngest(broker, "metrics", 1000).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
	if len(broker.appended) != 0 {
		t.Errorf("expected no records appended when any sample in the batch is invalid, got %+v", broker.appended)
	}
}
