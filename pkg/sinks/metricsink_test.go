package sinks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ingestpipe/pkg/domain"
)

func counterSample(job, instance, name string, value float64) *domain.MetricSample {
	return &domain.MetricSample{
		Name:      name,
		Kind:      domain.MetricKindCounter,
		Value:     value,
		Labels:    map[string]string{"job": job, "instance": instance},
		Timestamp: time.Now().UnixMilli(),
		Help:      "a test counter",
	}
}

func TestGroupSamples_GroupsByJobAndInstance(t *testing.T) {
	records := map[string]*domain.MetricSample{
		"a": counterSample("worker-svc", "host-1", "requests_total", 1),
		"b": counterSample("worker-svc", "host-1", "errors_total", 2),
		"c": counterSample("worker-svc", "host-2", "requests_total", 3),
	}

	groups := groupSamples(records)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	var hostOne *sampleGroup
	for _, g := range groups {
		if g.instance == "host-1" {
			hostOne = g
		}
	}
	if hostOne == nil {
		t.Fatal("expected a group for host-1")
	}
	if len(hostOne.samples) != 2 {
		t.Errorf("expected 2 samples in host-1 group, got %d", len(hostOne.samples))
	}
}

func TestMetricSink_Send_AllOrNothingPerGroup(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if strings.Contains(r.URL.Path, "host-2") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewMetricSink(Config{URL: srv.URL, Timeout: time.Second, RetryMax: 0, RetryBackoff: time.Millisecond})
	records := map[string]*domain.MetricSample{
		"a": counterSample("worker-svc", "host-1", "requests_total", 1),
		"b": counterSample("worker-svc", "host-2", "requests_total", 2),
	}

	results, err := sink.Send(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	byID := make(map[string]Result)
	for _, r := range results {
		byID[r.ID] = r
	}
	if byID["a"].Outcome != OutcomeAccepted {
		t.Errorf("expected a accepted, got %v", byID["a"].Outcome)
	}
	if byID["b"].Outcome != OutcomeRetry {
		t.Errorf("expected b to retry, got %v", byID["b"].Outcome)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected one push per group, got %d pushes", len(bodies))
	}
}

func TestMetricSink_Send_RejectsGroupOn4xxWithoutRetrying(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewMetricSink(Config{URL: srv.URL, Timeout: time.Second, RetryMax: 3, RetryBackoff: time.Millisecond})
	records := map[string]*domain.MetricSample{
		"a": counterSample("worker-svc", "host-1", "requests_total", 1),
	}

	results, err := sink.Send(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call for a 4xx group rejection, got %d", calls)
	}
	if results[0].Outcome != OutcomeRetry {
		t.Errorf("expected OutcomeRetry, got %v", results[0].Outcome)
	}
}

func TestEncodeExposition_WritesHistogramBucketsAndSum(t *testing.T) {
	sample := &domain.MetricSample{
		Name:    "request_duration_seconds",
		Kind:    domain.MetricKindHistogram,
		Value:   12.5,
		Buckets: map[float64]float64{0.1: 3, 0.5: 8, 1: 10},
		Labels:  map[string]string{"job": "worker-svc", "instance": "host-1"},
	}

	out := string(encodeExposition([]*domain.MetricSample{sample}))
	if !strings.Contains(out, "request_duration_seconds_bucket") {
		t.Errorf("expected bucket lines, got %q", out)
	}
	if !strings.Contains(out, "request_duration_seconds_sum") {
		t.Errorf("expected sum line, got %q", out)
	}
	if !strings.Contains(out, `le="1"`) {
		t.Errorf("expected le label for bucket boundary, got %q", out)
	}
}

func TestURLSafe_ReplacesSlashes(t *testing.T) {
	if got := urlSafe("a/b"); got != "a_b" {
		t.Errorf("expected a_b, got %s", got)
	}
	if got := urlSafe(""); got != "unknown" {
		t.Errorf("expected unknown for empty instance, got %s", got)
	}
}
