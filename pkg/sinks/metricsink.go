package sinks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/telemetry"
)

// MetricSink pushes grouped metric samples to a Prometheus pushgateway-style
// endpoint, one request per (job, instance) group.
type MetricSink struct {
	cfg    Config
	client *http.Client
}

// NewMetricSink builds a MetricSink posting to cfg.URL.
func NewMetricSink(cfg Config) *MetricSink {
	return &MetricSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type sampleGroup struct {
	job      string
	instance string
	ids      []string
	samples  []*domain.MetricSample
}

func groupSamples(records map[string]*domain.MetricSample) []*sampleGroup {
	groups := make(map[string]*sampleGroup)
	for id, sample := range records {
		job, instance := sample.GroupKey()
		key := job + "\x00" + instance
		g, ok := groups[key]
		if !ok {
			g = &sampleGroup{job: job, instance: instance}
			groups[key] = g
		}
		g.ids = append(g.ids, id)
		g.samples = append(g.samples, sample)
	}

	out := make([]*sampleGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].job != out[j].job {
			return out[i].job < out[j].job
		}
		return out[i].instance < out[j].instance
	})
	return out
}

// Send pushes each (job, instance) group as a single all-or-nothing request:
// the whole group is accepted or the whole group is left for retry.
func (s *MetricSink) Send(ctx context.Context, records map[string]*domain.MetricSample) ([]Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "MetricSink.Send")
	defer span.End()
	span.SetAttributes(telemetry.BatchAttributes(len(records), 0)...)

	groups := groupSamples(records)
	results := make([]Result, 0, len(records))

	for _, g := range groups {
		groupResults, err := s.pushGroup(ctx, g)
		if err != nil {
			return nil, err
		}
		results = append(results, groupResults...)
	}

	return results, nil
}

func (s *MetricSink) pushGroup(ctx context.Context, g *sampleGroup) ([]Result, error) {
	body := encodeExposition(g.samples)
	url := fmt.Sprintf("%s/metrics/job/%s/instance/%s", strings.TrimRight(s.cfg.URL, "/"), urlSafe(g.job), urlSafe(g.instance))

	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			if err := sleepOrDone(ctx, retryDelay(s.cfg.RetryBackoff, attempt-1)); err != nil {
				return nil, err
			}
		}

		status, err := s.post(ctx, url, body)
		if err != nil {
			lastErr = err
			continue
		}

		if status >= 200 && status < 300 {
			return acceptAll(g.ids), nil
		}
		if status >= 400 && status < 500 {
			return retryAll(g.ids, fmt.Errorf("pushgateway rejected group job=%s instance=%s with status %d", g.job, g.instance, status)), nil
		}
		lastErr = fmt.Errorf("pushgateway returned status %d", status)
	}

	return retryAll(g.ids, fmt.Errorf("pushgateway unavailable after %d attempts: %w", s.cfg.RetryMax+1, lastErr)), nil
}

func (s *MetricSink) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "text/plain; version=0.0.4")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// encodeExposition renders samples in Prometheus text exposition format,
// one HELP/TYPE pair per metric name followed by its sample lines.
func encodeExposition(samples []*domain.MetricSample) []byte {
	var buf bytes.Buffer
	seen := make(map[string]bool)

	for _, sample := range samples {
		if !seen[sample.Name] {
			seen[sample.Name] = true
			if sample.Help != "" {
				fmt.Fprintf(&buf, "# HELP %s %s\n", sample.Name, sample.Help)
			}
			fmt.Fprintf(&buf, "# TYPE %s %s\n", sample.Name, sample.Kind.String())
		}

		if sample.Kind == domain.MetricKindHistogram {
			writeHistogram(&buf, sample)
			continue
		}

		buf.WriteString(sample.Name)
		writeLabels(&buf, sample.Labels)
		fmt.Fprintf(&buf, " %s\n", formatFloat(sample.Value))
	}

	return buf.Bytes()
}

func writeHistogram(buf *bytes.Buffer, sample *domain.MetricSample) {
	bounds := make([]float64, 0, len(sample.Buckets))
	for b := range sample.Buckets {
		bounds = append(bounds, b)
	}
	sort.Float64s(bounds)

	for _, bound := range bounds {
		fmt.Fprintf(buf, "%s_bucket", sample.Name)
		labels := cloneLabels(sample.Labels)
		labels["le"] = formatFloat(bound)
		writeLabels(buf, labels)
		fmt.Fprintf(buf, " %s\n", formatFloat(sample.Buckets[bound]))
	}

	fmt.Fprintf(buf, "%s_sum", sample.Name)
	writeLabels(buf, sample.Labels)
	fmt.Fprintf(buf, " %s\n", formatFloat(sample.Value))
}

func writeLabels(buf *bytes.Buffer, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(buf, "%s=%q", k, labels[k])
	}
	buf.WriteByte('}')
}

func cloneLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func urlSafe(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.ReplaceAll(s, "/", "_")
}

func acceptAll(ids []string) []Result {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, Result{ID: id, Outcome: OutcomeAccepted})
	}
	return out
}

func retryAll(ids []string, err error) []Result {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, Result{ID: id, Outcome: OutcomeRetry, Err: err})
	}
	return out
}
