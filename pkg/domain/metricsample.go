package domain

import (
	"regexp"

	"ingestpipe/pkg/apperror"
)

// MetricKind is the Prometheus-compatible metric type.
type MetricKind int

const (
	MetricKindUnspecified MetricKind = iota
	MetricKindCounter
	MetricKindGauge
	MetricKindHistogram
	MetricKindSummary
)

// String returns the lower-case kind name used in exposition output.
func (k MetricKind) String() string {
	switch k {
	case MetricKindCounter:
		return "counter"
	case MetricKindGauge:
		return "gauge"
	case MetricKindHistogram:
		return "histogram"
	case MetricKindSummary:
		return "summary"
	default:
		return "unspecified"
	}
}

// ParseMetricKind maps a wire-format kind string onto a MetricKind.
func ParseMetricKind(s string) (MetricKind, bool) {
	switch s {
	case "COUNTER", "counter":
		return MetricKindCounter, true
	case "GAUGE", "gauge":
		return MetricKindGauge, true
	case "HISTOGRAM", "histogram":
		return MetricKindHistogram, true
	case "SUMMARY", "summary":
		return MetricKindSummary, true
	default:
		return MetricKindUnspecified, false
	}
}

// metricNamePattern matches both metric names and label keys per the data model.
var metricNamePattern = regexp.MustCompile(`^[A-Za-z_:][A-Za-z0-9_:]*$`)

// MaxLabelCardinality is the soft cap on distinct label keys per sample,
// guarding against runaway label explosion from a single source.
const MaxLabelCardinality = 32

// MetricSample is one normalised metric point, as accepted by C5 and
// written by C9 to the pushgateway sink.
type MetricSample struct {
	Name      string
	Kind      MetricKind
	Value     float64
	Buckets   map[float64]float64 // histogram bucket boundary -> cumulative count
	Labels    map[string]string
	Timestamp int64 // milliseconds since epoch
	Help      string
}

// Validate enforces the metric sample invariants: name/label-key pattern and
// soft label cardinality cap.
func (m *MetricSample) Validate() error {
	if m == nil {
		return apperror.ErrNilRecord
	}
	if m.Name == "" || !metricNamePattern.MatchString(m.Name) {
		return apperror.NewWithField(apperror.CodeInvalidInput, "metric name does not match [A-Za-z_:][A-Za-z0-9_:]*", "name")
	}
	if m.Kind == MetricKindUnspecified {
		return apperror.NewWithField(apperror.CodeInvalidInput, "kind is required", "kind")
	}
	if len(m.Labels) > MaxLabelCardinality {
		return apperror.NewWithField(apperror.CodeInvalidInput, "label cardinality exceeds soft cap", "labels").
			WithDetails("cardinality", len(m.Labels)).
			WithDetails("cap", MaxLabelCardinality)
	}
	for key := range m.Labels {
		if !metricNamePattern.MatchString(key) {
			return apperror.NewWithField(apperror.CodeInvalidInput, "label key does not match [A-Za-z_:][A-Za-z0-9_:]*", "labels").
				WithDetails("key", key)
		}
	}
	if m.Kind == MetricKindHistogram && len(m.Buckets) == 0 {
		return apperror.NewWithField(apperror.CodeInvalidInput, "histogram sample requires bucket boundaries", "buckets")
	}
	return nil
}

// GroupKey returns the (job, instance) grouping key the metric worker uses
// to batch samples for a single pushgateway push.
func (m *MetricSample) GroupKey() (job, instance string) {
	job = m.Labels["job"]
	instance = m.Labels["instance"]
	return
}
