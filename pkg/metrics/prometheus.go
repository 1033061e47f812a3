package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide registry container.
type Metrics struct {
	// Receiver HTTP/HTTP3 requests
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RequestsInFlight   prometheus.Gauge

	// Admission filter (C1)
	AdmissionDropsTotal *prometheus.CounterVec

	// Rate limiter (C3)
	ThrottledTotal *prometheus.CounterVec

	// Authentication (C2)
	AuthFailuresTotal *prometheus.CounterVec

	// Queue broker (C7)
	QueueAppendsTotal *prometheus.CounterVec
	QueueAcksTotal    *prometheus.CounterVec
	QueueClaimsTotal  *prometheus.CounterVec

	// Workers (C8/C9)
	BatchSize        *prometheus.HistogramVec
	FlushLatency     *prometheus.HistogramVec
	RecordsTrimmedUnackedTotal *prometheus.CounterVec
	DeadLetterTotal  *prometheus.CounterVec

	// Sinks (C8/C9 downstream)
	SinkLatency     *prometheus.HistogramVec
	SinkOutcomeTotal *prometheus.CounterVec

	// Adaptive sender (C10)
	SenderFallbackTotal *prometheus.CounterVec

	// System
	MemoryUsage *prometheus.GaugeVec
	Goroutines  prometheus.Gauge
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics builds and registers every gauge/counter/histogram under the
// given namespace/subsystem.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of receiver requests",
			},
			[]string{"receiver", "route", "status"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of receiver requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"receiver", "route"},
		),

		RequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_in_flight",
				Help:      "Current number of requests being processed",
			},
		),

		AdmissionDropsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "admission_drops_total",
				Help:      "Total connections/datagrams rejected by the admission filter",
			},
			[]string{"protocol", "intent"},
		),

		ThrottledTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "throttled_total",
				Help:      "Total requests rejected by the rate limiter",
			},
			[]string{"source_id", "tier"},
		),

		AuthFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "auth_failures_total",
				Help:      "Total authentication failures",
			},
			[]string{"reason"},
		),

		QueueAppendsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_appends_total",
				Help:      "Total records appended to the queue broker",
			},
			[]string{"stream"},
		),

		QueueAcksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_acks_total",
				Help:      "Total records acknowledged by workers",
			},
			[]string{"stream"},
		),

		QueueClaimsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_claims_total",
				Help:      "Total pending records reclaimed from stale consumers",
			},
			[]string{"stream"},
		),

		BatchSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_batch_size",
				Help:      "Number of records per worker flush batch",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"worker"},
		),

		FlushLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_flush_duration_seconds",
				Help:      "Duration of a worker's batch flush to its sink",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"worker"},
		),

		RecordsTrimmedUnackedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "records_trimmed_unacked_total",
				Help:      "Total records discarded by a MAXLEN trim before being acknowledged",
			},
			[]string{"stream"},
		),

		DeadLetterTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dead_letter_total",
				Help:      "Total records moved to a dead-letter stream",
			},
			[]string{"stream", "reason"},
		),

		SinkLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sink_duration_seconds",
				Help:      "Duration of a sink call",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"sink"},
		),

		SinkOutcomeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sink_outcome_total",
				Help:      "Total sink calls by outcome",
			},
			[]string{"sink", "outcome"},
		),

		SenderFallbackTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sender_protocol_fallback_total",
				Help:      "Total times the adaptive sender fell back from HTTP/3 to HTTP/1.1",
			},
			[]string{"sink"},
		),

		MemoryUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage",
			},
			[]string{"type"},
		),

		Goroutines: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the process-wide metrics registry, lazily initializing it
// under the default namespace if InitMetrics was never called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("ingestpipe", "")
	}
	return defaultMetrics
}

// RecordRequest records a receiver HTTP/HTTP3 request.
func (m *Metrics) RecordRequest(receiver, route, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(receiver, route, status).Inc()
	m.RequestDuration.WithLabelValues(receiver, route).Observe(duration.Seconds())
}

// RecordAdmissionDrop records a connection or datagram rejected before
// authentication ever runs.
func (m *Metrics) RecordAdmissionDrop(protocol, intent string) {
	m.AdmissionDropsTotal.WithLabelValues(protocol, intent).Inc()
}

// RecordThrottled records a request rejected by the rate limiter.
func (m *Metrics) RecordThrottled(sourceID, tier string) {
	m.ThrottledTotal.WithLabelValues(sourceID, tier).Inc()
}

// RecordAuthFailure records an authentication failure by reason.
func (m *Metrics) RecordAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordQueueAppend records a successful append to a stream.
func (m *Metrics) RecordQueueAppend(stream string) {
	m.QueueAppendsTotal.WithLabelValues(stream).Inc()
}

// RecordQueueAck records a batch of acknowledged record ids.
func (m *Metrics) RecordQueueAck(stream string, count int) {
	m.QueueAcksTotal.WithLabelValues(stream).Add(float64(count))
}

// RecordQueueClaim records records reclaimed from a stale consumer.
func (m *Metrics) RecordQueueClaim(stream string, count int) {
	m.QueueClaimsTotal.WithLabelValues(stream).Add(float64(count))
}

// RecordBatchFlush records a worker's batch size and flush latency.
func (m *Metrics) RecordBatchFlush(worker string, size int, duration time.Duration) {
	m.BatchSize.WithLabelValues(worker).Observe(float64(size))
	m.FlushLatency.WithLabelValues(worker).Observe(duration.Seconds())
}

// RecordTrimmedUnacked records records a MAXLEN trim discarded before ack.
func (m *Metrics) RecordTrimmedUnacked(stream string, count int) {
	m.RecordsTrimmedUnackedTotal.WithLabelValues(stream).Add(float64(count))
}

// RecordDeadLetter records a record moved to a dead-letter stream.
func (m *Metrics) RecordDeadLetter(stream, reason string) {
	m.DeadLetterTotal.WithLabelValues(stream, reason).Inc()
}

// RecordSinkCall records a sink call's latency and outcome.
func (m *Metrics) RecordSinkCall(sink, outcome string, duration time.Duration) {
	m.SinkLatency.WithLabelValues(sink).Observe(duration.Seconds())
	m.SinkOutcomeTotal.WithLabelValues(sink, outcome).Inc()
}

// RecordSenderFallback records the adaptive sender dropping from HTTP/3 to
// HTTP/1.1 for a sink.
func (m *Metrics) RecordSenderFallback(sink string) {
	m.SenderFallbackTotal.WithLabelValues(sink).Inc()
}

// SetServiceInfo sets the build-info gauge to 1 for the running version.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer runs a standalone HTTP server exposing /metrics and
// /health, for processes that don't multiplex metrics onto their main
// receiver mux.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write error not actionable
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
