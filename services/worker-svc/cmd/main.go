// Command worker-svc runs the log (C8) and metric (C9) dispatch workers
// that drain the queue broker and deliver accepted batches to their sinks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"ingestpipe/pkg/audit"
	"ingestpipe/pkg/config"
	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/metrics"
	"ingestpipe/pkg/queue"
	"ingestpipe/pkg/sinks"
	"ingestpipe/pkg/supervisor"
	"ingestpipe/pkg/telemetry"
	"ingestpipe/services/worker-svc/internal/worker"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("worker-svc", 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	metrics.Get().SetServiceInfo(cfg.App.Version, cfg.App.Environment)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
				logger.Log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Log.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer tp.Shutdown(ctx)

	broker, err := queue.NewRedisBroker(cfg.Queue.URL, cfg.Queue.DialTimeout)
	if err != nil {
		logger.Log.Error("queue broker init failed", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	auditLogger, err := audit.New(&audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Backend:     cfg.Audit.Backend,
		FilePath:    cfg.Audit.FilePath,
		BufferSize:  cfg.Audit.BufferSize,
		FlushPeriod: cfg.Audit.FlushPeriod,
	})
	if err != nil {
		logger.Log.Error("audit logger init failed", "error", err)
		os.Exit(1)
	}
	defer auditLogger.Close()

	logSink := sinks.NewLogSink(sinks.Config{
		URL:          cfg.Sink.LogURL,
		Timeout:      cfg.Sink.Timeout,
		RetryMax:     cfg.Sink.RetryMax,
		RetryBackoff: cfg.Sink.RetryBackoff,
	})
	metricSink := sinks.NewMetricSink(sinks.Config{
		URL:          cfg.Sink.MetricURL,
		Timeout:      cfg.Sink.Timeout,
		RetryMax:     cfg.Sink.RetryMax,
		RetryBackoff: cfg.Sink.RetryBackoff,
	})

	hostname, _ := os.Hostname()

	logWorker := worker.New("log", worker.Config{
		Stream:          cfg.Queue.LogStream,
		Group:           cfg.Queue.LogGroup,
		Consumer:        hostname,
		BatchSize:       int64(cfg.Worker.BatchSize),
		BatchMaxAge:     cfg.Worker.BatchMaxAge,
		ReadBlock:       cfg.Queue.ReadBlock,
		ReclaimIdle:     cfg.Queue.ReclaimIdle,
		ReclaimInterval: cfg.Queue.ReclaimInterval,
		Concurrency:     cfg.Worker.Concurrency,
	}, broker, logSink, decodeLogEvent, auditLogger)

	metricWorker := worker.New("metric", worker.Config{
		Stream:          cfg.Queue.MetricStream,
		Group:           cfg.Queue.MetricGroup,
		Consumer:        hostname,
		BatchSize:       int64(cfg.Worker.BatchSize),
		BatchMaxAge:     cfg.Worker.BatchMaxAge,
		ReadBlock:       cfg.Queue.ReadBlock,
		ReclaimIdle:     cfg.Queue.ReclaimIdle,
		ReclaimInterval: cfg.Queue.ReclaimInterval,
		Concurrency:     cfg.Worker.Concurrency,
	}, broker, metricSink, decodeMetricSample, auditLogger)

	sup := supervisor.New(cfg.App.Name, []supervisor.Component{
		queuePinger{broker},
		logWorker,
		metricWorker,
	}, supervisor.WithAuditLogger(auditLogger))

	if err := sup.Run(ctx); err != nil {
		logger.Log.Error("supervisor run failed", "error", err)
		os.Exit(1)
	}
}

// queuePinger is the "queue reachable" step the supervisor starts before
// bringing workers up.
type queuePinger struct {
	broker queue.Broker
}

func (p queuePinger) Name() string { return "queue" }

func (p queuePinger) Start(ctx context.Context) error {
	return p.broker.Ping(ctx)
}

func (p queuePinger) Stop(ctx context.Context) error { return nil }

func decodeLogEvent(payload []byte) (*domain.LogEvent, error) {
	var e domain.LogEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func decodeMetricSample(payload []byte) (*domain.MetricSample, error) {
	var m domain.MetricSample
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
