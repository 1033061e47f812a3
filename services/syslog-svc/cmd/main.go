// Command syslog-svc runs the UDP syslog listener (C6): one bound socket
// per distinct UDP port registered by catalogue sources, parsing RFC3164/RFC5424
// datagrams and enqueueing them onto the log stream.
package main

import (
	"context"
	"fmt"
	"os"

	"ingestpipe/pkg/admission"
	"ingestpipe/pkg/audit"
	"ingestpipe/pkg/cache"
	"ingestpipe/pkg/catalogue"
	"ingestpipe/pkg/config"
	"ingestpipe/pkg/database"
	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/metrics"
	"ingestpipe/pkg/queue"
	"ingestpipe/pkg/supervisor"
	"ingestpipe/pkg/telemetry"
	"ingestpipe/services/syslog-svc/internal/listener"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("syslog-svc", 0)
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

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		logger.Log.Error("catalogue database init failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sourceCache, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		logger.Log.Error("catalogue cache init failed", "error", err)
		os.Exit(1)
	}
	defer sourceCache.Close()

	repo := catalogue.NewPostgresRepository(db)

	filter := buildAdmissionFilter(cfg.Admission, cfg.Syslog)

	udpListener := listener.New(listener.Config{
		BindHost:      cfg.Syslog.BindHost,
		PortRangeLow:  cfg.Syslog.PortRangeLow,
		PortRangeHigh: cfg.Syslog.PortRangeHigh,
		LogStream:     cfg.Queue.LogStream,
		StreamMaxLen:  cfg.Queue.StreamMaxLen,
	}, repo, broker, filter)

	sup := supervisor.New(cfg.App.Name, []supervisor.Component{
		queuePinger{broker},
		udpListener,
	}, supervisor.WithAuditLogger(auditLogger))

	if err := sup.Run(ctx); err != nil {
		logger.Log.Error("supervisor run failed", "error", err)
		os.Exit(1)
	}
}

// buildAdmissionFilter reuses the shared CIDR allow-list from
// AdmissionConfig but scopes the allowed destination ports to the
// syslog listener's own port range rather than the HTTP receiver's
// ports in AdmissionConfig.AllowedPorts.
func buildAdmissionFilter(cfg config.AdmissionConfig, syslogCfg config.SyslogConfig) admission.Filter {
	filter := admission.NewUserspaceFilter()
	if !cfg.Enabled {
		filter.Passthrough(true)
		return filter
	}

	var rules []*domain.AdmissionRule
	for _, cidr := range cfg.AllowedCIDRs {
		rule, err := domain.ParseCIDR(cidr, 0, true)
		if err != nil {
			logger.Log.Warn("admission: skipping invalid CIDR", "cidr", cidr, "error", err)
			continue
		}
		rules = append(rules, rule)
	}

	var allowedPorts []int
	for port := syslogCfg.PortRangeLow; port <= syslogCfg.PortRangeHigh; port++ {
		allowedPorts = append(allowedPorts, port)
	}

	if err := filter.Install(rules, allowedPorts); err != nil {
		logger.Log.Error("admission: failed to install rules", "error", err)
	}
	filter.Passthrough(cfg.Passthrough)
	return filter
}

type queuePinger struct {
	broker queue.Broker
}

func (p queuePinger) Name() string { return "queue" }

func (p queuePinger) Start(ctx context.Context) error {
	return p.broker.Ping(ctx)
}

func (p queuePinger) Stop(ctx context.Context) error { return nil }
