// Command receiver-svc runs the log (C4) and metric (C5) HTTP ingestion
// endpoints: admission filtering, auth, per-tier rate limiting, and
// enqueueing accepted records onto the queue broker (C7).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"ingestpipe/pkg/admission"
	"ingestpipe/pkg/audit"
	"ingestpipe/pkg/bearer"
	"ingestpipe/pkg/cache"
	"ingestpipe/pkg/catalogue"
	"ingestpipe/pkg/config"
	"ingestpipe/pkg/database"
	"ingestpipe/pkg/domain"
	"ingestpipe/pkg/logger"
	"ingestpipe/pkg/metrics"
	"ingestpipe/pkg/queue"
	"ingestpipe/pkg/ratelimit"
	"ingestpipe/pkg/supervisor"
	"ingestpipe/pkg/telemetry"
	"ingestpipe/services/receiver-svc/internal/handlers"
	"ingestpipe/services/receiver-svc/internal/middleware"
	"ingestpipe/services/receiver-svc/internal/server"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("receiver-svc", 8080)
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

	if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, catalogue.Migrations(), catalogue.MigrationsDir); err != nil {
		logger.Log.Error("catalogue migration failed", "error", err)
		os.Exit(1)
	}

	sourceCache, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		logger.Log.Error("catalogue cache init failed", "error", err)
		os.Exit(1)
	}
	defer sourceCache.Close()

	repo := catalogue.NewPostgresRepository(db)
	resolver := catalogue.NewCachedResolver(repo, sourceCache, cfg.Cache.DefaultTTL)

	bearerMgr := bearer.NewManager(&bearer.Config{
		SecretKey:   cfg.Auth.SecretKey,
		TokenExpiry: cfg.Auth.TokenExpiry,
		Issuer:      cfg.Auth.Issuer,
	})

	tierRegistry := ratelimit.NewTierRegistry(cfg.RateLimit)
	tieredLimiter := ratelimit.NewTieredLimiter(tierRegistry)
	defer tieredLimiter.Close()

	clientLimiter, err := ratelimit.NewClientLimiter(cfg.RateLimit)
	if err != nil {
		logger.Log.Error("failed to build client rate limiter", "error", err)
		os.Exit(1)
	}
	defer clientLimiter.Close()

	filter := buildAdmissionFilter(cfg.Admission)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/logs", chain("log-ingest", "/api/v1/logs",
		handlers.LogIngest(broker, cfg.Queue.LogStream, cfg.Queue.StreamMaxLen),
		cfg, resolver, bearerMgr, tieredLimiter, clientLimiter, auditLogger))
	mux.Handle("/api/v1/metrics", chain("metric-ingest", "/api/v1/metrics",
		handlers.MetricIngest(broker, cfg.Queue.MetricStream, cfg.Queue.StreamMaxLen),
		cfg, resolver, bearerMgr, tieredLimiter, clientLimiter, auditLogger))
	mux.Handle("/healthz", handlers.Health(broker))
	mux.Handle("/readyz", handlers.Ready())
	mux.Handle(cfg.Metrics.Path, metrics.Handler())

	httpServer := server.New(cfg.HTTP, cfg.TLS, mux, filter)

	sup := supervisor.New(cfg.App.Name, []supervisor.Component{
		queuePinger{broker},
		httpServer,
	}, supervisor.WithAuditLogger(auditLogger))

	if err := sup.Run(ctx); err != nil {
		logger.Log.Error("supervisor run failed", "error", err)
		os.Exit(1)
	}
}

// chain wraps a terminal ingest handler with the shared request middleware:
// tracing, access logging, CORS, auth, and per-tier rate limiting.
func chain(receiver, route string, h http.Handler, cfg *config.Config, resolver catalogue.Resolver, bearerMgr *bearer.Manager, limiter *ratelimit.TieredLimiter, clientLimiter ratelimit.Limiter, auditLogger audit.Logger) http.Handler {
	wrapped := h
	wrapped = middleware.RateLimit(limiter, clientLimiter, auditLogger)(wrapped)
	wrapped = middleware.Auth(resolver, bearerMgr, auditLogger)(wrapped)
	wrapped = middleware.CORS(cfg.HTTP.CORS)(wrapped)
	wrapped = middleware.AccessLog(receiver, route)(wrapped)
	wrapped = telemetry.HTTPMiddleware(route)(wrapped)
	return wrapped
}

func buildAdmissionFilter(cfg config.AdmissionConfig) admission.Filter {
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
	if err := filter.Install(rules, cfg.AllowedPorts); err != nil {
		logger.Log.Error("admission: failed to install rules", "error", err)
	}
	filter.Passthrough(cfg.Passthrough)
	return filter
}

// queuePinger is the "queue reachable" step the supervisor starts before
// the HTTP listener begins accepting requests.
type queuePinger struct {
	broker queue.Broker
}

func (p queuePinger) Name() string { return "queue" }

func (p queuePinger) Start(ctx context.Context) error {
	return p.broker.Ping(ctx)
}

func (p queuePinger) Stop(ctx context.Context) error { return nil }
