package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/rbacd/pkg/api"
	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/auth"
	"github.com/platinummonkey/rbacd/pkg/catalog"
	"github.com/platinummonkey/rbacd/pkg/config"
	"github.com/platinummonkey/rbacd/pkg/discovery"
	"github.com/platinummonkey/rbacd/pkg/events"
	"github.com/platinummonkey/rbacd/pkg/httputil"
	"github.com/platinummonkey/rbacd/pkg/middleware"
	"github.com/platinummonkey/rbacd/pkg/observability"
	"github.com/platinummonkey/rbacd/pkg/rbac"
	"github.com/platinummonkey/rbacd/pkg/seeder"
)

// app holds the wired service
type app struct {
	cfg    *config.Config
	logger *observability.Logger

	db       *sql.DB
	redis    *redis.Client
	store    *rbac.Store
	registry *prometheus.Registry
	metrics  *observability.Metrics

	recorder  *audit.Recorder
	archiver  *audit.S3Archiver
	outbox    *events.Outbox
	permCache rbac.PermissionCache
	routes    *rbac.RouteRequirements
	seeder    *seeder.Seeder
	server    *api.Server
	issuer    *auth.TokenIssuer
	limiter   *middleware.LocalLimiter
	jobs      *cron.Cron

	handler http.Handler
	health  http.Handler
}

// newApp opens every dependency and wires the admin API. Nothing runs
// until start.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	wired := false
	defer func() {
		if !wired {
			a.close()
		}
	}()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	if err := cat.Validate().Err(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	a.db, err = rbac.OpenDB(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Pool())
	if err != nil {
		return nil, err
	}
	a.store = rbac.NewStore(a.db)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	if cfg.Cache.RedisURL != "" {
		if a.redis, err = rbac.NewRedisClient(ctx, cfg.Cache.RedisURL); err != nil {
			return nil, err
		}
		a.permCache = rbac.NewRedisPermissionCache(a.redis, cfg.Cache.PermissionTTL, a.metrics)
	}

	var searcher api.AuditSearcher
	if searcher, err = a.openAudit(ctx); err != nil {
		return nil, err
	}

	a.outbox = events.NewOutbox(1024)
	a.outbox.OnDrop(func(kind events.Kind) {
		a.metrics.EventDropped(string(kind))
		a.logger.WithField("kind", string(kind)).Warn("event outbox full, event dropped")
	})
	a.routes = rbac.NewRouteRequirements(a.store, cfg.Cache.RouteCacheSize, cfg.Cache.RouteCacheTTL, a.metrics)
	resolver := rbac.NewResolver(a.store, a.permCache)

	registry := discovery.NewMuxRegistry(mux.NewRouter())
	a.seeder, err = seeder.New(a.store, seeder.Config{
		Catalog:   cat,
		Source:    registry,
		Overwrite: cfg.Catalog.Overwrite,
		Recorder:  a.recorder,
		Events:    a.outbox,
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.server = api.NewServer(registry, api.Dependencies{
		Access:      a.store,
		Users:       a.store,
		Accounts:    rbac.NewAccountService(a.store, a.store, a.recorder, a.outbox, a.metrics),
		Permissions: rbac.NewPermissionService(a.store, a.recorder, a.outbox),
		Resolver:    resolver,
		Seeder:      a.seeder,
		Audit:       searcher,
	})

	if a.issuer, err = auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL); err != nil {
		return nil, err
	}

	a.wireRouter(registry, rbac.NewChecker(a.routes, resolver, a.recorder, a.metrics))
	a.wireHealth()

	a.jobs = cron.New()
	if cfg.Jobs.ValidationSchedule != "" {
		if _, err := a.jobs.AddFunc(cfg.Jobs.ValidationSchedule, a.validateMappings); err != nil {
			return nil, fmt.Errorf("failed to schedule validation: %w", err)
		}
	}
	wired = true
	return a, nil
}

// openAudit builds the recorder over the configured sinks. The database
// sink is returned as the searcher when enabled.
func (a *app) openAudit(ctx context.Context) (api.AuditSearcher, error) {
	cfg := a.cfg.Audit
	var (
		sinks    []audit.Sink
		searcher api.AuditSearcher
	)

	if cfg.Database {
		dbSink, err := audit.NewDBSink(a.db)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, dbSink)
		searcher = dbSink
	}

	if cfg.FileDir != "" {
		fileCfg := audit.FileSinkConfig{Dir: cfg.FileDir, MaxSize: cfg.FileMaxSize, MaxFiles: cfg.FileMaxFiles}
		if cfg.S3.Bucket != "" {
			client, err := audit.NewS3Client(ctx, cfg.S3)
			if err != nil {
				return nil, err
			}
			a.archiver = audit.NewS3Archiver(client, cfg.S3)
			fileCfg.OnRotate = a.archiver.OnRotate
		}
		fileSink, err := audit.NewFileSink(fileCfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}

	a.recorder = audit.NewRecorder(audit.NewMultiSink(sinks...), a.metrics.AuditFailures())
	return searcher, nil
}

// wireRouter installs the route-level middleware on the admin router and
// wraps it with the request-level chain. Route-level middleware runs after
// gorilla/mux matched a route, so the authorizer sees the path template.
func (a *app) wireRouter(registry *discovery.MuxRegistry, checker *rbac.Checker) {
	router := a.server.Router()
	if a.cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(a.metrics))
	}
	router.Use(middleware.NewAuthMiddleware(a.issuer, true).Handler)

	if rl := a.cfg.RateLimit; rl.Enabled {
		limits := middleware.RateLimitConfig{
			RequestsPerWindow: rl.RequestsPerMinute,
			WindowDuration:    time.Minute,
			BurstSize:         rl.Burst,
		}
		var limiter middleware.Limiter
		if a.redis != nil {
			limiter = middleware.NewRedisLimiter(a.redis, limits, "rbacd:ratelimit:")
		} else {
			a.limiter = middleware.NewLocalLimiter(limits)
			limiter = a.limiter
		}
		router.Use(middleware.RateLimit(limiter, limits))
	}

	router.Use(middleware.NewAuthorizer(checker, a.store, registry).Handler)

	chain := httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware(a.logger),
		httputil.LoggingMiddleware,
		httputil.MaxBytesMiddleware(a.cfg.Server.MaxBodyBytes),
	)
	a.handler = otelhttp.NewHandler(chain(a.server), "rbacd.admin")
}

// wireHealth builds the probe and metrics router served on the health port
func (a *app) wireHealth() {
	checker := observability.NewHealthChecker(a.db, a.redis).WithVersion(version)
	checker.AddCheck("access_control", false, func(ctx context.Context) error {
		report := a.seeder.HealthCheck(ctx)
		if report.Healthy() {
			return nil
		}
		var errs []error
		for name, check := range report.Checks {
			if check.Status != seeder.StatusHealthy {
				errs = append(errs, fmt.Errorf("%s: %s", name, check.Message))
			}
		}
		return errors.Join(errs...)
	})

	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if a.cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, a.registry)
	}
	a.health = router
}

// seed runs SeedAll once the admin routes are registered
func (a *app) seed(ctx context.Context) error {
	summary, err := a.seeder.SeedAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed access control: %w", err)
	}
	if len(summary.Warnings) > 0 {
		a.logger.WithField("warnings", len(summary.Warnings)).Warn("seeding finished with warnings")
	}
	return nil
}

// validateMappings is the scheduled drift check
func (a *app) validateMappings() {
	ctx := observability.WithLogger(context.Background(), a.logger)
	result, err := a.seeder.ValidateRouteMappings(ctx)
	if err != nil {
		a.logger.WithError(err).Error("route mapping validation failed")
		return
	}
	if result.Valid {
		a.logger.Debug("route mappings are valid")
		return
	}
	for _, issue := range result.Issues {
		a.logger.WithFields(map[string]interface{}{
			"kind":   issue.Kind,
			"method": issue.Method,
			"path":   issue.Path,
		}).Warn(issue.Message)
	}
}

// start launches the background workers. They stop when ctx is done.
func (a *app) start(ctx context.Context) {
	invalidate := rbac.CacheInvalidator(a.permCache, a.routes)
	observability.Go(a.logger, "event outbox", func() { a.outbox.Run(ctx, invalidate) })

	if a.archiver != nil {
		observability.Go(a.logger, "audit archiver", func() { a.archiver.Run(ctx) })
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(ctx)
	}

	observability.Go(a.logger, "db stats", func() {
		ticker := time.NewTicker(a.cfg.Jobs.DBStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.metrics.RecordDBStats(a.db.Stats())
			}
		}
	})

	a.jobs.Start()
}

// httpServers returns the admin and health servers
func (a *app) httpServers() (*http.Server, *http.Server) {
	s := a.cfg.Server
	admin := &http.Server{
		Addr:         net.JoinHostPort(s.Host, s.Port),
		Handler:      a.handler,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		IdleTimeout:  s.IdleTimeout,
	}
	health := &http.Server{
		Addr:         net.JoinHostPort(s.Host, s.HealthPort),
		Handler:      a.health,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return admin, health
}

// registerShutdown adds the teardown hooks. Hooks run in reverse order, so
// the database closes last.
func (a *app) registerShutdown(sm *observability.ShutdownManager, health *http.Server, stop context.CancelFunc) {
	sm.Register("database", func(context.Context) error { return a.db.Close() })
	if a.redis != nil {
		sm.Register("redis", func(context.Context) error { return a.redis.Close() })
	}
	sm.Register("audit", func(context.Context) error { return a.recorder.Close() })
	sm.Register("event outbox", func(context.Context) error {
		a.outbox.Close()
		return nil
	})
	sm.Register("background workers", func(context.Context) error {
		stop()
		return nil
	})
	sm.Register("scheduled jobs", func(ctx context.Context) error {
		select {
		case <-a.jobs.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	sm.Register("health server", health.Shutdown)
}

// close releases whatever newApp opened before failing
func (a *app) close() {
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
