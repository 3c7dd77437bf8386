// Package observability carries the ambient concerns of rbacd: structured
// JSON logging, Prometheus metrics, health probes, OpenTelemetry tracing and
// graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	ctx = observability.WithLogger(ctx, logger.WithField("component", "seeder"))
//	observability.FromContext(ctx).Info("seed complete")
//
// FromContext attaches the request and user ids stored in the context.
//
// # Metrics
//
// NewMetrics registers the access-control collectors (permission decisions,
// guard denials, seeding outcomes, cache hit ratios, connection pool stats)
// on the given registerer. RegisterMetricsEndpoint exposes them at /metrics.
//
// # Health
//
// HealthChecker backs /health/live and /health/ready. Database and critical
// checks make the service unhealthy; Redis and non-critical checks degrade it.
//
// # Shutdown
//
// ShutdownManager stops the HTTP server and then runs hooks in reverse
// registration order, so resources opened first are closed last.
package observability
