// Package observability provides logging setup, Prometheus metrics, health
// probes, OpenTelemetry tracing and graceful shutdown for the GD admin panel.
//
// # Logging
//
//	logger, err := observability.NewLogger("info", observability.FormatText, os.Stdout)
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// Domain counters include gdadmin_login_attempts_total,
// gdadmin_authz_denied_total and gdadmin_session_gc_runs_total.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version).
//		AddCheck("database", true, observability.DatabaseCheck(db.DB))
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers)
package observability
