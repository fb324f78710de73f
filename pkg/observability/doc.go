// Package observability provides structured logging, Prometheus metrics,
// health probes, and OpenTelemetry tracing for the admin panel.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("username", username).Warn("login rejected")
//
// Handlers derive a request-scoped logger with FromContext, which adds the
// request id and authenticated user id when present.
//
// # Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveLogin(observability.OutcomeLocked, elapsed)
//
// Metrics helpers are nil-safe so core services can run without a registry.
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	router.HandleFunc("/healthz", checker.Liveness)
//	router.HandleFunc("/readyz", checker.Readiness)
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//	ctx, span := observability.StartSpan(ctx, "auth.Authenticate")
package observability
