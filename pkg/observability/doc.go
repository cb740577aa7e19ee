// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for the SSO service.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org", slug).Info("access resolved")
//
// Request-scoped logging:
//
//	observability.FromContext(r.Context()).WithError(err).Error("login failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ProviderRequestsTotal.WithLabelValues("exchange_code", "200").Inc()
//	metrics.CacheHitsTotal.WithLabelValues("org_access").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "consolesso",
//	}, logger)
//	defer shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
