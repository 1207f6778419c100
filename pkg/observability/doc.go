// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing.
//
// Every gatehouse component takes its *Logger and *Metrics from here; both are
// optional and a nil *Metrics records nothing.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("subject", sub).Info("Federated logout initiated")
//
// Request handlers take the request-scoped logger, which carries the request
// ID and, when tracing, the trace and span IDs:
//
//	observability.FromContext(r.Context()).WithError(err).Warn("Token refresh failed")
//
// Token values are never logged.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordRefresh("terminal", time.Since(start))
//	metrics.RecordGateDecision("/admin", "redirect_unauthorized")
//
// Record methods are safe on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddDependency("session_store", redisStore, true)
//	checker.AddDependency("identity_provider", probe, false)
//
// The identity provider is checked by a ProviderProbe on a cron schedule so
// readiness requests never wait on it.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "gatehouse",
//		SampleRatio: 0.1,
//	}, logger)
//	defer providers.Shutdown(ctx, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
