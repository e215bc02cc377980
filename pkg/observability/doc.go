// Package observability provides logging, metrics, tracing, health probes
// and graceful shutdown for the billsync binaries.
//
// # Logging
//
// Loggers are logrus loggers configured by level and format. Request-scoped
// loggers travel in the context:
//
//	logger := observability.NewLogger("info", "json", os.Stdout)
//	ctx = observability.WithLogger(ctx, logger.WithField("event_id", id))
//	observability.FromContext(ctx, logger).Info("processing")
//
// FromContext adds request_id and, when a span is recording, trace_id and
// span_id.
//
// # Metrics
//
// Metrics registers Prometheus collectors for webhook processing, the
// idempotency ledger, audit drops and quota decisions. Every Record method
// is safe on a nil *Metrics.
//
// # Tracing
//
// InitOTel installs global OTLP trace and metric providers. Billing event
// processing and quota consumption open spans through the global tracer.
//
// # Health
//
// HealthChecker serves /health/live and /health/ready, the latter checking
// PostgreSQL and Redis when configured.
package observability
