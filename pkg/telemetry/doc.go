// Package telemetry provides observability instrumentation for the
// reconciler: structured logging (zerolog), Prometheus metrics, and
// OpenTelemetry tracing, configured from a single Config.
//
// The daemon initializes telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	logger, _ := telemetry.NewLogger(cfg.Logging)
//	metrics, _ := telemetry.NewMetrics(cfg.Metrics)
//	tracer, _ := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
//	defer tracer.Shutdown(context.Background())
package telemetry
