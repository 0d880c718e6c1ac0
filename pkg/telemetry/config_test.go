package telemetry

import "testing"

// TestDefaultConfigIsValid tests that the defaults pass validation
func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

// TestConfigValidation tests rejection of inconsistent telemetry settings
func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an invalid log format to be rejected")
	}

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected otlp without an endpoint to be rejected")
	}

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an unknown exporter to be rejected")
	}

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected an out-of-range sampling rate to be rejected")
	}
}

// TestLoggerLevels tests that invalid levels fall back rather than fail
func TestLoggerLevels(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "error", "verbose", ""} {
		logger, err := NewLogger(LoggingConfig{Level: level, Output: "stderr"})
		if err != nil {
			t.Errorf("level %q: unexpected error: %v", level, err)
			continue
		}
		if logger == nil {
			t.Errorf("level %q: expected a logger", level)
		}
	}
}

// TestMetricsDisabled tests the no-op metrics instance
func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	// Recording on a disabled instance must be safe.
	m.RecordPass("detector", "succeeded", 0)
	m.RecordTransition("APPROVE_CREATE", "COMPLETED")
	m.RecordProviderCall("create", "applied", 0)
	m.RecordProviderError("create")
	m.RecordDriftDetection("modified")
	m.RecordInventoryAnomaly()
	m.RecordError("transient")
	m.SetRequestCount("COMPLETED", 1)

	if m.Handler() == nil {
		t.Error("expected a handler even when disabled")
	}
}
