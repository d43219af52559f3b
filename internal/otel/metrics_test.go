package otel

import (
	"context"
	"testing"
)

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	if cfg.Enabled {
		t.Error("expected metrics to be disabled by default")
	}
	if cfg.ExporterType != ExporterNone {
		t.Errorf("expected ExporterNone, got %v", cfg.ExporterType)
	}
}

func TestNewMetricsDisabled(t *testing.T) {
	ctx := context.Background()
	m, err := NewMetrics(ctx, DefaultMetricsConfig())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.Enabled() {
		t.Error("expected metrics to be disabled")
	}
	// recording against a disabled instance must not panic even though no
	// instruments were registered.
	m.RecordGeneratorStart(ctx, "cpu")
	m.RecordGeneratorStop(ctx, "cpu", true)
	m.RecordGeneratorToggle(ctx, "network", true)
	m.RecordBulkCreateRejection(ctx, "cpu")
	m.RecordTVLPStateTransition(ctx, "ready")
}

func TestNewMetricsStdoutExporter(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{Enabled: true, ServiceName: "openperfd-test", ExporterType: ExporterStdout}
	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if !m.Enabled() {
		t.Error("expected metrics to be enabled")
	}
	m.RecordGeneratorStart(ctx, "cpu")
	m.RecordGeneratorStop(ctx, "cpu", true)
}

func TestGlobalMetricsDefaultsToNoop(t *testing.T) {
	SetGlobalMetrics(nil)
	m := GetGlobalMetrics()
	if m == nil {
		t.Fatal("expected a non-nil no-op instance")
	}
	if m.Enabled() {
		t.Error("expected the default global instance to be disabled")
	}
}

func TestSetGlobalMetricsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, err := NewMetrics(ctx, &MetricsConfig{Enabled: true, ServiceName: "openperfd-test", ExporterType: ExporterStdout})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	SetGlobalMetrics(m)
	defer SetGlobalMetrics(nil)

	if GetGlobalMetrics() != m {
		t.Error("expected GetGlobalMetrics to return the instance just set")
	}
}
