// Package otel exports generator and TVLP lifecycle events as OpenTelemetry
// metrics, adapted from the teacher's MCP-session metrics integration to
// OpenPerf's generator/module domain (SPEC_FULL.md §6.5's domain stack wiring).
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType names which metrics exporter a Metrics instance pushes to.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	OTLPEndpoint   string
	OTLPInsecure   bool
	Attributes     map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "openperfd",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps an OpenTelemetry meter with openperfd's generator/TVLP
// instruments.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.Mutex

	generatorsActive      metric.Int64UpDownCounter
	generatorStarts       metric.Int64Counter
	generatorStops        metric.Int64Counter
	generatorToggles      metric.Int64Counter
	bulkCreateRejections  metric.Int64Counter
	tvlpStateTransitions  metric.Int64Counter
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

func (m *Metrics) registerInstruments() error {
	var err error

	m.generatorsActive, err = m.meter.Int64UpDownCounter(
		"openperf.generators.active",
		metric.WithDescription("Number of currently running generators, by module"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active generators counter: %w", err)
	}

	m.generatorStarts, err = m.meter.Int64Counter(
		"openperf.generators.starts",
		metric.WithDescription("Count of generator start operations, by module"),
	)
	if err != nil {
		return fmt.Errorf("failed to create generator starts counter: %w", err)
	}

	m.generatorStops, err = m.meter.Int64Counter(
		"openperf.generators.stops",
		metric.WithDescription("Count of generator stop operations, by module"),
	)
	if err != nil {
		return fmt.Errorf("failed to create generator stops counter: %w", err)
	}

	m.generatorToggles, err = m.meter.Int64Counter(
		"openperf.generators.toggles",
		metric.WithDescription("Count of generator toggle operations, by module"),
	)
	if err != nil {
		return fmt.Errorf("failed to create generator toggles counter: %w", err)
	}

	m.bulkCreateRejections, err = m.meter.Int64Counter(
		"openperf.generators.bulk_create_rejections",
		metric.WithDescription("Count of bulk-create batches rejected for containing an invalid config"),
	)
	if err != nil {
		return fmt.Errorf("failed to create bulk-create rejections counter: %w", err)
	}

	m.tvlpStateTransitions, err = m.meter.Int64Counter(
		"openperf.tvlp.state_transitions",
		metric.WithDescription("Count of TVLP controller state transitions, by resulting state"),
	)
	if err != nil {
		return fmt.Errorf("failed to create tvlp state transitions counter: %w", err)
	}

	return nil
}

// RecordGeneratorStart records a successful Start against module.
func (m *Metrics) RecordGeneratorStart(ctx context.Context, module string) {
	if m.generatorStarts == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("module", module))
	m.generatorStarts.Add(ctx, 1, attrs)
	m.generatorsActive.Add(ctx, 1, attrs)
}

// RecordGeneratorStop records a successful Stop against module. wasRunning
// reports whether the generator was actually running (a no-op stop does not
// move the active gauge).
func (m *Metrics) RecordGeneratorStop(ctx context.Context, module string, wasRunning bool) {
	if m.generatorStops == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("module", module))
	m.generatorStops.Add(ctx, 1, attrs)
	if wasRunning {
		m.generatorsActive.Add(ctx, -1, attrs)
	}
}

// RecordGeneratorToggle records a successful Toggle against module.
// replacedRunning reports whether the old generator was actually running
// (so the active gauge reflects only a net handoff, not a double-count).
func (m *Metrics) RecordGeneratorToggle(ctx context.Context, module string, replacedRunning bool) {
	if m.generatorToggles == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("module", module))
	m.generatorToggles.Add(ctx, 1, attrs)
	if !replacedRunning {
		m.generatorsActive.Add(ctx, 1, attrs)
	}
}

// RecordBulkCreateRejection records a bulk-create batch rejected outright
// because one of its configs failed to decode.
func (m *Metrics) RecordBulkCreateRejection(ctx context.Context, module string) {
	if m.bulkCreateRejections == nil {
		return
	}
	m.bulkCreateRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("module", module)))
}

// RecordTVLPStateTransition records a TVLP controller settling into state.
func (m *Metrics) RecordTVLPStateTransition(ctx context.Context, state string) {
	if m.tvlpStateTransitions == nil {
		return
	}
	m.tvlpStateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending
// metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the process-wide metrics instance, matching the
// teacher's global-metrics singleton pattern.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the process-wide metrics instance, or a no-op
// instance if none has been set (e.g. in unit tests).
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}
	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing.
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
