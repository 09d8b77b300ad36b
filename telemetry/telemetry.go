// Package telemetry wires the OpenTelemetry SDK for embedders: OTLP gRPC
// exporters for traces and metrics, registered as the process-global
// providers that the library's tracers resolve against. Disabled config
// keeps the globals noop and touches no network.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/BaSui01/swarmflow/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Providers owns the SDK provider pair created by Setup. The zero value
// (and a disabled Setup result) is inert: Shutdown is a no-op and Tracer
// returns the global (noop) tracer.
type Providers struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	logger  *zap.Logger
}

// Setup initializes the OTel SDK from cfg and installs the resulting
// providers as the process globals. Endpoint and service name fall back
// to the config defaults; the sample rate is clamped into [0, 1].
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "telemetry"))

	if !cfg.Enabled {
		logger.Info("telemetry disabled, globals stay noop")
		return &Providers{logger: logger}, nil
	}
	normalize(&cfg)

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(moduleVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	spanExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("build span exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("build metric exporter: %w", err)
	}

	p := &Providers{
		traces: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		),
		metrics: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
			sdkmetric.WithResource(res),
		),
		logger: logger,
	}

	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.metrics)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return p, nil
}

// normalize fills missing endpoint/service fields from the defaults and
// clamps the sample rate into [0, 1].
func normalize(cfg *config.TelemetryConfig) {
	def := config.DefaultTelemetryConfig()
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = def.OTLPEndpoint
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = def.ServiceName
	}
	if cfg.SampleRate < 0 {
		cfg.SampleRate = 0
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
}

// Tracer returns a tracer from the configured provider, or the global
// (noop when disabled) provider on an inert Providers.
func (p *Providers) Tracer(name string) trace.Tracer {
	if p == nil || p.traces == nil {
		return otel.Tracer(name)
	}
	return p.traces.Tracer(name)
}

// Enabled reports whether Setup created real SDK providers.
func (p *Providers) Enabled() bool {
	return p != nil && p.traces != nil
}

// Shutdown flushes buffered spans and metrics and closes the exporters.
// Inert Providers shut down cleanly.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	if p.logger != nil && len(errs) == 0 {
		p.logger.Info("telemetry shut down")
	}
	return errors.Join(errs...)
}

// moduleVersion reads the embedding binary's module version, "dev" when
// built outside a module context.
func moduleVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
