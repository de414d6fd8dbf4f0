// Package telemetry wires OpenTelemetry tracing and metrics for analysis jobs.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "verifai"

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
}

// Provider wires tracer/meter providers and exposes job-level helpers. A nil
// *Provider is valid and records nothing.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	jobsCounter       metric.Int64Counter
	jobDuration       metric.Float64Histogram
	inferenceDuration metric.Float64Histogram
	inferenceCounter  metric.Int64Counter
	deliveryCounter   metric.Int64Counter

	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// NewNoop returns a provider backed by no-op tracer and meter providers.
func NewNoop() *Provider {
	p := &Provider{
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  metricnoop.NewMeterProvider().Meter(""),
	}
	p.initInstruments()
	return p
}

// NewProvider configures OTLP exporters and providers. When disabled it
// returns a no-op provider.
func NewProvider(ctx context.Context, cfg Config, logger zerolog.Logger) (*Provider, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}
	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	logger.Info().
		Str("protocol", protocol).
		Str("endpoint", cfg.Endpoint).
		Msg("telemetry enabled (OpenTelemetry OTLP)")

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var (
		traceExp  sdktrace.SpanExporter
		metricExp sdkmetric.Exporter
	)
	switch protocol {
	case "", "grpc":
		if traceExp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()); err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		if metricExp, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure()); err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
	case "http":
		if traceExp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()); err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		if metricExp, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure()); err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("telemetry: unsupported protocol %q", cfg.Protocol)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:               true,
		tracer:                tp.Tracer(instrumentationName),
		meter:                 mp.Meter(instrumentationName),
		shutdownTraceProvider: tp.Shutdown,
		shutdownMeterProvider: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

func (p *Provider) initInstruments() {
	// Instrument errors are ignored; telemetry is best-effort.
	p.jobsCounter, _ = p.meter.Int64Counter("verifai_jobs_total")
	p.jobDuration, _ = p.meter.Float64Histogram("verifai_job_duration_ms")
	p.inferenceDuration, _ = p.meter.Float64Histogram("verifai_inference_duration_ms")
	p.inferenceCounter, _ = p.meter.Int64Counter("verifai_inference_total")
	p.deliveryCounter, _ = p.meter.Int64Counter("verifai_callback_deliveries_total")
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// StartSpan starts a span named name with the given attributes.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordJob counts a finished job by outcome status.
func (p *Provider) RecordJob(ctx context.Context, status string, elapsed time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("verifai.status", status))
	p.jobsCounter.Add(ctx, 1, attrs)
	p.jobDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordInference records one detector run.
func (p *Provider) RecordInference(ctx context.Context, ok bool, elapsed time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("verifai.scored", ok))
	p.inferenceCounter.Add(ctx, 1, attrs)
	p.inferenceDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordDelivery counts one callback attempt.
func (p *Provider) RecordDelivery(ctx context.Context, kind string, ok bool) {
	if p == nil {
		return
	}
	p.deliveryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verifai.payload", kind),
		attribute.Bool("verifai.delivered", ok),
	))
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.shutdownTraceProvider != nil {
		_ = p.shutdownTraceProvider(ctx)
	}
	if p.shutdownMeterProvider != nil {
		_ = p.shutdownMeterProvider(ctx)
	}
}
