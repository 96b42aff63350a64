// Package telemetry provides OpenTelemetry-based tracing and metrics for
// the PDP pipeline. Unlike a service-level observability provider it
// instruments a single call (Evaluate) rather than inbound HTTP traffic:
// the pipeline driver opens one span around the whole call and records
// decision and hit metrics; the individual stages get no spans of their
// own. Grounded on the teacher's
// pkg/observability/observability.go (provider lifecycle, RED-style
// counters, resource/sampler setup).
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the PDP's OpenTelemetry providers.
type Config struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string // e.g. "localhost:4317"
	SampleRate   float64
	BatchTimeout time.Duration
	Enabled      bool
	Insecure     bool
}

// DefaultConfig returns the PDP's out-of-the-box defaults: disabled, so
// embedding a Provider never requires a collector to be reachable.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:  "contractshield-pdp",
		Environment:  "development",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      false,
		Insecure:     true,
	}
}

// Provider holds the trace/metric providers and the PDP's own pipeline
// instruments: a decision counter (by action), a hit counter (by rule id
// and severity), and a per-evaluation duration histogram.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	decisionCounter metric.Int64Counter
	hitCounter      metric.Int64Counter
	evalDuration    metric.Float64Histogram
}

// New creates a Provider. With config.Enabled false (or config nil), it
// returns a no-op Provider: every method is safe to call unconditionally
// from the pipeline driver.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "telemetry"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "pdp telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("contractshield.component", "pdp"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("contractshield.pdp")
	p.meter = otel.Meter("contractshield.pdp")

	if err := p.initPipelineMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init pipeline metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "pdp telemetry initialized",
		"service", config.ServiceName, "endpoint", config.OTLPEndpoint, "sample_rate", config.SampleRate)

	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initPipelineMetrics() error {
	var err error

	p.decisionCounter, err = p.meter.Int64Counter("contractshield.decisions.total",
		metric.WithDescription("Total number of PDP decisions, by action"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}

	p.hitCounter, err = p.meter.Int64Counter("contractshield.rule_hits.total",
		metric.WithDescription("Total number of rule hits, by rule id and severity"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	p.evalDuration, err = p.meter.Float64Histogram("contractshield.evaluate.duration",
		metric.WithDescription("Evaluate() wall-clock duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	return err
}

// Shutdown flushes and stops the providers. Safe to call on a disabled
// (no-op) Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the pipeline tracer, falling back to the global tracer
// when telemetry is disabled or the Provider is nil (never nil itself).
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer("contractshield.pdp")
	}
	return p.tracer
}

// StartStage starts a span for one pipeline stage (spec §4.7). A nil
// Provider still returns a usable (no-op, unsampled) span via the global
// tracer, so callers never need to nil-check before instrumenting.
func (p *Provider) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "pdp.stage."+stage, trace.WithSpanKind(trace.SpanKindInternal))
}

// RecordDecision records one terminal Decision: action and the
// evaluation's wall-clock duration. No-op on a nil or disabled Provider.
func (p *Provider) RecordDecision(ctx context.Context, routeID, action string, duration time.Duration) {
	if p == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("route_id", routeID),
		attribute.String("action", action),
	}
	if p.decisionCounter != nil {
		p.decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.evalDuration != nil {
		p.evalDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordHit records one rule hit by id and severity. No-op on a nil or
// disabled Provider.
func (p *Provider) RecordHit(ctx context.Context, ruleID, severity string) {
	if p == nil || p.hitCounter == nil {
		return
	}
	p.hitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule_id", ruleID),
		attribute.String("severity", severity),
	))
}
