// Package telemetry wires an OpenTelemetry tracer provider for the
// orchestrator. One span is opened per trace (the goal run) in the engine,
// with child spans for each step execution and each reviewer call, so a
// trace in the configured OTLP backend mirrors the event timeline emitted
// over the Stream API.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/weavecore/orchestrator/internal/config"
)

// Provider wraps the SDK tracer provider so callers can shut it down
// cleanly on process exit.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds a tracer provider from the telemetry config section.
// When telemetry is disabled it still returns a usable Provider backed by
// a no-op SDK provider, so call sites never need a nil check.
func NewProvider(ctx context.Context, cfg config.Telemetry) (*Provider, error) {
	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider()
		return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	fraction := cfg.SampleFraction
	if fraction <= 0 {
		fraction = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(fraction)),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

// Tracer returns the tracer used to open trace/step/reviewer spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// StartTrace opens the root span for a goal run, tagged with the trace id.
func (p *Provider) StartTrace(ctx context.Context, traceID, goal string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "orchestrator.trace",
		trace.WithAttributes(
			attribute.String("trace_id", traceID),
			attribute.String("goal", goal),
		),
	)
}

// StartStep opens a child span for a single step execution attempt.
func (p *Provider) StartStep(ctx context.Context, stepID int, stepName string, attempt int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "orchestrator.step",
		trace.WithAttributes(
			attribute.Int("step_id", stepID),
			attribute.String("step_name", stepName),
			attribute.Int("attempt", attempt),
		),
	)
}

// StartReview opens a child span for a reviewer call against a step.
func (p *Provider) StartReview(ctx context.Context, stepID int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "orchestrator.review",
		trace.WithAttributes(attribute.Int("step_id", stepID)),
	)
}

// Shutdown flushes any buffered spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}
