// Package tracing wraps OpenTelemetry span creation for the worker
// loop, sync epochs, and dispatch decisions (spec.md §5.A). Grounded
// directly on the teacher's internal/observability/telemetry.go:
// the same Init/Shutdown/Tracer provider bootstrap over
// otlptracehttp, reused almost verbatim since the concern (get spans
// out of a Go process onto an OTLP collector) is identical regardless
// of what the spans describe.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config is the tracing setup Init takes; cmd/phobosd fills it from the
// observability.tracing subsection of internal/lrsconfig.
type Config struct {
	Enabled    bool
	Endpoint   string // OTLP/HTTP collector address, e.g. localhost:4318
	SampleRate float64
}

type provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = &provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init wires the global tracer provider. With tracing disabled (the
// default), every span call below is a no-op.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		global = &provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("phobosd"),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing: build resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("tracing: create OTLP exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 && cfg.SampleRate >= 0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	global = &provider{tp: tp, tracer: tp.Tracer("phobosd"), enabled: true}
	return nil
}

// Shutdown flushes and closes the exporter, a no-op if tracing was
// never enabled.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Enabled reports whether Init configured a live exporter.
func Enabled() bool { return global.enabled }

// StartWorkerSpan opens a span for one worker loop turn (§4.C).
func StartWorkerSpan(ctx context.Context, device string) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, "worker.loop_turn",
		trace.WithAttributes(attribute.String("device.id", device)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartSyncEpochSpan opens a span for one sync epoch (§4.D).
func StartSyncEpochSpan(ctx context.Context, device string, entries int) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, "worker.sync_epoch",
		trace.WithAttributes(
			attribute.String("device.id", device),
			attribute.Int("sync.entries", entries),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartDispatchSpan opens a span for one dispatch assignment decision
// (§4.E).
func StartDispatchSpan(ctx context.Context, requestID string, kind string) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, "dispatch.assign",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("request.kind", kind),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndWithError records err on span (if non-nil) and ends it, the
// teacher's usual span-closing idiom.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
