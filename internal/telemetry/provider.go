// Package telemetry installs the OpenTelemetry tracer provider that the
// session's startup spans are exported through.
package telemetry

import (
	"context"

	"github.com/san-kum/sceneview/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Active reports whether cfg asks for spans to be exported.
func Active(cfg config.TracingConfig) bool {
	return cfg.Enabled && cfg.Endpoint != ""
}

// Setup registers a global tracer provider exporting over OTLP/HTTP to
// cfg.Endpoint. When tracing is not active the global provider stays the
// default no-op one and the returned Shutdown does nothing.
func Setup(ctx context.Context, cfg config.TracingConfig) (Shutdown, error) {
	if !Active(cfg) {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, err
	}

	service := cfg.ServiceName
	if service == "" {
		service = "sceneview"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
