// Package tracing provides optional OpenTelemetry spans; its callers are the
// HTTP middleware and some database repository calls. It is a no-op unless
// OTEL_EXPORTER_OTLP_ENDPOINT is set.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Init configures the global TracerProvider when OTEL_EXPORTER_OTLP_ENDPOINT
// is set; otherwise it leaves the SDK's no-op provider in place. The returned
// shutdown func must be called on daemon exit.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns a named tracer from the global provider (a no-op tracer
// when Init was never called or tracing is disabled).
func Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}
