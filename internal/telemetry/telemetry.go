// Package telemetry sets up OpenTelemetry tracing with a Jaeger exporter.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects the exporter
type Config struct {
	// JaegerEndpoint is the collector URL, e.g. http://jaeger:14268/api/traces.
	// Empty disables export.
	JaegerEndpoint string
	ServiceName    string
}

// Provider owns the tracer provider installed by Setup
type Provider struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
}

// Setup installs the global tracer provider and the W3C trace context
// propagator. Without an endpoint a no-op provider is installed, but
// propagation stays on so upstream trace ids still flow through the broker.
func Setup(cfg Config) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.JaegerEndpoint == "" {
		p := &Provider{
			provider: noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}
		otel.SetTracerProvider(p.provider)
		return p, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return &Provider{provider: tp, shutdown: tp.Shutdown}, nil
}

// TracerProvider returns the installed provider
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.provider
}

// Shutdown flushes pending spans
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
