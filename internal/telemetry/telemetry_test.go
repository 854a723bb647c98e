package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetup(t *testing.T) {
	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})

	t.Run("no endpoint installs a no-op provider", func(t *testing.T) {
		p, err := Setup(Config{ServiceName: "order-pipeline"})
		require.NoError(t, err)

		_, isSDK := p.TracerProvider().(*sdktrace.TracerProvider)
		assert.False(t, isSDK)
		assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
		assert.NoError(t, p.Shutdown(context.Background()))
	})

	t.Run("an endpoint installs the SDK provider", func(t *testing.T) {
		p, err := Setup(Config{JaegerEndpoint: "http://localhost:14268/api/traces", ServiceName: "order-pipeline"})
		require.NoError(t, err)

		_, isSDK := p.TracerProvider().(*sdktrace.TracerProvider)
		assert.True(t, isSDK)
		assert.NoError(t, p.Shutdown(context.Background()))
	})
}
