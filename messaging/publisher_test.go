package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashu3814/rabbitMQ-2/contracts"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, routingKey, msg)
	return args.Error(0)
}

func TestEventPublisher(t *testing.T) {
	event := contracts.OrderCreated{
		CustomerID:    "cust-1",
		CustomerEmail: "a@example.com",
		TotalAmount:   10,
		OrderID:       "ORD-1",
		CorrelationID: "corr-1",
	}

	t.Run("publishes persistent JSON on the events exchange", func(t *testing.T) {
		pub := &mockPublisher{}
		var sent amqp.Publishing
		pub.On("Publish", mock.Anything, contracts.EventsExchange, contracts.OrderCreatedKey, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(3).(amqp.Publishing) }).
			Return(nil)

		p := NewEventPublisher(pub, WithAppID("order-pipeline"))
		require.NoError(t, p.Publish(context.Background(), contracts.OrderCreatedKey, event.CorrelationID, event))

		pub.AssertExpectations(t)
		assert.Equal(t, "application/json", sent.ContentType)
		assert.Equal(t, amqp.Persistent, sent.DeliveryMode)
		assert.Equal(t, "corr-1", sent.CorrelationId)
		assert.Equal(t, contracts.OrderCreatedKey, sent.Type)
		assert.Equal(t, "order-pipeline", sent.AppId)
		assert.NotEmpty(t, sent.MessageId)
		assert.False(t, sent.Timestamp.IsZero())

		var decoded contracts.OrderCreated
		require.NoError(t, json.Unmarshal(sent.Body, &decoded))
		assert.Equal(t, event, decoded)
	})

	t.Run("custom exchange", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, "other", "k", mock.Anything).Return(nil)

		p := NewEventPublisher(pub, WithEventExchange("other"))
		require.NoError(t, p.Publish(context.Background(), "k", "", event))
		pub.AssertExpectations(t)
	})

	t.Run("publish failures are returned", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nacked"))

		err := NewEventPublisher(pub).Publish(context.Background(), contracts.OrderCreatedKey, "corr", event)
		assert.EqualError(t, err, "nacked")
	})

	t.Run("unmarshalable events fail before publishing", func(t *testing.T) {
		pub := &mockPublisher{}
		err := NewEventPublisher(pub).Publish(context.Background(), "k", "", make(chan int))
		assert.Error(t, err)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("trace context travels in the headers", func(t *testing.T) {
		prev := otel.GetTextMapPropagator()
		otel.SetTextMapPropagator(propagation.TraceContext{})
		defer otel.SetTextMapPropagator(prev)

		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()
		ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
		defer span.End()

		pub := &mockPublisher{}
		var sent amqp.Publishing
		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(3).(amqp.Publishing) }).
			Return(nil)

		require.NoError(t, NewEventPublisher(pub).Publish(ctx, contracts.OrderCreatedKey, "corr", event))

		traceparent, ok := sent.Headers["traceparent"].(string)
		require.True(t, ok)
		assert.Contains(t, traceparent, span.SpanContext().TraceID().String())

		extracted := ExtractTraceContext(context.Background(), sent.Headers)
		assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
	})
}

func TestHeaderCarrier(t *testing.T) {
	c := HeaderCarrier(amqp.Table{"bytes": []byte("b"), "num": 3})
	c.Set("key", "value")

	assert.Equal(t, "value", c.Get("key"))
	assert.Equal(t, "b", c.Get("bytes"))
	assert.Equal(t, "", c.Get("num"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"bytes", "num", "key"}, c.Keys())

	ctx := context.Background()
	assert.Equal(t, ctx, ExtractTraceContext(ctx, nil))
}
