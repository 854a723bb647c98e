package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/internal/reliability"
)

func testRequest() CreateOrderRequest {
	return CreateOrderRequest{
		CustomerID:    "cust-1",
		CustomerEmail: "jane@example.com",
		Items:         []contracts.Item{{ProductID: "P1", Quantity: 1, Price: 9.5}},
		TotalAmount:   9.5,
	}
}

func TestOrderService(t *testing.T) {
	t.Run("publishes order.created with fresh ids", func(t *testing.T) {
		pub := &mockEventPublisher{}
		var sent *contracts.OrderCreated
		pub.On("Publish", mock.Anything, contracts.OrderCreatedKey, mock.AnythingOfType("string"), mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(3).(*contracts.OrderCreated) }).
			Return(nil)

		var observed []error
		svc := NewOrderService(pub, WithPublishObserver(func(err error) { observed = append(observed, err) }))

		event, err := svc.CreateOrder(context.Background(), testRequest())
		require.NoError(t, err)
		pub.AssertExpectations(t)

		assert.Same(t, event, sent)
		assert.Regexp(t, regexp.MustCompile(`^ORD-[0-9A-Z]{9}$`), event.OrderID)
		_, err = uuid.Parse(event.CorrelationID)
		assert.NoError(t, err)
		_, err = time.Parse(contracts.TimestampLayout, event.Timestamp)
		assert.NoError(t, err)
		assert.Equal(t, "cust-1", event.CustomerID)
		assert.Equal(t, 9.5, event.TotalAmount)
		assert.Equal(t, []error{nil}, observed)

		pub.AssertCalled(t, "Publish", mock.Anything, contracts.OrderCreatedKey, event.CorrelationID, event)
	})

	t.Run("publish failure is returned", func(t *testing.T) {
		pub := &mockEventPublisher{}
		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

		var observed []error
		svc := NewOrderService(pub, WithPublishObserver(func(err error) { observed = append(observed, err) }))

		event, err := svc.CreateOrder(context.Background(), testRequest())
		assert.Nil(t, event)
		assert.ErrorIs(t, err, ErrOrderPublishFailed)
		assert.ErrorContains(t, err, "broker down")
		require.Len(t, observed, 1)
		assert.Error(t, observed[0])
	})

	t.Run("open breaker fails fast", func(t *testing.T) {
		pub := &mockEventPublisher{}
		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

		breaker := reliability.NewCircuitBreaker(
			reliability.WithName("order-publish"),
			reliability.WithFailureThreshold(2),
			reliability.WithTimeout(time.Minute))
		svc := NewOrderService(pub, WithBreaker(breaker))

		for i := 0; i < 2; i++ {
			_, err := svc.CreateOrder(context.Background(), testRequest())
			require.Error(t, err)
		}
		assert.Equal(t, reliability.StateOpen, breaker.State())

		_, err := svc.CreateOrder(context.Background(), testRequest())
		assert.ErrorIs(t, err, reliability.ErrCircuitOpen)
		pub.AssertNumberOfCalls(t, "Publish", 2)
	})
}
