package reliability

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
)

type mockParker struct {
	mock.Mock
}

func (m *mockParker) Park(ctx context.Context, sourceQueue string, d amqp.Delivery, cause error) error {
	args := m.Called(ctx, sourceQueue, d, cause)
	return args.Error(0)
}

type mockRetryObserver struct {
	mock.Mock
}

func (m *mockRetryObserver) RetryScheduled(queue string, attempt int) { m.Called(queue, attempt) }
func (m *mockRetryObserver) MessageParked(queue string)               { m.Called(queue) }
func (m *mockRetryObserver) ParkFailed(queue string)                  { m.Called(queue) }

func deliveryWithDeaths(count interface{}) amqp.Delivery {
	d := amqp.Delivery{MessageId: "msg-1", Body: []byte(`{}`)}
	if count != nil {
		d.Headers = amqp.Table{"x-death": []interface{}{amqp.Table{"count": count, "queue": "retry", "reason": "expired"}}}
	}
	return d
}

func TestRetryControllerDecide(t *testing.T) {
	c := NewRetryController("shipping", &mockParker{})
	assert.Equal(t, DefaultMaxRetries, c.MaxRetries())

	for n, want := range map[int]Decision{0: DecisionRetry, 1: DecisionRetry, 2: DecisionRetry, 3: DecisionPark, 7: DecisionPark} {
		assert.Equal(t, want, c.Decide(n), "n=%d", n)
	}

	t.Run("zero retries parks immediately", func(t *testing.T) {
		c := NewRetryController("shipping", &mockParker{}, WithMaxRetries(0))
		assert.Equal(t, DecisionPark, c.Decide(0))
	})

	t.Run("negative limit is ignored", func(t *testing.T) {
		c := NewRetryController("shipping", &mockParker{}, WithMaxRetries(-1))
		assert.Equal(t, DefaultMaxRetries, c.MaxRetries())
	})

	assert.Equal(t, "retry", DecisionRetry.String())
	assert.Equal(t, "park", DecisionPark.String())
}

func TestRetryControllerOnFailure(t *testing.T) {
	ctx := context.Background()
	handlerErr := errors.New("carrier unavailable")

	t.Run("below the limit the delivery is rejected", func(t *testing.T) {
		for _, count := range []interface{}{nil, int64(1), int32(2), float64(2)} {
			parker := &mockParker{}
			observer := &mockRetryObserver{}
			observer.On("RetryScheduled", "shipping", mock.AnythingOfType("int")).Return()

			c := NewRetryController("shipping", parker, WithRetryObserver(observer))
			assert.Equal(t, rabbitmq.DispositionReject, c.OnFailure(ctx, deliveryWithDeaths(count), handlerErr))

			parker.AssertNotCalled(t, "Park", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			observer.AssertExpectations(t)
		}
	})

	t.Run("the retry attempt number is reported", func(t *testing.T) {
		observer := &mockRetryObserver{}
		observer.On("RetryScheduled", "shipping", 3).Return()

		c := NewRetryController("shipping", &mockParker{}, WithRetryObserver(observer))
		c.OnFailure(ctx, deliveryWithDeaths(int64(2)), handlerErr)
		observer.AssertExpectations(t)
	})

	t.Run("at the limit the delivery is parked and acked", func(t *testing.T) {
		d := deliveryWithDeaths(int64(3))
		parker := &mockParker{}
		parker.On("Park", mock.Anything, "shipping", d, handlerErr).Return(nil)
		observer := &mockRetryObserver{}
		observer.On("MessageParked", "shipping").Return()

		c := NewRetryController("shipping", parker, WithRetryObserver(observer))
		assert.Equal(t, rabbitmq.DispositionAck, c.OnFailure(ctx, d, handlerErr))

		parker.AssertExpectations(t)
		observer.AssertExpectations(t)
	})

	t.Run("a failed park rejects so the message is not lost", func(t *testing.T) {
		parker := &mockParker{}
		parker.On("Park", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&ParkError{Err: errors.New("nack")})
		observer := &mockRetryObserver{}
		observer.On("ParkFailed", "shipping").Return()

		c := NewRetryController("shipping", parker, WithRetryObserver(observer))
		assert.Equal(t, rabbitmq.DispositionReject, c.OnFailure(ctx, deliveryWithDeaths(int64(5)), handlerErr))
		observer.AssertExpectations(t)
	})
}
