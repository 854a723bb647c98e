package rabbitmq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq/rabbitmqtest"
)

func newPublisherBroker(t *testing.T) (*rabbitmqtest.Broker, *rabbitmq.ChannelPool) {
	t.Helper()
	broker := rabbitmqtest.NewBroker()
	pool := newPool(t, broker)
	require.NoError(t, rabbitmq.NewTopologyManager(pool).Declare(context.Background(), sampleTopology(60000)))
	return broker, pool
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("publish waits for the confirm and routes the message", func(t *testing.T) {
		broker, pool := newPublisherBroker(t)
		publisher := rabbitmq.NewPublisher(pool)

		err := publisher.Publish(ctx, "events", "order.created", amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(`{"orderId":"ORD-1"}`),
		})
		require.NoError(t, err)

		msgs := broker.Messages("delayed")
		require.Len(t, msgs, 1)
		assert.Equal(t, "order.created", msgs[0].RoutingKey)
		assert.Equal(t, amqp.Persistent, msgs[0].DeliveryMode)
	})

	t.Run("publish to the default exchange targets the queue by name", func(t *testing.T) {
		broker, pool := newPublisherBroker(t)
		publisher := rabbitmq.NewPublisher(pool)

		require.NoError(t, publisher.Publish(ctx, "", "delayed", amqp.Publishing{Body: []byte("direct")}))
		assert.Equal(t, 1, broker.Depth("delayed"))
	})

	t.Run("nacked publish is retried and then reported", func(t *testing.T) {
		broker, pool := newPublisherBroker(t)
		attempts := 0
		broker.SetPublishHook(func(string, string, amqp.Publishing) error {
			attempts++
			return errors.New("disk alarm")
		})

		publisher := rabbitmq.NewPublisher(pool,
			rabbitmq.WithPublishRetries(2),
			rabbitmq.WithPublishRetryDelay(time.Millisecond))
		err := publisher.Publish(ctx, "events", "order.created", amqp.Publishing{})

		var pubErr *rabbitmq.PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.Equal(t, "events", pubErr.Exchange)
		assert.ErrorIs(t, err, rabbitmq.ErrPublishNotConfirmed)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, 0, broker.Depth("delayed"))
	})

	t.Run("transient nack succeeds on retry", func(t *testing.T) {
		broker, pool := newPublisherBroker(t)
		attempts := 0
		broker.SetPublishHook(func(string, string, amqp.Publishing) error {
			attempts++
			if attempts == 1 {
				return errors.New("flow control")
			}
			return nil
		})

		publisher := rabbitmq.NewPublisher(pool, rabbitmq.WithPublishRetryDelay(time.Millisecond))
		require.NoError(t, publisher.Publish(ctx, "events", "order.created", amqp.Publishing{}))
		assert.Equal(t, 2, attempts)
		assert.Equal(t, 1, broker.Depth("delayed"))
	})

	t.Run("mandatory unroutable publish fails without retry", func(t *testing.T) {
		broker, pool := newPublisherBroker(t)
		attempts := 0
		broker.SetPublishHook(func(string, string, amqp.Publishing) error {
			attempts++
			return nil
		})
		publisher := rabbitmq.NewPublisher(pool,
			rabbitmq.WithMandatory(true),
			rabbitmq.WithPublishRetries(3),
			rabbitmq.WithPublishRetryDelay(time.Millisecond))

		err := publisher.Publish(ctx, "events", "nobody.listens", amqp.Publishing{})
		assert.ErrorIs(t, err, rabbitmq.ErrMandatoryFailed)
		assert.Equal(t, 1, attempts)
	})

	t.Run("unknown exchange fails", func(t *testing.T) {
		_, pool := newPublisherBroker(t)
		publisher := rabbitmq.NewPublisher(pool,
			rabbitmq.WithPublishRetries(0))

		err := publisher.Publish(ctx, "missing", "key", amqp.Publishing{})
		var pubErr *rabbitmq.PublishError
		assert.ErrorAs(t, err, &pubErr)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		broker, pool := newPublisherBroker(t)
		broker.SetPublishHook(func(string, string, amqp.Publishing) error { return errors.New("nack") })

		publisher := rabbitmq.NewPublisher(pool,
			rabbitmq.WithPublishRetries(10),
			rabbitmq.WithPublishRetryDelay(time.Second))

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := publisher.Publish(cctx, "events", "order.created", amqp.Publishing{})
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})
}
