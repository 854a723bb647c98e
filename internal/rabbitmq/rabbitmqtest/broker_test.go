package rabbitmqtest

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openChannel(t *testing.T, b *Broker) *Channel {
	t.Helper()
	ch, err := b.OpenChannel()
	require.NoError(t, err)
	return ch.(*Channel)
}

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"order.created", "order.created", true},
		{"order.created", "order.cancelled", false},
		{"payment.processed.*", "payment.processed.successful", true},
		{"payment.processed.*", "payment.processed.failed", true},
		{"payment.processed.*", "payment.processed", false},
		{"payment.processed.*", "payment.processed.a.b", false},
		{"payment.#", "payment", true},
		{"payment.#", "payment.processed.successful", true},
		{"#", "anything.at.all", true},
		{"*.created", "order.created", true},
		{"#.failed", "payment.processed.failed", true},
	}

	for _, tc := range cases {
		t.Run(tc.pattern+"/"+tc.key, func(t *testing.T) {
			assert.Equal(t, tc.want, matches(amqp.ExchangeTopic, tc.pattern, tc.key))
		})
	}
}

func TestBrokerDeclarations(t *testing.T) {
	t.Run("redeclaring an identical queue is a no-op", func(t *testing.T) {
		b := NewBroker()
		ch := openChannel(t, b)

		args := amqp.Table{"x-message-ttl": int32(30000)}
		_, err := ch.QueueDeclare("q", true, false, false, false, args)
		require.NoError(t, err)
		_, err = ch.QueueDeclare("q", true, false, false, false, amqp.Table{"x-message-ttl": int64(30000)})
		require.NoError(t, err)
		assert.False(t, ch.IsClosed())
	})

	t.Run("redeclaring with different arguments fails and closes the channel", func(t *testing.T) {
		b := NewBroker()
		ch := openChannel(t, b)

		_, err := ch.QueueDeclare("q", true, false, false, false, amqp.Table{"x-message-ttl": int32(30000)})
		require.NoError(t, err)
		_, err = ch.QueueDeclare("q", true, false, false, false, amqp.Table{"x-message-ttl": int32(1000)})

		var amqpErr *amqp.Error
		require.ErrorAs(t, err, &amqpErr)
		assert.Equal(t, amqp.PreconditionFailed, amqpErr.Code)
		assert.True(t, ch.IsClosed())
	})

	t.Run("exchange type mismatch fails", func(t *testing.T) {
		b := NewBroker()
		ch := openChannel(t, b)

		require.NoError(t, ch.ExchangeDeclare("ex", amqp.ExchangeTopic, true, false, false, false, nil))
		err := ch.ExchangeDeclare("ex", amqp.ExchangeDirect, true, false, false, false, nil)

		var amqpErr *amqp.Error
		require.ErrorAs(t, err, &amqpErr)
		assert.Equal(t, amqp.PreconditionFailed, amqpErr.Code)
	})

	t.Run("binding to a missing exchange fails", func(t *testing.T) {
		b := NewBroker()
		ch := openChannel(t, b)

		_, err := ch.QueueDeclare("q", true, false, false, false, nil)
		require.NoError(t, err)
		err = ch.QueueBind("q", "key", "missing", false, nil)

		var amqpErr *amqp.Error
		require.ErrorAs(t, err, &amqpErr)
		assert.Equal(t, amqp.NotFound, amqpErr.Code)
	})
}

func TestBrokerRouting(t *testing.T) {
	b := NewBroker()
	ch := openChannel(t, b)

	require.NoError(t, ch.ExchangeDeclare("events", amqp.ExchangeTopic, true, false, false, false, nil))
	for _, q := range []string{"notifications", "payments"} {
		_, err := ch.QueueDeclare(q, true, false, false, false, nil)
		require.NoError(t, err)
	}
	require.NoError(t, ch.QueueBind("notifications", "order.created", "events", false, nil))
	require.NoError(t, ch.QueueBind("notifications", "payment.processed.*", "events", false, nil))
	require.NoError(t, ch.QueueBind("payments", "order.created", "events", false, nil))

	ctx := context.Background()
	require.NoError(t, ch.PublishWithContext(ctx, "events", "order.created", false, false, amqp.Publishing{Body: []byte("a")}))
	require.NoError(t, ch.PublishWithContext(ctx, "events", "payment.processed.failed", false, false, amqp.Publishing{Body: []byte("b")}))
	require.NoError(t, ch.PublishWithContext(ctx, "events", "unrouted", false, false, amqp.Publishing{Body: []byte("c")}))

	assert.Equal(t, 2, b.Depth("notifications"))
	assert.Equal(t, 1, b.Depth("payments"))

	msgs := b.Messages("notifications")
	require.Len(t, msgs, 2)
	assert.Equal(t, "order.created", msgs[0].RoutingKey)
	assert.Equal(t, "payment.processed.failed", msgs[1].RoutingKey)
	assert.Len(t, b.Published(), 3)
}

func TestBrokerConfirmsAndReturns(t *testing.T) {
	b := NewBroker()
	ch := openChannel(t, b)

	require.NoError(t, ch.ExchangeDeclare("events", amqp.ExchangeTopic, true, false, false, false, nil))
	require.NoError(t, ch.Confirm(false))
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	err := ch.PublishWithContext(context.Background(), "events", "nobody.listens", true, false, amqp.Publishing{Body: []byte("x")})
	require.NoError(t, err)

	ret := <-returns
	assert.Equal(t, uint16(amqp.NoRoute), ret.ReplyCode)
	confirm := <-confirms
	assert.True(t, confirm.Ack)
	assert.Equal(t, uint64(1), confirm.DeliveryTag)

	t.Run("hook error nacks the publish", func(t *testing.T) {
		b.SetPublishHook(func(string, string, amqp.Publishing) error { return assert.AnError })
		defer b.SetPublishHook(nil)

		err := ch.PublishWithContext(context.Background(), "events", "x", false, false, amqp.Publishing{})
		require.NoError(t, err)
		confirm := <-confirms
		assert.False(t, confirm.Ack)
		assert.Equal(t, uint64(2), confirm.DeliveryTag)
	})
}

func TestBrokerConsume(t *testing.T) {
	t.Run("prefetch bounds unacked deliveries", func(t *testing.T) {
		b := NewBroker()
		ch := openChannel(t, b)

		_, err := ch.QueueDeclare("work", true, false, false, false, nil)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			require.NoError(t, b.Publish("", "work", amqp.Publishing{Body: []byte{byte(i)}}))
		}

		require.NoError(t, ch.Qos(1, 0, false))
		deliveries, err := ch.Consume("work", "c1", false, false, false, false, nil)
		require.NoError(t, err)

		first := <-deliveries
		assert.Equal(t, []byte{0}, first.Body)
		assert.Equal(t, 2, b.Depth("work"))
		assert.Equal(t, 1, b.Unacked("work"))

		select {
		case d := <-deliveries:
			t.Fatalf("unexpected delivery beyond prefetch: %v", d.Body)
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, first.Ack(false))
		second := <-deliveries
		assert.Equal(t, []byte{1}, second.Body)
	})

	t.Run("closing the channel requeues unacked messages", func(t *testing.T) {
		b := NewBroker()
		ch := openChannel(t, b)

		_, err := ch.QueueDeclare("work", true, false, false, false, nil)
		require.NoError(t, err)
		require.NoError(t, b.Publish("", "work", amqp.Publishing{Body: []byte("x")}))

		deliveries, err := ch.Consume("work", "c1", false, false, false, false, nil)
		require.NoError(t, err)
		<-deliveries
		require.NoError(t, ch.Close())

		assert.Equal(t, 1, b.Depth("work"))
		assert.True(t, b.Messages("work")[0].Redelivered)
	})

	t.Run("cancel closes the delivery channel", func(t *testing.T) {
		b := NewBroker()
		ch := openChannel(t, b)

		_, err := ch.QueueDeclare("work", true, false, false, false, nil)
		require.NoError(t, err)
		deliveries, err := ch.Consume("work", "c1", false, false, false, false, nil)
		require.NoError(t, err)

		require.NoError(t, ch.Cancel("c1", false))
		_, ok := <-deliveries
		assert.False(t, ok)
	})
}

func TestBrokerDeadLettering(t *testing.T) {
	b := NewBroker(WithTimeScale(0.001))
	ch := openChannel(t, b)

	require.NoError(t, ch.ExchangeDeclare("dlx", amqp.ExchangeDirect, true, false, false, false, nil))
	require.NoError(t, ch.ExchangeDeclare("retry_dlx", amqp.ExchangeDirect, true, false, false, false, nil))
	_, err := ch.QueueDeclare("work", true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "dlx",
		"x-dead-letter-routing-key": "work.failed",
	})
	require.NoError(t, err)
	_, err = ch.QueueDeclare("wait", true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(30000),
		"x-dead-letter-exchange":    "retry_dlx",
		"x-dead-letter-routing-key": "work.retry",
	})
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind("wait", "work.failed", "dlx", false, nil))
	require.NoError(t, ch.QueueBind("work", "work.retry", "retry_dlx", false, nil))

	require.NoError(t, b.Publish("", "work", amqp.Publishing{Body: []byte("job")}))

	d, ok, err := ch.Get("work", false)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, d.Nack(false, false))

	// Rejected into the wait queue, then expired back into work.
	require.Eventually(t, func() bool { return b.Depth("work") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.Depth("wait"))

	d, ok, err = ch.Get("work", false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "work.retry", d.RoutingKey)

	deaths, ok := d.Headers["x-death"].([]interface{})
	require.True(t, ok)
	require.Len(t, deaths, 2)
	latest := deaths[0].(amqp.Table)
	assert.Equal(t, "wait", latest["queue"])
	assert.Equal(t, "expired", latest["reason"])
	rejected := deaths[1].(amqp.Table)
	assert.Equal(t, "work", rejected["queue"])
	assert.Equal(t, "rejected", rejected["reason"])
	assert.Equal(t, int64(1), rejected["count"])
	assert.Equal(t, "work", d.Headers["x-first-death-queue"])

	t.Run("second rejection increments the count and moves the entry first", func(t *testing.T) {
		require.NoError(t, d.Nack(false, false))
		require.Eventually(t, func() bool { return b.Depth("work") == 1 }, time.Second, 5*time.Millisecond)

		msgs := b.Messages("work")
		deaths := msgs[0].Headers["x-death"].([]interface{})
		require.Len(t, deaths, 2)
		first := deaths[0].(amqp.Table)
		assert.Equal(t, "wait", first["queue"])
		assert.Equal(t, int64(2), first["count"])
		second := deaths[1].(amqp.Table)
		assert.Equal(t, "work", second["queue"])
		assert.Equal(t, int64(2), second["count"])
	})
}
