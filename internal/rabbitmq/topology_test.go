package rabbitmq_test

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq/rabbitmqtest"
)

func sampleTopology(ttl int32) rabbitmq.Topology {
	return rabbitmq.Topology{
		Exchanges: []rabbitmq.ExchangeDeclaration{
			{Name: "events", Type: amqp.ExchangeTopic, Durable: true},
		},
		Queues: []rabbitmq.QueueDeclaration{
			{Name: "delayed", Durable: true, Arguments: amqp.Table{"x-message-ttl": ttl}},
		},
		Bindings: []rabbitmq.Binding{
			{Queue: "delayed", Exchange: "events", RoutingKey: "order.*"},
		},
	}
}

func newPool(t *testing.T, broker *rabbitmqtest.Broker) *rabbitmq.ChannelPool {
	t.Helper()
	pool, err := rabbitmq.NewChannelPool(broker, rabbitmq.WithMinSize(1), rabbitmq.WithMaxSize(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestTopologyValidate(t *testing.T) {
	t.Run("valid topology", func(t *testing.T) {
		assert.NoError(t, sampleTopology(1000).Validate())
	})

	t.Run("unknown exchange type", func(t *testing.T) {
		topo := sampleTopology(1000)
		topo.Exchanges[0].Type = "x-delayed"
		assert.ErrorIs(t, topo.Validate(), rabbitmq.ErrInvalidTopology)
	})

	t.Run("binding to an undeclared queue", func(t *testing.T) {
		topo := sampleTopology(1000)
		topo.Bindings = append(topo.Bindings, rabbitmq.Binding{Queue: "ghost", Exchange: "events", RoutingKey: "#"})
		assert.ErrorIs(t, topo.Validate(), rabbitmq.ErrInvalidTopology)
	})

	t.Run("binding to an undeclared exchange", func(t *testing.T) {
		topo := sampleTopology(1000)
		topo.Bindings[0].Exchange = "ghost"
		assert.ErrorIs(t, topo.Validate(), rabbitmq.ErrInvalidTopology)
	})

	t.Run("unnamed queue", func(t *testing.T) {
		topo := sampleTopology(1000)
		topo.Queues = append(topo.Queues, rabbitmq.QueueDeclaration{})
		assert.ErrorIs(t, topo.Validate(), rabbitmq.ErrInvalidTopology)
	})
}

func TestTopologyManagerDeclare(t *testing.T) {
	ctx := context.Background()

	t.Run("declares exchanges, queues and bindings", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		tm := rabbitmq.NewTopologyManager(newPool(t, broker))

		require.NoError(t, tm.Declare(ctx, sampleTopology(30000)))

		assert.True(t, broker.HasExchange("events"))
		assert.True(t, broker.HasQueue("delayed"))
		assert.Equal(t, []string{"order.*"}, broker.Bindings("events", "delayed"))
		assert.Equal(t, int32(30000), broker.QueueArgs("delayed")["x-message-ttl"])
	})

	t.Run("redeclaring the same topology is a no-op", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		tm := rabbitmq.NewTopologyManager(newPool(t, broker))

		require.NoError(t, tm.Declare(ctx, sampleTopology(30000)))
		require.NoError(t, broker.Publish("events", "order.created", amqp.Publishing{Body: []byte("kept")}))
		require.NoError(t, tm.Declare(ctx, sampleTopology(30000)))

		assert.Equal(t, 1, broker.Depth("delayed"))
		assert.Equal(t, []string{"order.*"}, broker.Bindings("events", "delayed"))
	})

	t.Run("conflicting redeclaration surfaces a topology error", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		tm := rabbitmq.NewTopologyManager(newPool(t, broker))

		require.NoError(t, tm.Declare(ctx, sampleTopology(30000)))
		err := tm.Declare(ctx, sampleTopology(5000))

		var topoErr *rabbitmq.TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "queue", topoErr.Component)
		assert.Equal(t, "delayed", topoErr.Name)
		assert.True(t, rabbitmq.IsPreconditionFailed(err))
		assert.True(t, rabbitmq.IsFatal(err))

		// The pool recovers from the channel the broker closed.
		require.NoError(t, tm.Declare(ctx, sampleTopology(30000)))
	})

	t.Run("invalid topology never reaches the broker", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		tm := rabbitmq.NewTopologyManager(newPool(t, broker))

		topo := sampleTopology(1000)
		topo.Bindings[0].Queue = "ghost"
		assert.ErrorIs(t, tm.Declare(ctx, topo), rabbitmq.ErrInvalidTopology)
		assert.False(t, broker.HasExchange("events"))
	})
}

func TestTopologyManagerInspect(t *testing.T) {
	ctx := context.Background()
	broker := rabbitmqtest.NewBroker()
	tm := rabbitmq.NewTopologyManager(newPool(t, broker))
	require.NoError(t, tm.Declare(ctx, sampleTopology(30000)))

	require.NoError(t, broker.Publish("events", "order.created", amqp.Publishing{}))
	require.NoError(t, broker.Publish("events", "order.shipped", amqp.Publishing{}))

	q, err := tm.Inspect(ctx, "delayed")
	require.NoError(t, err)
	assert.Equal(t, 2, q.Messages)

	_, err = tm.Inspect(ctx, "missing")
	var topoErr *rabbitmq.TopologyError
	assert.ErrorAs(t, err, &topoErr)
}
