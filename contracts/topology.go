package contracts

import (
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
)

// DefaultRetryDelay is how long a failed shipping message waits before it is
// redelivered
const DefaultRetryDelay = 30 * time.Second

// MaxRetryDelay is the largest delay x-message-ttl can carry as a signed
// 32-bit millisecond count
const MaxRetryDelay = math.MaxInt32 * time.Millisecond

// PipelineTopology returns every exchange, queue and binding of the pipeline.
// Shipping failures are dead-lettered into a TTL queue whose expiry routes
// them back into the shipping queue.
func PipelineTopology(retryDelay time.Duration) rabbitmq.Topology {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if retryDelay > MaxRetryDelay {
		retryDelay = MaxRetryDelay
	}

	return rabbitmq.Topology{
		Exchanges: []rabbitmq.ExchangeDeclaration{
			{Name: EventsExchange, Type: amqp.ExchangeTopic, Durable: true},
			{Name: ShippingDLX, Type: amqp.ExchangeDirect, Durable: true},
			{Name: ShippingRetryDLX, Type: amqp.ExchangeDirect, Durable: true},
		},
		Queues: []rabbitmq.QueueDeclaration{
			{Name: NotificationQueue, Durable: true},
			{Name: PaymentQueue, Durable: true},
			{Name: InventoryQueue, Durable: true},
			{
				Name:    ShippingQueue,
				Durable: true,
				Arguments: amqp.Table{
					"x-dead-letter-exchange":    ShippingDLX,
					"x-dead-letter-routing-key": ShippingFailedKey,
				},
			},
			{
				Name:    ShippingRetryQueue,
				Durable: true,
				Arguments: amqp.Table{
					"x-message-ttl":             int32(retryDelay / time.Millisecond),
					"x-dead-letter-exchange":    ShippingRetryDLX,
					"x-dead-letter-routing-key": ShippingRetryKey,
				},
			},
			{Name: ShippingFinalDLQ, Durable: true},
		},
		Bindings: []rabbitmq.Binding{
			{Queue: NotificationQueue, Exchange: EventsExchange, RoutingKey: OrderCreatedKey},
			{Queue: NotificationQueue, Exchange: EventsExchange, RoutingKey: PaymentProcessedPattern},
			{Queue: PaymentQueue, Exchange: EventsExchange, RoutingKey: OrderCreatedKey},
			{Queue: InventoryQueue, Exchange: EventsExchange, RoutingKey: PaymentProcessedSuccessfulKey},
			{Queue: ShippingQueue, Exchange: EventsExchange, RoutingKey: PaymentProcessedSuccessfulKey},
			{Queue: ShippingRetryQueue, Exchange: ShippingDLX, RoutingKey: ShippingFailedKey},
			{Queue: ShippingQueue, Exchange: ShippingRetryDLX, RoutingKey: ShippingRetryKey},
		},
	}
}
