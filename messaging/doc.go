// Package messaging sits between the RabbitMQ runtime and the domain handlers.
//
// It provides:
//   - Envelope: a decoded view of an amqp.Delivery, including its x-death history
//   - Handler and HandlerFunc: the signature domain handlers implement
//   - Registry: the queue to handler table consumers are started from
//   - EventPublisher: JSON event publishing onto the events exchange
//   - HeaderCarrier: trace context propagation through AMQP headers
//
// Example usage:
//
//	registry := messaging.NewRegistry()
//	registry.Register(contracts.PaymentQueue, paymentHandler)
//
//	for _, route := range registry.Routes() {
//		consumer := rabbitmq.NewConsumer(connManager, route.Queue,
//			messaging.Adapt(route.Queue, route.Handler),
//			rabbitmq.WithFailurePolicy(route.Policy))
//		consumer.Start(ctx)
//	}
package messaging
