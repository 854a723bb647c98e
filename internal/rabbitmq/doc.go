// Package rabbitmq provides the RabbitMQ plumbing for the order pipeline.
//
// This package includes:
//   - ConnectionManager: Owns the AMQP connection and reconnects with backoff
//   - ChannelPool: Hands out channels for publishing and topology work
//   - Publisher: Publishes in confirm mode and waits for the broker ack
//   - Consumer: Pumps one queue into a handler and settles every delivery once
//   - TrackedDelivery: The Received -> Processing -> Acked | Rejected state machine
//   - TopologyManager: Declares exchanges, queues and bindings idempotently
//
// Consumers are manual-ack with a bounded prefetch. A handler error is
// settled through a FailurePolicy, which either rejects the message without
// requeue (so the queue's dead-letter exchange takes over) or acks it after
// the policy has moved it elsewhere.
package rabbitmq
