// Package contracts defines the wire contract of the order pipeline.
//
// This package includes:
//   - OrderCreated and PaymentProcessed: the JSON event payloads
//   - Exchange, queue and routing key names shared by every service
//   - PipelineTopology: the exchanges, queues and bindings the services need
//   - Order, payment and correlation id generation
//
// Events are published as raw JSON bodies with camelCase field names.
package contracts
