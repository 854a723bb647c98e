// Package reliability holds the failure handling of the pipeline.
//
//   - RetryController: the failure policy of the shipping consumer. It reads
//     the broker's x-death count and either rejects the delivery into the
//     delayed retry hop or parks it in the final DLQ.
//   - FinalDLQParker: republishes a delivery unchanged to the final DLQ and
//     records it in a Store.
//   - MemoryStore and PostgresStore: queryable records of parked messages.
//   - CircuitBreaker: fails order ingress fast while publishing keeps failing.
//
// Example usage:
//
//	parker := reliability.NewFinalDLQParker(publisher, contracts.ShippingFinalDLQ,
//		reliability.WithParkedStore(store))
//	policy := reliability.NewRetryController(contracts.ShippingQueue, parker,
//		reliability.WithMaxRetries(3))
//
//	consumer := rabbitmq.NewConsumer(connManager, contracts.ShippingQueue, handler,
//		rabbitmq.WithFailurePolicy(policy))
package reliability
