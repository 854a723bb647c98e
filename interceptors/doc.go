// Package interceptors decorates message handlers with cross-cutting
// behaviour.
//
// An InterceptorChain wraps a messaging.Handler so that each interceptor runs
// around the next one, outermost first:
//
//	chain := interceptors.NewDefaultInterceptorChainBuilder(logger).
//		WithRecovery().
//		WithTracing(nil).
//		WithLogging().
//		WithMetrics(collector).
//		Build()
//
//	registry.Register(contracts.ShippingQueue, chain.Wrap(shippingHandler))
//
// Built-in interceptors cover panic recovery, OpenTelemetry consumer spans,
// structured logging, Prometheus-style handler metrics and handler timeouts.
package interceptors
