package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashu3814/rabbitMQ-2/messaging"
)

// ErrHandlerPanic is returned by RecoveryInterceptor when the handler panicked
var ErrHandlerPanic = errors.New("interceptors: handler panicked")

// Interceptor processes messages before they reach the final handler
type Interceptor interface {
	// Intercept processes a message and calls the next handler in the chain
	Intercept(ctx context.Context, env *messaging.Envelope, next messaging.Handler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, env *messaging.Envelope, next messaging.Handler) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, env *messaging.Envelope, next messaging.Handler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, env *messaging.Envelope, next messaging.Handler) error {
	return i.fn(ctx, env, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain. The first one added runs outermost.
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Names lists the interceptors in execution order
func (c *InterceptorChain) Names() []string {
	names := make([]string, 0, len(c.interceptors))
	for _, i := range c.interceptors {
		names = append(names, i.Name())
	}
	return names
}

// Execute runs env through the chain and then finalHandler
func (c *InterceptorChain) Execute(ctx context.Context, env *messaging.Envelope, finalHandler messaging.Handler) error {
	return c.Wrap(finalHandler).Handle(ctx, env)
}

// Wrap returns finalHandler decorated with every interceptor of the chain
func (c *InterceptorChain) Wrap(finalHandler messaging.Handler) messaging.Handler {
	handler := finalHandler
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		currentHandler := handler
		handler = messaging.HandlerFunc(func(ctx context.Context, env *messaging.Envelope) error {
			return interceptor.Intercept(ctx, env, currentHandler)
		})
	}
	return handler
}

// Built-in interceptors

// LoggingInterceptor logs message processing and hands a message-scoped
// logger to the handlers below it
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, env *messaging.Envelope, next messaging.Handler) error {
	start := time.Now()

	logger := i.logger.With(
		"queue", env.Queue,
		"routingKey", env.RoutingKey,
		"messageId", env.MessageID,
		"correlationId", env.CorrelationID,
	)
	if n := env.RedeliveryCount(); n > 0 {
		logger = logger.With("retryCount", n)
	}

	logger.Debug("processing message")

	err := next.Handle(WithLogger(ctx, logger), env)
	duration := time.Since(start)

	if err != nil {
		logger.Warn("message processing failed", "duration", duration, "error", err)
	} else {
		logger.Debug("message processed successfully", "duration", duration)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsInterceptor collects metrics about message processing
type MetricsInterceptor struct {
	collector MetricsCollector
}

// MetricsCollector defines the interface for collecting handler metrics
type MetricsCollector interface {
	IncrementMessageCount(queue, routingKey string)
	RecordProcessingTime(queue, routingKey string, duration time.Duration)
	IncrementErrorCount(queue, routingKey, errorType string)
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, env *messaging.Envelope, next messaging.Handler) error {
	start := time.Now()

	i.collector.IncrementMessageCount(env.Queue, env.RoutingKey)

	err := next.Handle(ctx, env)

	i.collector.RecordProcessingTime(env.Queue, env.RoutingKey, time.Since(start))

	if err != nil {
		i.collector.IncrementErrorCount(env.Queue, env.RoutingKey, errorType(err))
	}

	return err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

func errorType(err error) string {
	switch {
	case errors.Is(err, messaging.ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrHandlerPanic):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "processing_error"
	}
}

// TracingInterceptor continues the producer's trace and records a consumer
// span around the handler
type TracingInterceptor struct {
	tracer trace.Tracer
}

// NewTracingInterceptor creates a tracing interceptor. A nil provider uses the
// global one.
func NewTracingInterceptor(provider trace.TracerProvider) *TracingInterceptor {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &TracingInterceptor{tracer: provider.Tracer("github.com/ashu3814/rabbitMQ-2/interceptors")}
}

// Intercept implements Interceptor
func (i *TracingInterceptor) Intercept(ctx context.Context, env *messaging.Envelope, next messaging.Handler) error {
	ctx = messaging.ExtractTraceContext(ctx, env.Headers)

	ctx, span := i.tracer.Start(ctx, env.Queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", env.Queue),
			attribute.String("messaging.rabbitmq.destination.routing_key", env.RoutingKey),
			attribute.String("messaging.message.id", env.MessageID),
			attribute.String("messaging.message.conversation_id", env.CorrelationID),
			attribute.Int("messaging.redelivery_count", env.RedeliveryCount()),
		),
	)
	defer span.End()

	err := next.Handle(ctx, env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// Name implements Interceptor
func (i *TracingInterceptor) Name() string {
	return "TracingInterceptor"
}

// RecoveryInterceptor turns a handler panic into an error
type RecoveryInterceptor struct {
	logger *slog.Logger
}

// NewRecoveryInterceptor creates a new recovery interceptor
func NewRecoveryInterceptor(logger *slog.Logger) *RecoveryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *RecoveryInterceptor) Intercept(ctx context.Context, env *messaging.Envelope, next messaging.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("handler panicked",
				"queue", env.Queue,
				"messageId", env.MessageID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return next.Handle(ctx, env)
}

// Name implements Interceptor
func (i *RecoveryInterceptor) Name() string {
	return "RecoveryInterceptor"
}

// TimeoutInterceptor bounds how long a handler may run
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor. The handler sees a context with the
// deadline and is expected to honour it.
func (i *TimeoutInterceptor) Intercept(ctx context.Context, env *messaging.Envelope, next messaging.Handler) error {
	if i.timeout <= 0 {
		return next.Handle(ctx, env)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	return next.Handle(timeoutCtx, env)
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// DefaultInterceptorChainBuilder builds a common interceptor chain
type DefaultInterceptorChainBuilder struct {
	chain  *InterceptorChain
	logger *slog.Logger
}

// NewDefaultInterceptorChainBuilder creates a new builder
func NewDefaultInterceptorChainBuilder(logger *slog.Logger) *DefaultInterceptorChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefaultInterceptorChainBuilder{
		chain:  NewInterceptorChain(logger),
		logger: logger,
	}
}

// WithRecovery adds recovery interceptor
func (b *DefaultInterceptorChainBuilder) WithRecovery() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewRecoveryInterceptor(b.logger))
	return b
}

// WithLogging adds logging interceptor
func (b *DefaultInterceptorChainBuilder) WithLogging() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewLoggingInterceptor(b.logger))
	return b
}

// WithMetrics adds metrics interceptor
func (b *DefaultInterceptorChainBuilder) WithMetrics(collector MetricsCollector) *DefaultInterceptorChainBuilder {
	if collector != nil {
		b.chain.Add(NewMetricsInterceptor(collector))
	}
	return b
}

// WithTracing adds tracing interceptor
func (b *DefaultInterceptorChainBuilder) WithTracing(provider trace.TracerProvider) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewTracingInterceptor(provider))
	return b
}

// WithTimeout adds timeout interceptor
func (b *DefaultInterceptorChainBuilder) WithTimeout(timeout time.Duration) *DefaultInterceptorChainBuilder {
	if timeout > 0 {
		b.chain.Add(NewTimeoutInterceptor(timeout))
	}
	return b
}

// WithCustom adds a custom interceptor
func (b *DefaultInterceptorChainBuilder) WithCustom(interceptor Interceptor) *DefaultInterceptorChainBuilder {
	b.chain.Add(interceptor)
	return b
}

// Build returns the built interceptor chain
func (b *DefaultInterceptorChainBuilder) Build() *InterceptorChain {
	return b.chain
}
