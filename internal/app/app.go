// Package app is the composition root: it wires the broker, the consumers,
// the HTTP ingress and their supporting infrastructure, and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/health"
	"github.com/ashu3814/rabbitMQ-2/interceptors"
	"github.com/ashu3814/rabbitMQ-2/internal/config"
	"github.com/ashu3814/rabbitMQ-2/internal/httpapi"
	"github.com/ashu3814/rabbitMQ-2/internal/metrics"
	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
	"github.com/ashu3814/rabbitMQ-2/internal/reliability"
	"github.com/ashu3814/rabbitMQ-2/internal/telemetry"
	"github.com/ashu3814/rabbitMQ-2/messaging"
	"github.com/ashu3814/rabbitMQ-2/services"
)

var (
	ErrAlreadyStarted = errors.New("app: already started")
	ErrNotStarted     = errors.New("app: not started")
)

// Operations are the side effects the handlers perform
type Operations struct {
	Notification services.Operation
	Payment      services.Operation
	Inventory    services.Operation
	Shipping     services.Operation
}

// SimulatedOperations builds the operations described by the simulation
// config. With simulation disabled every operation succeeds immediately.
func SimulatedOperations(cfg config.SimulationConfig) Operations {
	if !cfg.Enabled {
		instant := services.NewSimulatedOperation("noop", services.WithDelay(0))
		return Operations{Notification: instant, Payment: instant, Inventory: instant, Shipping: instant}
	}

	delay := services.WithDelay(cfg.Delay)
	return Operations{
		Notification: services.NewSimulatedOperation("email", delay),
		Payment: services.NewSimulatedOperation("payment", delay,
			services.WithSuccessRate(services.FixedRate(cfg.PaymentSuccessRate)),
			services.WithFailureMessage("declined")),
		Inventory: services.NewSimulatedOperation("inventory", delay),
		Shipping: services.NewSimulatedOperation("shipping", delay,
			services.WithSuccessRate(services.ShippingSuccessRate),
			services.WithFailureMessage("API temporarily unavailable")),
	}
}

// App runs the order pipeline
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Collectors
	health     *health.Registry
	breaker    *reliability.CircuitBreaker
	operations Operations

	// injected instead of dialing when set
	source rabbitmq.ChannelSource
	store  reliability.Store

	mu       sync.Mutex
	started  bool
	closers  []closer
	listener net.Listener
	serveErr chan error
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Option configures the App
type Option func(*App)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithChannelSource uses source instead of dialing amqp.url
func WithChannelSource(source rabbitmq.ChannelSource) Option {
	return func(a *App) {
		a.source = source
	}
}

// WithStore uses store for parked messages instead of the configured one
func WithStore(store reliability.Store) Option {
	return func(a *App) {
		a.store = store
	}
}

// WithOperations replaces the simulated handler operations
func WithOperations(ops Operations) Option {
	return func(a *App) {
		a.operations = ops
	}
}

// New wires the pipeline. It performs no I/O.
func New(cfg *config.Config, options ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	collectors, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	a := &App{
		cfg:        cfg,
		logger:     slog.Default(),
		metrics:    collectors,
		health:     health.NewRegistry(),
		operations: SimulatedOperations(cfg.Simulation),
	}

	for _, opt := range options {
		opt(a)
	}

	a.breaker = reliability.NewCircuitBreaker(
		reliability.WithName("order-publish"),
		reliability.WithStateChangeListener(a.metrics.BreakerStateChanged),
	)
	a.health.SetMetadata("service", cfg.Tracing.ServiceName)

	return a, nil
}

// Start brings the pipeline up: broker connection, channel pool, topology,
// consumers and finally the HTTP server. On failure everything acquired so
// far is released in reverse order.
func (a *App) Start(ctx context.Context) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return ErrAlreadyStarted
	}

	defer func() {
		if err != nil {
			a.logger.Error("startup failed, releasing resources", "error", err)
			_ = a.release(context.Background())
		}
	}()

	tracing, err := telemetry.Setup(telemetry.Config{
		JaegerEndpoint: a.cfg.Tracing.JaegerEndpoint,
		ServiceName:    a.cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.push("tracer", tracing.Shutdown)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.push("store", func(context.Context) error { return store.Close() })

	source := a.source
	if source == nil {
		conn, err := Connect(ctx, a.cfg.AMQP, a.logger, a.metrics)
		if err != nil {
			return err
		}
		a.push("connection", func(context.Context) error { return conn.Close() })
		a.health.Register(health.NewBrokerChecker(conn))
		source = conn
	}

	pool, err := NewPool(source, a.cfg.AMQP.Pool, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open channel pool: %w", err)
	}
	a.push("channel pool", func(context.Context) error { return pool.Close() })

	topology := rabbitmq.NewTopologyManager(pool, rabbitmq.WithTopologyLogger(a.logger))
	if err := topology.Declare(ctx, contracts.PipelineTopology(a.cfg.Retry.Delay)); err != nil {
		return err
	}
	a.health.Register(health.NewQueueDepthChecker(topology, contracts.ShippingFinalDLQ, a.cfg.Health.DLQWarnDepth))

	publisher := rabbitmq.NewPublisher(pool,
		rabbitmq.WithConfirmTimeout(a.cfg.Publisher.ConfirmTimeout),
		rabbitmq.WithPublishRetries(a.cfg.Publisher.Retries),
		rabbitmq.WithPublisherLogger(a.logger),
	)
	events := messaging.NewEventPublisher(publisher,
		messaging.WithAppID(a.cfg.Tracing.ServiceName),
		messaging.WithEventPublisherLogger(a.logger),
	)

	routes, err := a.routes(events, publisher, store)
	if err != nil {
		return err
	}
	if err := a.startConsumers(ctx, source, routes); err != nil {
		return err
	}

	orders := services.NewOrderService(events,
		services.WithBreaker(a.breaker),
		services.WithPublishObserver(a.metrics.OrderPublished),
		services.WithOrderLogger(a.logger),
	)
	if err := a.startHTTP(orders, store); err != nil {
		return err
	}

	a.started = true
	a.logger.Info("pipeline started",
		"http", a.listener.Addr().String(),
		"queues", routes.Queues(),
		"maxRetries", a.cfg.Retry.MaxRetries,
		"retryDelay", a.cfg.Retry.Delay)
	return nil
}

func (a *App) openStore(ctx context.Context) (reliability.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.cfg.Postgres.DSN == "" {
		return reliability.NewMemoryStore(0), nil
	}

	if err := reliability.Migrate(ctx, a.cfg.Postgres.DSN); err != nil {
		return nil, fmt.Errorf("failed to migrate parked message store: %w", err)
	}
	store, err := reliability.NewPostgresStore(ctx, a.cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	a.health.Register(health.NewStoreChecker("parked_store", store))
	return store, nil
}

func (a *App) routes(events *messaging.EventPublisher, publisher *rabbitmq.Publisher, store reliability.Store) (*messaging.Registry, error) {
	chain := interceptors.NewDefaultInterceptorChainBuilder(a.logger).
		WithRecovery().
		WithTracing(nil).
		WithLogging().
		WithMetrics(a.metrics).
		WithTimeout(a.cfg.Consumer.HandlerTimeout).
		Build()

	parker := reliability.NewFinalDLQParker(publisher, contracts.ShippingFinalDLQ,
		reliability.WithParkedStore(store),
		reliability.WithParkerLogger(a.logger),
	)
	shippingPolicy := reliability.NewRetryController(contracts.ShippingQueue, parker,
		reliability.WithMaxRetries(a.cfg.Retry.MaxRetries),
		reliability.WithRetryObserver(a.metrics),
		reliability.WithRetryLogger(a.logger),
	)

	registry := messaging.NewRegistry()
	register := func(queue string, h messaging.Handler, options ...messaging.RouteOption) error {
		return registry.Register(queue, chain.Wrap(h), options...)
	}

	if err := errors.Join(
		register(contracts.NotificationQueue,
			services.NewNotificationHandler(a.operations.Notification, services.WithNotificationLogger(a.logger))),
		register(contracts.PaymentQueue,
			services.NewPaymentHandler(a.operations.Payment, events, services.WithPaymentLogger(a.logger))),
		register(contracts.InventoryQueue,
			services.NewInventoryHandler(a.operations.Inventory, a.logger)),
		register(contracts.ShippingQueue,
			services.NewShippingHandler(a.operations.Shipping,
				services.WithShippingMaxRetries(a.cfg.Retry.MaxRetries),
				services.WithShippingLogger(a.logger)),
			messaging.WithRoutePolicy(shippingPolicy)),
	); err != nil {
		return nil, err
	}
	return registry, nil
}

func (a *App) startConsumers(ctx context.Context, source rabbitmq.ChannelSource, routes *messaging.Registry) error {
	var consumers []*rabbitmq.Consumer
	a.push("consumers", func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		for _, c := range consumers {
			g.Go(func() error { return c.Stop(ctx) })
		}
		return g.Wait()
	})

	for _, route := range routes.Routes() {
		concurrency := a.cfg.Consumer.Concurrency
		if route.Concurrency > 0 {
			concurrency = route.Concurrency
		}

		c := rabbitmq.NewConsumer(source, route.Queue, messaging.Adapt(route.Queue, route.Handler),
			rabbitmq.WithPrefetchCount(a.cfg.Consumer.Prefetch),
			rabbitmq.WithConcurrency(concurrency),
			rabbitmq.WithFailurePolicy(route.Policy),
			rabbitmq.WithObserver(a.metrics),
			rabbitmq.WithConsumerLogger(a.logger),
		)
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer for %s: %w", route.Queue, err)
		}
		consumers = append(consumers, c)
	}
	return nil
}

func (a *App) startHTTP(orders *services.OrderService, store reliability.Store) error {
	server, err := httpapi.New(a.cfg.HTTP.Addr, orders,
		httpapi.WithHealth(a.health, a.cfg.Health.Timeout),
		httpapi.WithMetrics(a.metrics.Handler()),
		httpapi.WithParkedReader(store),
		httpapi.WithAllowedOrigins(a.cfg.HTTP.CORS.AllowedOrigins),
		httpapi.WithServerLogger(a.logger),
	)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}

	a.listener = ln
	a.serveErr = make(chan error, 1)
	go func() {
		a.serveErr <- server.Serve(ln)
	}()
	a.push("http server", server.Shutdown)
	return nil
}

// Stop shuts down in reverse start order: HTTP, consumers (in-flight
// deliveries settle first), channel pool, connection, store, tracer.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return ErrNotStarted
	}
	a.started = false
	return a.release(ctx)
}

// Run starts the pipeline and blocks until ctx is done or the HTTP server
// fails, then stops it within the configured shutdown timeout
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-a.serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server stopped: %w", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Stop(stopCtx))
}

// HTTPAddr returns the address the HTTP server listens on once started
func (a *App) HTTPAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Metrics returns the pipeline's collectors
func (a *App) Metrics() *metrics.Collectors {
	return a.metrics
}

// Health returns the health registry
func (a *App) Health() *health.Registry {
	return a.health
}

func (a *App) push(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// release runs the closers newest first. Callers hold a.mu.
func (a *App) release(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		start := time.Now()
		if err := c.fn(ctx); err != nil {
			a.logger.Error("failed to release", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		a.logger.Debug("released", "component", c.name, "duration", time.Since(start))
	}
	a.closers = nil
	a.listener = nil
	return errors.Join(errs...)
}
