package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// MessageHandler processes incoming messages. It must not settle the delivery;
// the consumer acks or rejects based on the returned error.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// Disposition is how a delivery whose handler failed gets settled
type Disposition int

const (
	// DispositionReject nacks without requeue
	DispositionReject Disposition = iota
	// DispositionAck removes the message from the queue
	DispositionAck
)

func (d Disposition) String() string {
	if d == DispositionAck {
		return "ack"
	}
	return "reject"
}

// FailurePolicy decides how to settle a delivery whose handler failed
type FailurePolicy interface {
	OnFailure(ctx context.Context, delivery amqp.Delivery, handlerErr error) Disposition
}

// FailurePolicyFunc is a function adapter for FailurePolicy
type FailurePolicyFunc func(ctx context.Context, delivery amqp.Delivery, handlerErr error) Disposition

// OnFailure implements FailurePolicy
func (f FailurePolicyFunc) OnFailure(ctx context.Context, delivery amqp.Delivery, handlerErr error) Disposition {
	return f(ctx, delivery, handlerErr)
}

// RejectPolicy rejects every failed delivery without requeue. With no
// dead-letter exchange on the queue the message is dropped.
type RejectPolicy struct{}

// OnFailure implements FailurePolicy
func (RejectPolicy) OnFailure(context.Context, amqp.Delivery, error) Disposition {
	return DispositionReject
}

// Observer is notified once per settled delivery
type Observer interface {
	DeliverySettled(queue string, state DeliveryState, duration time.Duration, handlerErr error)
}

// Consumer pumps one queue into a handler. Each delivery is processed once
// and settled exactly once.
type Consumer struct {
	source           ChannelSource
	queue            string
	handler          MessageHandler
	policy           FailurePolicy
	observer         Observer
	prefetchCount    int
	concurrency      int
	consumerTag      string
	resubscribeDelay time.Duration
	logger           *slog.Logger

	mu       sync.Mutex
	ch       Channel
	started  bool
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithConcurrency sets how many deliveries are handled in parallel
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		c.concurrency = n
	}
}

// WithFailurePolicy sets how failed deliveries are settled
func WithFailurePolicy(policy FailurePolicy) ConsumerOption {
	return func(c *Consumer) {
		if policy != nil {
			c.policy = policy
		}
	}
}

// WithObserver sets the delivery outcome observer
func WithObserver(observer Observer) ConsumerOption {
	return func(c *Consumer) {
		c.observer = observer
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithResubscribeDelay sets the base backoff used after the delivery stream
// closes unexpectedly
func WithResubscribeDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.resubscribeDelay = delay
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer creates a consumer for a single queue
func NewConsumer(source ChannelSource, queue string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		source:           source,
		queue:            queue,
		handler:          handler,
		policy:           RejectPolicy{},
		prefetchCount:    1,
		concurrency:      1,
		resubscribeDelay: time.Second,
		logger:           slog.Default(),
		stopCh:           make(chan struct{}),
		done:             make(chan struct{}),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.consumerTag == "" {
		c.consumerTag = fmt.Sprintf("%s-%s", queue, uuid.NewString()[:8])
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	c.logger = c.logger.With("queue", queue)

	return c
}

// Queue returns the consumed queue name
func (c *Consumer) Queue() string {
	return c.queue
}

// Done is closed once the consumer has stopped and every in-flight delivery
// has been settled
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Start subscribes to the queue and begins pumping deliveries. Cancelling ctx
// has the same effect as Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopping {
		return ErrConsumerStopped
	}
	if c.started {
		return ErrConsumerStarted
	}

	ch, deliveries, err := c.subscribe()
	if err != nil {
		return &ConsumerError{
			Queue:       c.queue,
			ConsumerTag: c.consumerTag,
			Op:          "subscribe",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	c.ch = ch
	c.started = true
	go c.run(ctx, ch, deliveries)

	c.logger.Info("subscribed to queue",
		"consumerTag", c.consumerTag,
		"prefetchCount", c.prefetchCount,
		"concurrency", c.concurrency,
	)
	return nil
}

// Stop cancels the subscription so no new deliveries arrive, then waits for
// in-flight deliveries to be settled or for ctx to expire.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.stopping = true
		c.mu.Unlock()
		c.closeDone()
		return nil
	}
	if !c.stopping {
		c.stopping = true
		close(c.stopCh)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return &ConsumerError{
			Queue:       c.queue,
			ConsumerTag: c.consumerTag,
			Op:          "stop",
			Err:         ctx.Err(),
			Timestamp:   time.Now(),
		}
	}
}

func (c *Consumer) subscribe() (Channel, <-chan amqp.Delivery, error) {
	ch, err := c.source.OpenChannel()
	if err != nil {
		return nil, nil, err
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue,
		c.consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return ch, deliveries, nil
}

func (c *Consumer) run(ctx context.Context, ch Channel, deliveries <-chan amqp.Delivery) {
	defer c.closeDone()

	for {
		c.pump(ctx, ch, deliveries)
		_ = ch.Close()

		if c.isStopping() || ctx.Err() != nil {
			c.logger.Info("consumer stopped", "consumerTag", c.consumerTag)
			return
		}

		c.logger.Warn("delivery channel closed, resubscribing")
		var err error
		ch, deliveries, err = c.resubscribe(ctx)
		if err != nil {
			if !c.isStopping() && ctx.Err() == nil {
				c.logger.Error("failed to resubscribe", "error", err)
			}
			return
		}
	}
}

// pump feeds deliveries to at most concurrency handlers until the delivery
// channel closes, then waits for the handlers still running.
func (c *Consumer) pump(ctx context.Context, ch Channel, deliveries <-chan amqp.Delivery) {
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	// Handlers run to completion even when the consumer is told to stop.
	handlerCtx := context.WithoutCancel(ctx)

	ctxDone := ctx.Done()
	stopCh := c.stopCh
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				_ = g.Wait()
				return
			}
			g.Go(func() error {
				if err := c.handleDelivery(handlerCtx, d); err != nil {
					c.logger.Error("failed to handle message",
						"error", err,
						"messageId", d.MessageId,
						"correlationId", d.CorrelationId,
						"routingKey", d.RoutingKey,
					)
				}
				return nil
			})

		case <-ctxDone:
			ctxDone = nil
			c.cancel(ch)

		case <-stopCh:
			stopCh = nil
			c.cancel(ch)
		}
	}
}

func (c *Consumer) cancel(ch Channel) {
	if err := ch.Cancel(c.consumerTag, false); err != nil {
		c.logger.Warn("failed to cancel consumer", "consumerTag", c.consumerTag, "error", err)
		// Closing the channel also ends the delivery stream.
		_ = ch.Close()
	}
}

// handleDelivery runs the handler and settles the delivery. The handler
// error is returned after settling so callers still observe it.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	td := NewTrackedDelivery(d)
	if err := td.Begin(); err != nil {
		return err
	}

	start := time.Now()
	handlerErr := c.invoke(ctx, d)

	var settleErr error
	if handlerErr == nil {
		settleErr = td.Ack()
	} else {
		switch c.policy.OnFailure(ctx, d, handlerErr) {
		case DispositionAck:
			settleErr = td.Ack()
		default:
			settleErr = td.Reject()
		}
	}

	duration := time.Since(start)
	if settleErr != nil {
		c.logger.Error("failed to settle message",
			"error", settleErr,
			"state", td.State().String(),
			"messageId", d.MessageId,
		)
	} else {
		c.logger.Debug("message settled",
			"state", td.State().String(),
			"messageId", d.MessageId,
			"duration", duration,
		)
	}

	if c.observer != nil {
		c.observer.DeliverySettled(c.queue, td.State(), duration, handlerErr)
	}

	return handlerErr
}

func (c *Consumer) invoke(ctx context.Context, d amqp.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return c.handler(ctx, d)
}

func (c *Consumer) resubscribe(ctx context.Context) (Channel, <-chan amqp.Delivery, error) {
	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-retryCtx.Done():
		}
	}()

	backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(c.resubscribeDelay))

	var (
		ch         Channel
		deliveries <-chan amqp.Delivery
	)
	err := retry.Do(retryCtx, backoff, func(ctx context.Context) error {
		var err error
		ch, deliveries, err = c.subscribe()
		if err != nil {
			if IsFatal(err) {
				return err
			}
			c.logger.Warn("resubscribe attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		_ = ch.Close()
		return nil, nil, ErrConsumerStopped
	}
	c.ch = ch
	c.mu.Unlock()

	c.logger.Info("resubscribed to queue", "consumerTag", c.consumerTag)
	return ch, deliveries, nil
}

func (c *Consumer) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Consumer) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}
