package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes messages on pooled channels in confirm mode. Publish
// returns only after the broker has acknowledged the message.
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration
	maxRetries     int
	retryDelay     time.Duration
	mandatory      bool
	logger         *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets the confirmation timeout
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishRetries sets the maximum number of publish retries
func WithPublishRetries(retries int) PublisherOption {
	return func(p *Publisher) {
		p.maxRetries = retries
	}
}

// WithPublishRetryDelay sets the linear backoff step between attempts
func WithPublishRetryDelay(delay time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.retryDelay = delay
	}
}

// WithMandatory makes unroutable messages fail instead of being dropped
func WithMandatory(mandatory bool) PublisherOption {
	return func(p *Publisher) {
		p.mandatory = mandatory
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a new publisher
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
		maxRetries:     3,
		retryDelay:     time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish publishes a message and waits for the broker confirmation
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * p.retryDelay):
			case <-ctx.Done():
				return p.publishError(exchange, routingKey, ctx.Err())
			}
			p.logger.Warn("retrying publish",
				"exchange", exchange,
				"routingKey", routingKey,
				"attempt", attempt+1,
				"error", lastErr,
			)
		}

		err := p.publishWithConfirm(ctx, exchange, routingKey, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		// A nack is retried; an unroutable mandatory return would only come
		// back again.
		if errors.Is(err, ErrMandatoryFailed) || ctx.Err() != nil {
			break
		}
	}

	return p.publishError(exchange, routingKey, lastErr)
}

func (p *Publisher) publishError(exchange, routingKey string, err error) error {
	return &PublishError{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Mandatory:  p.mandatory,
		Err:        err,
		Timestamp:  time.Now(),
	}
}

// publishWithConfirm publishes a single message with confirmation
func (p *Publisher) publishWithConfirm(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := p.pool.Get(ctx)
	if err != nil {
		return err
	}

	if err := ch.enableConfirms(); err != nil {
		p.pool.Discard(ch)
		return fmt.Errorf("failed to enable confirms: %w", err)
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, p.mandatory, false, msg); err != nil {
		p.pool.Discard(ch)
		return fmt.Errorf("failed to publish: %w", err)
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-ch.confirms:
		if !ok {
			p.pool.Discard(ch)
			return fmt.Errorf("%w: channel closed before confirmation", ErrPublishNotConfirmed)
		}
		// The broker sends basic.return before the ack of the same message.
		var returned *amqp.Return
		select {
		case ret := <-ch.returns:
			returned = &ret
		default:
		}
		p.pool.Put(ch)

		if returned != nil {
			return fmt.Errorf("%w: %d %s", ErrMandatoryFailed, returned.ReplyCode, returned.ReplyText)
		}
		if !confirm.Ack {
			return ErrPublishNotConfirmed
		}
		return nil

	case <-timer.C:
		p.pool.Discard(ch)
		return ErrPublishTimeout

	case <-ctx.Done():
		p.pool.Discard(ch)
		return ctx.Err()
	}
}
