package reliability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ashu3814/rabbitMQ-2/messaging"
)

// Publisher is the confirming publish primitive, satisfied by
// *rabbitmq.Publisher
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// FinalDLQParker moves exhausted messages to the final dead letter queue
// through the default exchange
type FinalDLQParker struct {
	publisher Publisher
	queue     string
	store     Store
	logger    *slog.Logger
	now       func() time.Time
}

// ParkerOption configures the FinalDLQParker
type ParkerOption func(*FinalDLQParker)

// WithParkedStore records every parked message in store
func WithParkedStore(store Store) ParkerOption {
	return func(p *FinalDLQParker) {
		p.store = store
	}
}

// WithParkerLogger sets the logger
func WithParkerLogger(logger *slog.Logger) ParkerOption {
	return func(p *FinalDLQParker) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewFinalDLQParker creates a parker publishing to queue
func NewFinalDLQParker(publisher Publisher, queue string, options ...ParkerOption) *FinalDLQParker {
	p := &FinalDLQParker{
		publisher: publisher,
		queue:     queue,
		logger:    slog.Default(),
		now:       time.Now,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Queue returns the final DLQ name
func (p *FinalDLQParker) Queue() string {
	return p.queue
}

// Park republishes d unchanged to the final DLQ and waits for the broker
// confirm. The store is written afterwards; a store failure is logged only.
func (p *FinalDLQParker) Park(ctx context.Context, sourceQueue string, d amqp.Delivery, cause error) error {
	if err := p.publisher.Publish(ctx, "", p.queue, Republish(d)); err != nil {
		return &ParkError{Queue: p.queue, MessageID: d.MessageId, Err: err, Timestamp: p.now()}
	}

	if p.store != nil {
		record := &ParkedMessage{
			ID:            uuid.NewString(),
			SourceQueue:   sourceQueue,
			MessageID:     d.MessageId,
			CorrelationID: d.CorrelationId,
			RoutingKey:    d.RoutingKey,
			RetryCount:    messaging.RedeliveryCount(d.Headers),
			Body:          string(d.Body),
			ParkedAt:      p.now().UTC(),
		}
		if cause != nil {
			record.LastError = cause.Error()
		}
		if err := p.store.Save(ctx, record); err != nil {
			p.logger.Error("failed to record parked message",
				"queue", sourceQueue,
				"messageId", d.MessageId,
				"error", err)
		}
	}

	return nil
}

// Republish copies every property of d into a publishing so the message
// arrives on its new queue as it was consumed
func Republish(d amqp.Delivery) amqp.Publishing {
	return amqp.Publishing{
		Headers:         d.Headers,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		CorrelationId:   d.CorrelationId,
		ReplyTo:         d.ReplyTo,
		Expiration:      d.Expiration,
		MessageId:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		UserId:          d.UserId,
		AppId:           d.AppId,
		Body:            d.Body,
	}
}
