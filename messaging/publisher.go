package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ashu3814/rabbitMQ-2/contracts"
)

// Publisher is the confirming publish primitive, satisfied by
// *rabbitmq.Publisher
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// EventPublisher publishes domain events as JSON onto the events exchange
type EventPublisher struct {
	publisher Publisher
	exchange  string
	appID     string
	logger    *slog.Logger
	now       func() time.Time
}

// EventPublisherOption configures the EventPublisher
type EventPublisherOption func(*EventPublisher)

// WithEventExchange overrides the target exchange
func WithEventExchange(exchange string) EventPublisherOption {
	return func(p *EventPublisher) {
		p.exchange = exchange
	}
}

// WithAppID sets the AppId property stamped on every message
func WithAppID(appID string) EventPublisherOption {
	return func(p *EventPublisher) {
		p.appID = appID
	}
}

// WithEventPublisherLogger sets the logger
func WithEventPublisherLogger(logger *slog.Logger) EventPublisherOption {
	return func(p *EventPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewEventPublisher creates an event publisher on top of publisher
func NewEventPublisher(publisher Publisher, options ...EventPublisherOption) *EventPublisher {
	p := &EventPublisher{
		publisher: publisher,
		exchange:  contracts.EventsExchange,
		logger:    slog.Default(),
		now:       time.Now,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish marshals event and publishes it persistently under routingKey.
// The trace context of ctx travels in the message headers.
func (p *EventPublisher) Publish(ctx context.Context, routingKey, correlationID string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", routingKey, err)
	}

	headers := amqp.Table{}
	InjectTraceContext(ctx, headers)

	msg := amqp.Publishing{
		Headers:       headers,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: correlationID,
		Timestamp:     p.now(),
		Type:          routingKey,
		AppId:         p.appID,
		Body:          body,
	}

	if err := p.publisher.Publish(ctx, p.exchange, routingKey, msg); err != nil {
		p.logger.Error("failed to publish event",
			"routingKey", routingKey,
			"correlationId", correlationID,
			"error", err)
		return err
	}

	p.logger.Debug("event published",
		"exchange", p.exchange,
		"routingKey", routingKey,
		"messageId", msg.MessageId,
		"correlationId", correlationID)
	return nil
}
