package messaging

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
)

// Handler processes one message. A returned error is handed to the
// consumer's failure policy.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, env *Envelope) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Adapt turns a Handler into the delivery callback the consumer runtime calls
func Adapt(queue string, handler Handler) rabbitmq.MessageHandler {
	return func(ctx context.Context, d amqp.Delivery) error {
		return handler.Handle(ctx, NewEnvelope(queue, d))
	}
}
