package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/interceptors"
	"github.com/ashu3814/rabbitMQ-2/messaging"
)

// DefaultRecipient receives every notification until customer lookup exists
const DefaultRecipient = "customer@example.com"

// Email is a notification ready to send
type Email struct {
	To      string
	Subject string
	Body    string
}

// OrderReceivedEmail is sent when an order enters the pipeline
func OrderReceivedEmail(to string, event contracts.OrderCreated) Email {
	return Email{
		To:      to,
		Subject: "Order Received",
		Body:    fmt.Sprintf("Thank you for your order %s! We are processing your payment.", event.OrderID),
	}
}

// PaymentResultEmail is sent once the payment outcome is known
func PaymentResultEmail(to string, event contracts.PaymentProcessed) Email {
	if event.Status == contracts.PaymentSuccessful {
		return Email{
			To:      to,
			Subject: "Payment Successful",
			Body: fmt.Sprintf("Your payment for order %s was successful. We'll start processing your order right away!",
				event.OrderID),
		}
	}
	return Email{
		To:      to,
		Subject: "Payment Failed",
		Body: fmt.Sprintf("Unfortunately, your payment for order %s failed. Please try again with a different payment method.",
			event.OrderID),
	}
}

// NotificationHandler consumes order.created and payment.processed.* and
// sends the matching customer email
type NotificationHandler struct {
	send      Operation
	recipient string
	logger    *slog.Logger
}

// NotificationOption configures the NotificationHandler
type NotificationOption func(*NotificationHandler)

// WithRecipient overrides the address every email goes to
func WithRecipient(to string) NotificationOption {
	return func(h *NotificationHandler) {
		h.recipient = to
	}
}

// WithNotificationLogger sets the fallback logger
func WithNotificationLogger(logger *slog.Logger) NotificationOption {
	return func(h *NotificationHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewNotificationHandler creates the handler. send delivers one email.
func NewNotificationHandler(send Operation, options ...NotificationOption) *NotificationHandler {
	h := &NotificationHandler{
		send:      send,
		recipient: DefaultRecipient,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// Handle implements messaging.Handler
func (h *NotificationHandler) Handle(ctx context.Context, env *messaging.Envelope) error {
	switch {
	case env.RoutingKey == contracts.OrderCreatedKey:
		var event contracts.OrderCreated
		if err := env.Decode(&event); err != nil {
			return err
		}
		if err := validateOrderCreated(event); err != nil {
			return err
		}
		return h.deliver(ctx, event.OrderID, OrderReceivedEmail(h.recipient, event))

	case strings.HasPrefix(env.RoutingKey, contracts.PaymentProcessedPrefix):
		var event contracts.PaymentProcessed
		if err := env.Decode(&event); err != nil {
			return err
		}
		if err := validatePaymentProcessed(event); err != nil {
			return err
		}
		return h.deliver(ctx, event.OrderID, PaymentResultEmail(h.recipient, event))

	default:
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedRoutingKey, env.RoutingKey, env.Queue)
	}
}

func (h *NotificationHandler) deliver(ctx context.Context, orderID string, email Email) error {
	logger := interceptors.Logger(ctx, h.logger).With("orderId", orderID)

	if err := h.send.Perform(ctx, Attempt{OrderID: orderID}); err != nil {
		return fmt.Errorf("failed to send %q email for order %s: %w", email.Subject, orderID, err)
	}

	logger.Info("email sent", "to", email.To, "subject", email.Subject)
	return nil
}
