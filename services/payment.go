package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/interceptors"
	"github.com/ashu3814/rabbitMQ-2/messaging"
)

// EventPublisher publishes a domain event, satisfied by
// *messaging.EventPublisher
type EventPublisher interface {
	Publish(ctx context.Context, routingKey, correlationID string, event interface{}) error
}

// PaymentHandler charges the order on order.created and publishes the
// outcome on payment.processed.successful or payment.processed.failed
type PaymentHandler struct {
	charge    Operation
	publisher EventPublisher
	logger    *slog.Logger
	newID     func() string
	now       func() string
}

// PaymentOption configures the PaymentHandler
type PaymentOption func(*PaymentHandler)

// WithPaymentLogger sets the fallback logger
func WithPaymentLogger(logger *slog.Logger) PaymentOption {
	return func(h *PaymentHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewPaymentHandler creates the handler. A nil error from charge approves
// the payment; ErrOperationFailed declines it.
func NewPaymentHandler(charge Operation, publisher EventPublisher, options ...PaymentOption) *PaymentHandler {
	h := &PaymentHandler{
		charge:    charge,
		publisher: publisher,
		logger:    slog.Default(),
		newID:     contracts.NewPaymentID,
		now:       contracts.Now,
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// Handle implements messaging.Handler
func (h *PaymentHandler) Handle(ctx context.Context, env *messaging.Envelope) error {
	var order contracts.OrderCreated
	if err := env.Decode(&order); err != nil {
		return err
	}
	if err := validateOrderCreated(order); err != nil {
		return err
	}

	logger := interceptors.Logger(ctx, h.logger).With("orderId", order.OrderID)

	result := contracts.PaymentProcessed{
		OrderID:       order.OrderID,
		Amount:        order.TotalAmount,
		Status:        contracts.PaymentSuccessful,
		CorrelationID: order.CorrelationID,
		PaymentID:     h.newID(),
		Items:         order.ProductIDs(),
	}

	if err := h.charge.Perform(ctx, Attempt{OrderID: order.OrderID}); err != nil {
		if !errors.Is(err, ErrOperationFailed) {
			return fmt.Errorf("failed to charge order %s: %w", order.OrderID, err)
		}
		result.Status = contracts.PaymentFailed
		result.Reason = err.Error()
	}
	result.Timestamp = h.now()

	routingKey := contracts.PaymentRoutingKey(result.Status)
	if err := h.publisher.Publish(ctx, routingKey, order.CorrelationID, result); err != nil {
		return fmt.Errorf("failed to publish payment result for order %s: %w", order.OrderID, err)
	}

	logger.Info("payment processed",
		"paymentId", result.PaymentID,
		"status", string(result.Status),
		"amount", result.Amount,
		"routingKey", routingKey)
	return nil
}
