package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/interceptors"
	"github.com/ashu3814/rabbitMQ-2/internal/reliability"
	"github.com/ashu3814/rabbitMQ-2/messaging"
)

// ShippingHandler books a shipment for paid orders. Failures are settled by
// the retry controller attached to the shipping queue, so the handler only
// reports them.
type ShippingHandler struct {
	ship       Operation
	maxRetries int
	logger     *slog.Logger
}

// ShippingOption configures the ShippingHandler
type ShippingOption func(*ShippingHandler)

// WithShippingMaxRetries sets the retry budget reported in logs. It should
// match the retry controller's.
func WithShippingMaxRetries(n int) ShippingOption {
	return func(h *ShippingHandler) {
		if n >= 0 {
			h.maxRetries = n
		}
	}
}

// WithShippingLogger sets the fallback logger
func WithShippingLogger(logger *slog.Logger) ShippingOption {
	return func(h *ShippingHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewShippingHandler creates the handler
func NewShippingHandler(ship Operation, options ...ShippingOption) *ShippingHandler {
	h := &ShippingHandler{
		ship:       ship,
		maxRetries: reliability.DefaultMaxRetries,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// Handle implements messaging.Handler
func (h *ShippingHandler) Handle(ctx context.Context, env *messaging.Envelope) error {
	var payment contracts.PaymentProcessed
	if err := env.Decode(&payment); err != nil {
		return err
	}
	if err := validatePaymentProcessed(payment); err != nil {
		return err
	}

	retryCount := env.RedeliveryCount()
	logger := interceptors.Logger(ctx, h.logger).With(
		"orderId", payment.OrderID,
		"attempt", retryCount+1,
		"maxAttempts", h.maxRetries+1)

	if err := h.ship.Perform(ctx, Attempt{OrderID: payment.OrderID, RetryCount: retryCount}); err != nil {
		return fmt.Errorf("shipping failed for order %s on attempt %d: %w", payment.OrderID, retryCount+1, err)
	}

	logger.Info("shipment created")
	return nil
}
