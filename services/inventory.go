package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/interceptors"
	"github.com/ashu3814/rabbitMQ-2/messaging"
)

// InventoryHandler reserves stock for paid orders
type InventoryHandler struct {
	reserve Operation
	logger  *slog.Logger
}

// NewInventoryHandler creates the handler
func NewInventoryHandler(reserve Operation, logger *slog.Logger) *InventoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryHandler{reserve: reserve, logger: logger}
}

// Handle implements messaging.Handler
func (h *InventoryHandler) Handle(ctx context.Context, env *messaging.Envelope) error {
	var payment contracts.PaymentProcessed
	if err := env.Decode(&payment); err != nil {
		return err
	}
	if err := validatePaymentProcessed(payment); err != nil {
		return err
	}
	if payment.Status != contracts.PaymentSuccessful {
		return fmt.Errorf("%w: inventory received %s payment for order %s",
			ErrInvalidEvent, payment.Status, payment.OrderID)
	}

	if err := h.reserve.Perform(ctx, Attempt{OrderID: payment.OrderID}); err != nil {
		return fmt.Errorf("failed to update inventory for order %s: %w", payment.OrderID, err)
	}

	interceptors.Logger(ctx, h.logger).Info("inventory updated",
		"orderId", payment.OrderID,
		"items", payment.Items)
	return nil
}
