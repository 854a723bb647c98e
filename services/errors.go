package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashu3814/rabbitMQ-2/contracts"
)

var (
	ErrInvalidEvent          = errors.New("services: invalid event")
	ErrUnsupportedRoutingKey = errors.New("services: unsupported routing key")
	ErrOrderPublishFailed    = errors.New("services: failed to publish order")
)

func validateOrderCreated(event contracts.OrderCreated) error {
	var missing []string
	if strings.TrimSpace(event.OrderID) == "" {
		missing = append(missing, "orderId")
	}
	if strings.TrimSpace(event.CorrelationID) == "" {
		missing = append(missing, "correlationId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: order.created missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}

func validatePaymentProcessed(event contracts.PaymentProcessed) error {
	var missing []string
	if strings.TrimSpace(event.OrderID) == "" {
		missing = append(missing, "orderId")
	}
	if strings.TrimSpace(event.CorrelationID) == "" {
		missing = append(missing, "correlationId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: payment.processed missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	if !event.Status.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrInvalidEvent, event.Status)
	}
	return nil
}
