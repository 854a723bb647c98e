package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashu3814/rabbitMQ-2/contracts"
)

// CreateOrderRequest is a validated order submission
type CreateOrderRequest struct {
	CustomerID    string
	CustomerEmail string
	Items         []contracts.Item
	TotalAmount   float64
}

// Breaker guards a call, satisfied by *reliability.CircuitBreaker
type Breaker interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderService accepts orders and starts the pipeline by publishing
// order.created
type OrderService struct {
	publisher EventPublisher
	breaker   Breaker
	observe   func(err error)
	logger    *slog.Logger
	newID     func() string
	newCorrID func() string
	now       func() string
}

// OrderServiceOption configures the OrderService
type OrderServiceOption func(*OrderService)

// WithBreaker guards publishing with a circuit breaker so a dead broker
// fails requests fast
func WithBreaker(breaker Breaker) OrderServiceOption {
	return func(s *OrderService) {
		s.breaker = breaker
	}
}

// WithPublishObserver is called with the outcome of every publish
func WithPublishObserver(observe func(err error)) OrderServiceOption {
	return func(s *OrderService) {
		if observe != nil {
			s.observe = observe
		}
	}
}

// WithOrderLogger sets the logger
func WithOrderLogger(logger *slog.Logger) OrderServiceOption {
	return func(s *OrderService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewOrderService creates the order service
func NewOrderService(publisher EventPublisher, options ...OrderServiceOption) *OrderService {
	s := &OrderService{
		publisher: publisher,
		observe:   func(error) {},
		logger:    slog.Default(),
		newID:     contracts.NewOrderID,
		newCorrID: contracts.NewCorrelationID,
		now:       contracts.Now,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// CreateOrder assigns the order and correlation ids and publishes
// order.created. The returned event is what went onto the broker.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*contracts.OrderCreated, error) {
	event := &contracts.OrderCreated{
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		Items:         req.Items,
		TotalAmount:   req.TotalAmount,
		OrderID:       s.newID(),
		CorrelationID: s.newCorrID(),
		Timestamp:     s.now(),
	}

	logger := s.logger.With("orderId", event.OrderID, "correlationId", event.CorrelationID)

	publish := func(ctx context.Context) error {
		return s.publisher.Publish(ctx, contracts.OrderCreatedKey, event.CorrelationID, event)
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, publish)
	} else {
		err = publish(ctx)
	}
	s.observe(err)

	if err != nil {
		logger.Error("failed to publish order", "error", err)
		return nil, fmt.Errorf("%w %s: %w", ErrOrderPublishFailed, event.OrderID, err)
	}

	logger.Info("order published",
		"customerId", event.CustomerID,
		"items", len(event.Items),
		"totalAmount", event.TotalAmount)
	return event, nil
}
