package contracts

import (
	"time"

	"github.com/samber/lo"
)

// TimestampLayout is ISO 8601 in UTC with millisecond precision
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Item is one order line
type Item struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OrderCreated is published on order.created when an order is accepted
type OrderCreated struct {
	CustomerID    string  `json:"customerId"`
	CustomerEmail string  `json:"customerEmail"`
	Items         []Item  `json:"items"`
	TotalAmount   float64 `json:"totalAmount"`
	OrderID       string  `json:"orderId"`
	CorrelationID string  `json:"correlationId"`
	Timestamp     string  `json:"timestamp"`
}

// ProductIDs returns the product ids of the order lines, in order
func (o OrderCreated) ProductIDs() []string {
	return lo.Map(o.Items, func(item Item, _ int) string { return item.ProductID })
}

// PaymentStatus is the outcome of a payment attempt
type PaymentStatus string

const (
	PaymentSuccessful PaymentStatus = "SUCCESSFUL"
	PaymentFailed     PaymentStatus = "FAILED"
)

// Valid reports whether s is a known status
func (s PaymentStatus) Valid() bool {
	return s == PaymentSuccessful || s == PaymentFailed
}

// PaymentProcessed is published on payment.processed.successful or
// payment.processed.failed
type PaymentProcessed struct {
	OrderID       string        `json:"orderId"`
	Amount        float64       `json:"amount"`
	Status        PaymentStatus `json:"status"`
	CorrelationID string        `json:"correlationId"`
	Timestamp     string        `json:"timestamp"`
	PaymentID     string        `json:"paymentId"`
	Items         []string      `json:"items"`
	Reason        string        `json:"reason,omitempty"`
}

// Now returns the current time formatted for event timestamps
func Now() string {
	return FormatTimestamp(time.Now())
}

// FormatTimestamp formats t for event timestamps
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
