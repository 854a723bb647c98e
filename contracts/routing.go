package contracts

// Exchanges
const (
	EventsExchange   = "ecommerce_events_exchange"
	ShippingDLX      = "shipping_service_dlx"
	ShippingRetryDLX = "shipping_service_retry_dlx"

	// DefaultExchange routes by queue name
	DefaultExchange = ""
)

// Queues
const (
	NotificationQueue  = "notification_service_order_created_queue"
	PaymentQueue       = "payment_service_order_created_queue"
	InventoryQueue     = "inventory_service_payment_successful_queue"
	ShippingQueue      = "shipping_service_queue"
	ShippingRetryQueue = "shipping_service_retry_30s_queue"
	ShippingFinalDLQ   = "shipping_service_final_dlq"
)

// Routing keys
const (
	OrderCreatedKey               = "order.created"
	PaymentProcessedSuccessfulKey = "payment.processed.successful"
	PaymentProcessedFailedKey     = "payment.processed.failed"
	PaymentProcessedPattern       = "payment.processed.*"
	PaymentProcessedPrefix        = "payment.processed."
	ShippingFailedKey             = "shipping.failed"
	ShippingRetryKey              = "shipping.retry"
)

// PaymentRoutingKey returns the routing key a payment outcome is published on
func PaymentRoutingKey(status PaymentStatus) string {
	if status == PaymentSuccessful {
		return PaymentProcessedSuccessfulKey
	}
	return PaymentProcessedFailedKey
}
