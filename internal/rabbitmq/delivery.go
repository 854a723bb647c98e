package rabbitmq

import (
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryState is the position of one delivery attempt in its lifecycle:
// Received -> Processing -> {Acked | Rejected}.
type DeliveryState int32

const (
	StateReceived DeliveryState = iota
	StateProcessing
	StateAcked
	StateRejected
)

func (s DeliveryState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateProcessing:
		return "processing"
	case StateAcked:
		return "acked"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the delivery has been settled
func (s DeliveryState) Terminal() bool {
	return s == StateAcked || s == StateRejected
}

// TrackedDelivery wraps an amqp.Delivery so it is settled at most once. A
// redelivery of the same message arrives as a new amqp.Delivery and gets a
// fresh TrackedDelivery.
type TrackedDelivery struct {
	amqp.Delivery
	state atomic.Int32
}

// NewTrackedDelivery starts a delivery in the Received state
func NewTrackedDelivery(d amqp.Delivery) *TrackedDelivery {
	return &TrackedDelivery{Delivery: d}
}

// State returns the current state
func (d *TrackedDelivery) State() DeliveryState {
	return DeliveryState(d.state.Load())
}

// Begin moves the delivery from Received to Processing
func (d *TrackedDelivery) Begin() error {
	if d.state.CompareAndSwap(int32(StateReceived), int32(StateProcessing)) {
		return nil
	}
	return d.transitionError()
}

// Ack acknowledges the delivery. Only valid while Processing.
func (d *TrackedDelivery) Ack() error {
	if !d.state.CompareAndSwap(int32(StateProcessing), int32(StateAcked)) {
		return d.transitionError()
	}
	return d.Delivery.Ack(false)
}

// Reject negatively acknowledges the delivery without requeue, handing it to
// the queue's dead-letter exchange if one is configured. Only valid while
// Processing.
func (d *TrackedDelivery) Reject() error {
	if !d.state.CompareAndSwap(int32(StateProcessing), int32(StateRejected)) {
		return d.transitionError()
	}
	return d.Delivery.Nack(false, false)
}

func (d *TrackedDelivery) transitionError() error {
	if d.State().Terminal() {
		return ErrDeliverySettled
	}
	return ErrDeliveryNotReady
}
