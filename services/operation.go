package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrOperationFailed is returned by SimulatedOperation when the simulated
// dependency rejects the call
var ErrOperationFailed = errors.New("services: operation failed")

// Attempt identifies one run of an operation
type Attempt struct {
	OrderID string
	// RetryCount is 0 on the first delivery and grows with each redelivery
	// through the retry queue
	RetryCount int
}

// Operation is the side-effecting step of a handler
type Operation interface {
	Perform(ctx context.Context, attempt Attempt) error
}

// OperationFunc is a function adapter for Operation
type OperationFunc func(ctx context.Context, attempt Attempt) error

// Perform implements Operation
func (f OperationFunc) Perform(ctx context.Context, attempt Attempt) error {
	return f(ctx, attempt)
}

// SuccessRate returns the probability in [0, 1] that an attempt succeeds
type SuccessRate func(retryCount int) float64

// FixedRate succeeds with probability p regardless of the attempt
func FixedRate(p float64) SuccessRate {
	return func(int) float64 { return p }
}

// ShippingSuccessRate improves with every retry: 30% on the first attempt,
// 20 points more per retry, capped at 90%
func ShippingSuccessRate(retryCount int) float64 {
	if retryCount < 0 {
		retryCount = 0
	}
	return math.Min(0.3+0.2*float64(retryCount), 0.9)
}

// SimulatedOperation waits for a delay and then succeeds or fails at random
type SimulatedOperation struct {
	name    string
	delay   time.Duration
	rate    SuccessRate
	random  func() float64
	failure string
}

// SimulatedOperationOption configures a SimulatedOperation
type SimulatedOperationOption func(*SimulatedOperation)

// WithDelay sets how long each attempt takes
func WithDelay(delay time.Duration) SimulatedOperationOption {
	return func(op *SimulatedOperation) {
		if delay >= 0 {
			op.delay = delay
		}
	}
}

// WithSuccessRate sets the success probability
func WithSuccessRate(rate SuccessRate) SimulatedOperationOption {
	return func(op *SimulatedOperation) {
		if rate != nil {
			op.rate = rate
		}
	}
}

// WithRandomSource replaces the uniform [0, 1) source
func WithRandomSource(random func() float64) SimulatedOperationOption {
	return func(op *SimulatedOperation) {
		if random != nil {
			op.random = random
		}
	}
}

// WithFailureMessage sets the text of the error returned on failure
func WithFailureMessage(msg string) SimulatedOperationOption {
	return func(op *SimulatedOperation) {
		op.failure = msg
	}
}

// NewSimulatedOperation creates an operation that always succeeds after
// 500ms unless configured otherwise
func NewSimulatedOperation(name string, options ...SimulatedOperationOption) *SimulatedOperation {
	op := &SimulatedOperation{
		name:    name,
		delay:   500 * time.Millisecond,
		rate:    FixedRate(1),
		random:  rand.Float64,
		failure: "temporarily unavailable",
	}

	for _, opt := range options {
		opt(op)
	}

	return op
}

// Perform implements Operation
func (op *SimulatedOperation) Perform(ctx context.Context, attempt Attempt) error {
	if op.delay > 0 {
		timer := time.NewTimer(op.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	if op.random() < op.rate(attempt.RetryCount) {
		return nil
	}
	return fmt.Errorf("%w: %s %s", ErrOperationFailed, op.name, op.failure)
}
