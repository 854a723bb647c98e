package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Circuit breaker errors
	ErrCircuitOpen = errors.New("circuit breaker: circuit is open")

	// Final DLQ errors
	ErrParkFailed            = errors.New("dlq: failed to park message")
	ErrParkedMessageNotFound = errors.New("dlq: parked message not found")
)

// CircuitBreakerError describes a call refused by an open circuit
type CircuitBreakerError struct {
	Name      string
	State     State
	Failures  int
	NextRetry time.Time
}

func (e *CircuitBreakerError) Error() string {
	retryIn := time.Until(e.NextRetry).Round(time.Millisecond)
	if retryIn < 0 {
		retryIn = 0
	}
	return fmt.Sprintf("circuit breaker %s %s: %d consecutive failures, retry in %v",
		e.Name, e.State, e.Failures, retryIn)
}

func (e *CircuitBreakerError) Unwrap() error {
	return ErrCircuitOpen
}

// ParkError reports a message that could not be moved to the final DLQ
type ParkError struct {
	Queue     string
	MessageID string
	Err       error
	Timestamp time.Time
}

func (e *ParkError) Error() string {
	return fmt.Sprintf("dlq: park to %s failed for message %s: %v", e.Queue, e.MessageID, e.Err)
}

func (e *ParkError) Unwrap() []error {
	return []error{ErrParkFailed, e.Err}
}

// StoreError represents a parked message store operation error
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("parked store: %s failed for %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("parked store: %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
