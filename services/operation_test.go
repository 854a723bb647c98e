package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShippingSuccessRate(t *testing.T) {
	cases := map[int]float64{
		-1: 0.3,
		0:  0.3,
		1:  0.5,
		2:  0.7,
		3:  0.9,
		10: 0.9,
	}
	for n, want := range cases {
		assert.InDelta(t, want, ShippingSuccessRate(n), 1e-9, "retry count %d", n)
	}
}

func TestSimulatedOperation(t *testing.T) {
	t.Run("succeeds below the rate", func(t *testing.T) {
		op := NewSimulatedOperation("payment",
			WithDelay(0),
			WithSuccessRate(FixedRate(0.8)),
			WithRandomSource(func() float64 { return 0.79 }))

		assert.NoError(t, op.Perform(context.Background(), Attempt{OrderID: "ORD-1"}))
	})

	t.Run("fails at or above the rate", func(t *testing.T) {
		op := NewSimulatedOperation("shipping",
			WithDelay(0),
			WithSuccessRate(ShippingSuccessRate),
			WithFailureMessage("API temporarily unavailable"),
			WithRandomSource(func() float64 { return 0.5 }))

		err := op.Perform(context.Background(), Attempt{OrderID: "ORD-1", RetryCount: 0})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOperationFailed)
		assert.Contains(t, err.Error(), "shipping API temporarily unavailable")

		assert.NoError(t, op.Perform(context.Background(), Attempt{OrderID: "ORD-1", RetryCount: 2}))
	})

	t.Run("respects cancellation during the delay", func(t *testing.T) {
		op := NewSimulatedOperation("inventory", WithDelay(time.Hour))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := op.Perform(ctx, Attempt{})
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("defaults to always succeeding", func(t *testing.T) {
		op := NewSimulatedOperation("notification", WithDelay(time.Millisecond))
		assert.NoError(t, op.Perform(context.Background(), Attempt{}))
	})
}
