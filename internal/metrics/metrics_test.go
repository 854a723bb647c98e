package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
	"github.com/ashu3814/rabbitMQ-2/internal/reliability"
)

func TestCollectors(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	t.Run("settled deliveries by outcome", func(t *testing.T) {
		c.DeliverySettled("shipping", rabbitmq.StateAcked, 10*time.Millisecond, nil)
		c.DeliverySettled("shipping", rabbitmq.StateRejected, 5*time.Millisecond, errors.New("x"))
		c.DeliverySettled("shipping", rabbitmq.StateRejected, 5*time.Millisecond, errors.New("x"))

		assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("shipping", "acked")))
		assert.Equal(t, 2.0, testutil.ToFloat64(c.deliveries.WithLabelValues("shipping", "rejected")))
		assert.Equal(t, 1, testutil.CollectAndCount(c.deliveryDuration))
	})

	t.Run("handler metrics", func(t *testing.T) {
		c.IncrementMessageCount("payment", "order.created")
		c.RecordProcessingTime("payment", "order.created", time.Millisecond)
		c.IncrementErrorCount("payment", "order.created", "malformed_payload")

		assert.Equal(t, 1.0, testutil.ToFloat64(c.handled.WithLabelValues("payment", "order.created")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.handlerErrors.WithLabelValues("payment", "order.created", "malformed_payload")))
	})

	t.Run("retry outcomes", func(t *testing.T) {
		c.RetryScheduled("shipping", 1)
		c.RetryScheduled("shipping", 2)
		c.MessageParked("shipping")
		c.ParkFailed("shipping")

		assert.Equal(t, 2.0, testutil.ToFloat64(c.retries.WithLabelValues("shipping")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.parked.WithLabelValues("shipping")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.parkFailures.WithLabelValues("shipping")))
	})

	t.Run("connection state", func(t *testing.T) {
		c.OnConnected()
		assert.Equal(t, 1.0, testutil.ToFloat64(c.connected))
		c.OnDisconnected(errors.New("gone"))
		assert.Equal(t, 0.0, testutil.ToFloat64(c.connected))
		c.OnReconnecting(1)
		assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
	})

	t.Run("orders and breaker", func(t *testing.T) {
		c.OrderPublished(nil)
		c.OrderPublished(errors.New("nack"))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.ordersPublished.WithLabelValues("published")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.ordersPublished.WithLabelValues("failed")))

		c.BreakerStateChanged("publish", reliability.StateClosed, reliability.StateOpen)
		assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("publish")))
	})

	t.Run("handler exposes the text format", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Equal(t, 200, rec.Code)
		assert.True(t, strings.Contains(string(body), "pipeline_messages_parked_total"))
	})
}

func TestNewWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewWithRegisterer(reg)
	require.NoError(t, err)

	_, err = NewWithRegisterer(reg)
	assert.Error(t, err, "registering twice must fail")
}
