// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashu3814/rabbitMQ-2/interceptors"
	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
	"github.com/ashu3814/rabbitMQ-2/internal/reliability"
)

const namespace = "pipeline"

// Collectors holds every pipeline metric. It is handed to the consumer
// runtime, the interceptor chain, the retry controller, the connection
// manager and the publish circuit breaker.
type Collectors struct {
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	handled          *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	handlerErrors    *prometheus.CounterVec
	retries          *prometheus.CounterVec
	parked           *prometheus.CounterVec
	parkFailures     *prometheus.CounterVec
	ordersPublished  *prometheus.CounterVec
	connected        prometheus.Gauge
	reconnects       prometheus.Counter
	breakerState     *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

var (
	_ rabbitmq.Observer                = (*Collectors)(nil)
	_ rabbitmq.ConnectionStateListener = (*Collectors)(nil)
	_ interceptors.MetricsCollector    = (*Collectors)(nil)
	_ reliability.RetryObserver        = (*Collectors)(nil)
)

// New creates the collectors and registers them with a fresh registry
func New() (*Collectors, error) {
	return NewWithRegisterer(prometheus.NewRegistry())
}

// NewWithRegisterer creates the collectors and registers them with reg
func NewWithRegisterer(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total number of settled deliveries by queue and outcome",
			},
			[]string{"queue", "outcome"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Time from receipt to settlement of a delivery",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		handled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_messages_total",
				Help:      "Total number of messages passed to handlers",
			},
			[]string{"queue", "routing_key"},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Duration of handler execution",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue", "routing_key"},
		),
		handlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Total number of handler failures by error type",
			},
			[]string{"queue", "routing_key", "error_type"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_scheduled_total",
				Help:      "Total number of deliveries sent to the delayed retry queue",
			},
			[]string{"queue"},
		),
		parked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_parked_total",
				Help:      "Total number of messages moved to the final DLQ",
			},
			[]string{"queue"},
		),
		parkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "park_failures_total",
				Help:      "Total number of failed attempts to move a message to the final DLQ",
			},
			[]string{"queue"},
		),
		ordersPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_published_total",
				Help:      "Total number of order.created publish attempts by outcome",
			},
			[]string{"outcome"},
		),
		connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "broker_connected",
				Help:      "1 while the broker connection is up",
			},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_reconnect_attempts_total",
				Help:      "Total number of broker reconnect attempts",
			},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open",
			},
			[]string{"name"},
		),
	}

	for _, collector := range []prometheus.Collector{
		c.deliveries,
		c.deliveryDuration,
		c.handled,
		c.handlerDuration,
		c.handlerErrors,
		c.retries,
		c.parked,
		c.parkFailures,
		c.ordersPublished,
		c.connected,
		c.reconnects,
		c.breakerState,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c, nil
}

// Handler serves the collected metrics in the Prometheus text format
func (c *Collectors) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// DeliverySettled implements rabbitmq.Observer
func (c *Collectors) DeliverySettled(queue string, state rabbitmq.DeliveryState, duration time.Duration, _ error) {
	c.deliveries.WithLabelValues(queue, state.String()).Inc()
	c.deliveryDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// IncrementMessageCount implements interceptors.MetricsCollector
func (c *Collectors) IncrementMessageCount(queue, routingKey string) {
	c.handled.WithLabelValues(queue, routingKey).Inc()
}

// RecordProcessingTime implements interceptors.MetricsCollector
func (c *Collectors) RecordProcessingTime(queue, routingKey string, duration time.Duration) {
	c.handlerDuration.WithLabelValues(queue, routingKey).Observe(duration.Seconds())
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *Collectors) IncrementErrorCount(queue, routingKey, errorType string) {
	c.handlerErrors.WithLabelValues(queue, routingKey, errorType).Inc()
}

// RetryScheduled implements reliability.RetryObserver
func (c *Collectors) RetryScheduled(queue string, _ int) {
	c.retries.WithLabelValues(queue).Inc()
}

// MessageParked implements reliability.RetryObserver
func (c *Collectors) MessageParked(queue string) {
	c.parked.WithLabelValues(queue).Inc()
}

// ParkFailed implements reliability.RetryObserver
func (c *Collectors) ParkFailed(queue string) {
	c.parkFailures.WithLabelValues(queue).Inc()
}

// OrderPublished counts an order.created publish attempt
func (c *Collectors) OrderPublished(err error) {
	outcome := "published"
	if err != nil {
		outcome = "failed"
	}
	c.ordersPublished.WithLabelValues(outcome).Inc()
}

// OnConnected implements rabbitmq.ConnectionStateListener
func (c *Collectors) OnConnected() {
	c.connected.Set(1)
}

// OnDisconnected implements rabbitmq.ConnectionStateListener
func (c *Collectors) OnDisconnected(error) {
	c.connected.Set(0)
}

// OnReconnecting implements rabbitmq.ConnectionStateListener
func (c *Collectors) OnReconnecting(int) {
	c.reconnects.Inc()
}

// BreakerStateChanged is a reliability.StateChangeListener
func (c *Collectors) BreakerStateChanged(name string, _, to reliability.State) {
	c.breakerState.WithLabelValues(name).Set(float64(to))
}
