package health

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connector reports the broker connection state, satisfied by
// *rabbitmq.ConnectionManager
type Connector interface {
	IsConnected() bool
}

// BrokerChecker is unhealthy while the broker connection is down
type BrokerChecker struct {
	conn Connector
}

// NewBrokerChecker creates the broker checker
func NewBrokerChecker(conn Connector) *BrokerChecker {
	return &BrokerChecker{conn: conn}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	if c.conn.IsConnected() {
		result.Status = StatusHealthy
		result.Message = "connection is open"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "connection is down"
	}

	result.Duration = time.Since(start)
	return result
}

// QueueInspector passively declares a queue, satisfied by
// *rabbitmq.TopologyManager
type QueueInspector interface {
	Inspect(ctx context.Context, name string) (amqp.Queue, error)
}

// QueueDepthChecker watches a queue that should stay short, such as the
// final DLQ. It degrades once the depth exceeds the threshold and fails
// when the queue cannot be inspected.
type QueueDepthChecker struct {
	inspector QueueInspector
	queue     string
	threshold int
}

// NewQueueDepthChecker creates a depth checker for queue
func NewQueueDepthChecker(inspector QueueInspector, queue string, threshold int) *QueueDepthChecker {
	return &QueueDepthChecker{inspector: inspector, queue: queue, threshold: threshold}
}

func (c *QueueDepthChecker) Name() string {
	return "queue:" + c.queue
}

func (c *QueueDepthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	q, err := c.inspector.Inspect(ctx, c.queue)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "failed to inspect queue"
		result.Error = err.Error()
		return result
	}

	result.Details["messages"] = q.Messages
	result.Details["consumers"] = q.Consumers
	result.Details["threshold"] = c.threshold

	if q.Messages > c.threshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d messages waiting, threshold is %d", q.Messages, c.threshold)
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("%d messages waiting", q.Messages)
	return result
}

// Pinger checks a backing store, satisfied by *reliability.PostgresStore
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker degrades when the parked message store cannot be reached.
// Parking itself does not depend on the store.
type StoreChecker struct {
	name   string
	pinger Pinger
}

// NewStoreChecker creates a store checker
func NewStoreChecker(name string, pinger Pinger) *StoreChecker {
	return &StoreChecker{name: name, pinger: pinger}
}

func (c *StoreChecker) Name() string {
	return c.name
}

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	err := c.pinger.Ping(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusDegraded
		result.Message = "store unreachable"
		result.Error = err.Error()
		return result
	}

	result.Status = StatusHealthy
	result.Message = "store reachable"
	return result
}
