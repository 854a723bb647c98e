package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TopologyManager declares RabbitMQ topology (exchanges, queues, bindings)
type TopologyManager struct {
	pool   *ChannelPool
	logger *slog.Logger
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology represents the complete messaging topology
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// Validate checks that names are set and that every binding refers to an
// exchange and a queue declared in the same topology.
func (t Topology) Validate() error {
	exchanges := make(map[string]bool, len(t.Exchanges))
	for _, ex := range t.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("%w: exchange without a name", ErrInvalidTopology)
		}
		switch ex.Type {
		case amqp.ExchangeDirect, amqp.ExchangeTopic, amqp.ExchangeFanout, amqp.ExchangeHeaders:
		default:
			return fmt.Errorf("%w: exchange %s has unknown type %q", ErrInvalidTopology, ex.Name, ex.Type)
		}
		exchanges[ex.Name] = true
	}

	queues := make(map[string]bool, len(t.Queues))
	for _, q := range t.Queues {
		if q.Name == "" {
			return fmt.Errorf("%w: queue without a name", ErrInvalidTopology)
		}
		queues[q.Name] = true
	}

	for _, b := range t.Bindings {
		if !queues[b.Queue] {
			return fmt.Errorf("%w: binding references undeclared queue %s", ErrInvalidTopology, b.Queue)
		}
		if !exchanges[b.Exchange] {
			return fmt.Errorf("%w: binding references undeclared exchange %s", ErrInvalidTopology, b.Exchange)
		}
	}

	return nil
}

// TopologyOption configures the TopologyManager
type TopologyOption func(*TopologyManager)

// WithTopologyLogger sets the logger
func WithTopologyLogger(logger *slog.Logger) TopologyOption {
	return func(tm *TopologyManager) {
		if logger != nil {
			tm.logger = logger
		}
	}
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(pool *ChannelPool, options ...TopologyOption) *TopologyManager {
	tm := &TopologyManager{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(tm)
	}
	return tm
}

// Declare declares the complete topology: exchanges first, then queues, then
// bindings. Redeclaring identical entities is a no-op; a property mismatch
// surfaces as a TopologyError wrapping the broker's PRECONDITION_FAILED.
func (tm *TopologyManager) Declare(ctx context.Context, topology Topology) error {
	if err := topology.Validate(); err != nil {
		return err
	}

	return tm.pool.Execute(ctx, func(ch Channel) error {
		for _, exchange := range topology.Exchanges {
			if err := declareExchange(ch, exchange); err != nil {
				return topologyError("exchange", exchange.Name, "declare", err)
			}
		}

		for _, queue := range topology.Queues {
			if _, err := declareQueue(ch, queue); err != nil {
				return topologyError("queue", queue.Name, "declare", err)
			}
		}

		for _, binding := range topology.Bindings {
			if err := bindQueue(ch, binding); err != nil {
				name := fmt.Sprintf("%s<-%s:%s", binding.Queue, binding.Exchange, binding.RoutingKey)
				return topologyError("binding", name, "bind", err)
			}
		}

		tm.logger.Info("topology declared",
			"exchanges", len(topology.Exchanges),
			"queues", len(topology.Queues),
			"bindings", len(topology.Bindings),
		)
		return nil
	})
}

// Inspect passively declares a queue and returns its message and consumer counts
func (tm *TopologyManager) Inspect(ctx context.Context, name string) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.pool.Execute(ctx, func(ch Channel) error {
		var err error
		q, err = ch.QueueDeclarePassive(name, true, false, false, false, nil)
		if err != nil {
			return topologyError("queue", name, "inspect", err)
		}
		return nil
	})
	return q, err
}

func topologyError(component, name, op string, err error) error {
	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}

func declareExchange(ch Channel, exchange ExchangeDeclaration) error {
	return ch.ExchangeDeclare(
		exchange.Name,
		exchange.Type,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		exchange.Arguments,
	)
}

func declareQueue(ch Channel, queue QueueDeclaration) (amqp.Queue, error) {
	return ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
}

func bindQueue(ch Channel, binding Binding) error {
	return ch.QueueBind(
		binding.Queue,
		binding.RoutingKey,
		binding.Exchange,
		false, // no-wait
		binding.Arguments,
	)
}
