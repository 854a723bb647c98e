package reliability

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
	"github.com/ashu3814/rabbitMQ-2/messaging"
)

// DefaultMaxRetries is how many times a message goes round the retry hop
// before it is parked
const DefaultMaxRetries = 3

// Decision is what happens to a failed delivery
type Decision int

const (
	// DecisionRetry dead-letters the delivery into the delayed retry queue
	DecisionRetry Decision = iota
	// DecisionPark moves the delivery to the final DLQ
	DecisionPark
)

func (d Decision) String() string {
	if d == DecisionPark {
		return "park"
	}
	return "retry"
}

// Parker moves a delivery out of the retry cycle
type Parker interface {
	Park(ctx context.Context, sourceQueue string, d amqp.Delivery, cause error) error
}

// RetryObserver is told about every retry decision
type RetryObserver interface {
	RetryScheduled(queue string, attempt int)
	MessageParked(queue string)
	ParkFailed(queue string)
}

// RetryController settles failed deliveries of one queue. A delivery whose
// x-death count is below the limit is rejected into the delayed retry hop;
// otherwise it is parked and then acknowledged.
type RetryController struct {
	queue      string
	maxRetries int
	parker     Parker
	observer   RetryObserver
	logger     *slog.Logger
}

var _ rabbitmq.FailurePolicy = (*RetryController)(nil)

// RetryOption configures the RetryController
type RetryOption func(*RetryController)

// WithMaxRetries sets the retry limit. Zero parks on the first failure.
func WithMaxRetries(n int) RetryOption {
	return func(c *RetryController) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryObserver sets the observer
func WithRetryObserver(observer RetryObserver) RetryOption {
	return func(c *RetryController) {
		c.observer = observer
	}
}

// WithRetryLogger sets the logger
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryController) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRetryController creates the failure policy for queue
func NewRetryController(queue string, parker Parker, options ...RetryOption) *RetryController {
	c := &RetryController{
		queue:      queue,
		maxRetries: DefaultMaxRetries,
		parker:     parker,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	c.logger = c.logger.With("queue", queue)
	return c
}

// MaxRetries returns the retry limit
func (c *RetryController) MaxRetries() int {
	return c.maxRetries
}

// Decide maps the redelivery count to a decision
func (c *RetryController) Decide(redeliveries int) Decision {
	if redeliveries < c.maxRetries {
		return DecisionRetry
	}
	return DecisionPark
}

// OnFailure implements rabbitmq.FailurePolicy
func (c *RetryController) OnFailure(ctx context.Context, d amqp.Delivery, handlerErr error) rabbitmq.Disposition {
	n := messaging.RedeliveryCount(d.Headers)

	if c.Decide(n) == DecisionRetry {
		c.logger.Warn("scheduling retry",
			"messageId", d.MessageId,
			"correlationId", d.CorrelationId,
			"retryCount", n,
			"attempt", n+1,
			"maxRetries", c.maxRetries,
			"error", handlerErr)
		if c.observer != nil {
			c.observer.RetryScheduled(c.queue, n+1)
		}
		return rabbitmq.DispositionReject
	}

	if err := c.parker.Park(ctx, c.queue, d, handlerErr); err != nil {
		c.logger.Error("failed to park message, sending it round the retry hop again",
			"messageId", d.MessageId,
			"correlationId", d.CorrelationId,
			"retryCount", n,
			"error", err)
		if c.observer != nil {
			c.observer.ParkFailed(c.queue)
		}
		return rabbitmq.DispositionReject
	}

	c.logger.Error("retries exhausted, message parked",
		"messageId", d.MessageId,
		"correlationId", d.CorrelationId,
		"retryCount", n,
		"error", handlerErr)
	if c.observer != nil {
		c.observer.MessageParked(c.queue)
	}
	return rabbitmq.DispositionAck
}
