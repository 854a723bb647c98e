package messaging

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
)

var (
	ErrDuplicateRoute = errors.New("messaging: queue already has a handler")
	ErrRouteNotFound  = errors.New("messaging: no handler registered for queue")
)

// Route binds a queue to the handler that consumes it
type Route struct {
	Queue       string
	Handler     Handler
	Policy      rabbitmq.FailurePolicy
	Concurrency int
}

// RouteOption configures a route
type RouteOption func(*Route)

// WithRoutePolicy sets how handler failures on the queue are settled
func WithRoutePolicy(policy rabbitmq.FailurePolicy) RouteOption {
	return func(r *Route) {
		r.Policy = policy
	}
}

// WithRouteConcurrency overrides the consumer concurrency for the queue
func WithRouteConcurrency(n int) RouteOption {
	return func(r *Route) {
		r.Concurrency = n
	}
}

// Registry holds one handler per queue
type Registry struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]Route)}
}

// Register adds the handler for queue
func (r *Registry) Register(queue string, handler Handler, options ...RouteOption) error {
	if queue == "" {
		return fmt.Errorf("queue cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	route := Route{
		Queue:   queue,
		Handler: handler,
		Policy:  rabbitmq.RejectPolicy{},
	}
	for _, opt := range options {
		opt(&route)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.routes[queue]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, queue)
	}
	r.routes[queue] = route
	return nil
}

// Lookup returns the route registered for queue
func (r *Registry) Lookup(queue string) (Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[queue]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, queue)
	}
	return route, nil
}

// Queues returns the registered queue names in lexical order
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queues := lo.Keys(r.routes)
	sort.Strings(queues)
	return queues
}

// Routes returns every route ordered by queue name
func (r *Registry) Routes() []Route {
	queues := r.Queues()

	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.FilterMap(queues, func(q string, _ int) (Route, bool) {
		route, ok := r.routes[q]
		return route, ok
	})
}
