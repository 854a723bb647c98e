// Package httpapi is the HTTP ingress of the pipeline: order submission,
// health, metrics and the parked message audit trail.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/health"
	"github.com/ashu3814/rabbitMQ-2/internal/reliability"
	"github.com/ashu3814/rabbitMQ-2/services"
)

// OrderCreator starts an order flow, satisfied by *services.OrderService
type OrderCreator interface {
	CreateOrder(ctx context.Context, req services.CreateOrderRequest) (*contracts.OrderCreated, error)
}

// ParkedReader reads the parked message audit trail, satisfied by every
// reliability.Store
type ParkedReader interface {
	Get(ctx context.Context, id string) (*reliability.ParkedMessage, error)
	List(ctx context.Context, limit int) ([]*reliability.ParkedMessage, error)
}

// Server owns the router and the underlying http.Server
type Server struct {
	orders         OrderCreator
	parked         ParkedReader
	health         http.Handler
	metrics        http.Handler
	allowedOrigins []string
	tracerProvider trace.TracerProvider
	logger         *slog.Logger

	validator *Validator
	router    *chi.Mux
	server    *http.Server
}

// Option configures the Server
type Option func(*Server)

// WithParkedReader enables GET /dlq/messages
func WithParkedReader(parked ParkedReader) Option {
	return func(s *Server) {
		s.parked = parked
	}
}

// WithHealth mounts the health handler on GET /healthz
func WithHealth(registry *health.Registry, timeout time.Duration) Option {
	return func(s *Server) {
		s.health = health.NewHandler(registry, timeout)
	}
}

// WithMetrics mounts the Prometheus handler on GET /metrics
func WithMetrics(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// WithAllowedOrigins sets the CORS origins
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithTracerProvider traces every request with provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracerProvider = provider
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the server and its routes. Nothing listens until Serve.
func New(addr string, orders OrderCreator, options ...Option) (*Server, error) {
	s := &Server{
		orders:         orders,
		allowedOrigins: []string{"*"},
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	s.validator = v

	s.router = s.newRouter()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(newTraceMiddleware(s.tracerProvider))
	router.Use(newLoggerMiddleware(s.logger))

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "traceparent", "tracestate"},
		ExposedHeaders: []string{CorrelationIDHeader},
		MaxAge:         300,
	})
	router.Use(c.Handler)

	router.Post("/orders", s.createOrder)
	router.Get("/livez", health.LivenessHandler())

	if s.health != nil {
		router.Method(http.MethodGet, "/healthz", s.health)
	}
	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.parked != nil {
		router.Route("/dlq/messages", func(r chi.Router) {
			r.Get("/", s.listParked)
			r.Get("/{id}", s.getParked)
		})
	}

	return router
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for active ones, bounded by ctx
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type errorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string, fields ValidationError) {
	writeJSON(w, status, errorResponse{Message: message, Errors: fields})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
