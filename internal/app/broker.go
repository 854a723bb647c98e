package app

import (
	"context"
	"log/slog"

	"github.com/ashu3814/rabbitMQ-2/internal/config"
	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
)

// Connect dials the broker described by cfg and keeps the connection alive
func Connect(ctx context.Context, cfg config.AMQPConfig, logger *slog.Logger, listeners ...rabbitmq.ConnectionStateListener) (*rabbitmq.ConnectionManager, error) {
	conn := rabbitmq.NewConnectionManager(cfg.URL,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithDialTimeout(cfg.DialTimeout),
		rabbitmq.WithReconnectDelay(cfg.ReconnectDelay),
		rabbitmq.WithMaxRetries(cfg.MaxReconnects),
	)
	for _, l := range listeners {
		conn.AddStateListener(l)
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// NewPool opens the shared publishing and topology channel pool
func NewPool(source rabbitmq.ChannelSource, cfg config.PoolConfig, logger *slog.Logger) (*rabbitmq.ChannelPool, error) {
	return rabbitmq.NewChannelPool(source,
		rabbitmq.WithMaxSize(cfg.MaxChannels),
		rabbitmq.WithMinSize(cfg.MinChannels),
		rabbitmq.WithChannelLogger(logger),
	)
}
