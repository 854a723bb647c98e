package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/internal/app"
	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
)

func newTopologyCommand(c *cli) *cobra.Command {
	topologyCmd := &cobra.Command{
		Use:   "topology",
		Short: "Manage the broker topology",
	}

	declareCmd := &cobra.Command{
		Use:   "declare",
		Short: "Declare exchanges, queues and bindings, then exit",
		Long:  "Declares the pipeline topology. Declaring an existing, identical topology is a no-op.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withTopology(cmd.Context(), func(ctx context.Context, tm *rabbitmq.TopologyManager) error {
				topology := contracts.PipelineTopology(c.cfg.Retry.Delay)
				if err := tm.Declare(ctx, topology); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "declared %d exchanges, %d queues, %d bindings\n",
					len(topology.Exchanges), len(topology.Queues), len(topology.Bindings))
				return nil
			})
		},
	}

	topologyCmd.AddCommand(declareCmd)
	return topologyCmd
}

// withTopology connects, runs fn and disconnects
func (c *cli) withTopology(ctx context.Context, fn func(ctx context.Context, tm *rabbitmq.TopologyManager) error) error {
	conn, err := app.Connect(ctx, c.cfg.AMQP, c.logger)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	pool, err := app.NewPool(conn, c.cfg.AMQP.Pool, c.logger)
	if err != nil {
		return fmt.Errorf("failed to open channel pool: %w", err)
	}
	defer pool.Close()

	return fn(ctx, rabbitmq.NewTopologyManager(pool, rabbitmq.WithTopologyLogger(c.logger)))
}
