package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
	"github.com/ashu3814/rabbitMQ-2/internal/reliability"
)

var errNoStore = errors.New("postgres.dsn is not configured; parked messages are only kept in memory by a running server")

func newDLQCommand(c *cli) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect the final dead letter queue",
	}

	depthCmd := &cobra.Command{
		Use:   "depth",
		Short: "Print the number of messages in the final DLQ",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withTopology(cmd.Context(), func(ctx context.Context, tm *rabbitmq.TopologyManager) error {
				q, err := tm.Inspect(ctx, contracts.ShippingFinalDLQ)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages, %d consumers\n", q.Name, q.Messages, q.Consumers)
				return nil
			})
		},
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List parked messages recorded in Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Postgres.DSN == "" {
				return errNoStore
			}

			store, err := reliability.NewPostgresStore(cmd.Context(), c.cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			messages, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printParked(cmd.OutOrStdout(), messages)
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of messages to list")

	dlqCmd.AddCommand(depthCmd, listCmd)
	return dlqCmd
}

func printParked(w io.Writer, messages []*reliability.ParkedMessage) {
	if len(messages) == 0 {
		fmt.Fprintln(w, "No parked messages")
		return
	}

	fmt.Fprintf(w, "%-38s %-24s %-38s %-6s %-20s\n", "ID", "Source Queue", "Correlation ID", "Tries", "Parked At")
	fmt.Fprintln(w, strings.Repeat("-", 130))
	for _, m := range messages {
		fmt.Fprintf(w, "%-38s %-24s %-38s %-6d %-20s\n",
			m.ID, m.SourceQueue, m.CorrelationID, m.RetryCount+1, m.ParkedAt.Format(time.RFC3339))
		if m.LastError != "" {
			fmt.Fprintf(w, "  last error: %s\n", m.LastError)
		}
	}
}
