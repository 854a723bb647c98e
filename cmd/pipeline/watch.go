package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	"github.com/ashu3814/rabbitMQ-2/contracts"
	"github.com/ashu3814/rabbitMQ-2/internal/rabbitmq"
)

// pipelineQueues are the queues the watcher polls by default
var pipelineQueues = []string{
	contracts.NotificationQueue,
	contracts.PaymentQueue,
	contracts.InventoryQueue,
	contracts.ShippingQueue,
	contracts.ShippingRetryQueue,
	contracts.ShippingFinalDLQ,
}

type queueInspector interface {
	Inspect(ctx context.Context, name string) (amqp.Queue, error)
}

// queueWatcher polls queue depths and prints a table on every tick
type queueWatcher struct {
	inspector queueInspector
	interval  time.Duration
	out       io.Writer
	now       func() time.Time
}

func newQueuesCommand(c *cli) *cobra.Command {
	queuesCmd := &cobra.Command{
		Use:   "queues",
		Short: "Inspect pipeline queue depths",
	}

	var (
		interval time.Duration
		once     bool
	)
	watchCmd := &cobra.Command{
		Use:   "watch [queue...]",
		Short: "Print message and consumer counts of the pipeline queues",
		Long:  "Polls the pipeline queues, or the queues given as arguments, until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			queues := args
			if len(queues) == 0 {
				queues = pipelineQueues
			}
			return c.withTopology(cmd.Context(), func(ctx context.Context, tm *rabbitmq.TopologyManager) error {
				w := &queueWatcher{inspector: tm, interval: interval, out: cmd.OutOrStdout(), now: time.Now}
				if once {
					return w.display(ctx, queues)
				}
				return w.Watch(ctx, queues)
			})
		},
	}
	watchCmd.Flags().DurationVarP(&interval, "interval", "i", 2*time.Second, "Polling interval")
	watchCmd.Flags().BoolVar(&once, "once", false, "Print a single snapshot and exit")

	queuesCmd.AddCommand(watchCmd)
	return queuesCmd
}

// Watch prints a snapshot every interval until ctx is done. Inspection
// errors are printed and do not stop the loop.
func (w *queueWatcher) Watch(ctx context.Context, queues []string) error {
	if err := w.display(ctx, queues); err != nil {
		fmt.Fprintf(w.out, "Error: %v\n", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.display(ctx, queues); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
			}
		}
	}
}

func (w *queueWatcher) display(ctx context.Context, names []string) error {
	queues := make([]amqp.Queue, 0, len(names))
	for _, name := range names {
		q, err := w.inspector.Inspect(ctx, name)
		if err != nil {
			return err
		}
		queues = append(queues, q)
	}

	sort.SliceStable(queues, func(i, j int) bool {
		return queues[i].Messages > queues[j].Messages
	})

	var totalMessages, totalConsumers int
	for _, q := range queues {
		totalMessages += q.Messages
		totalConsumers += q.Consumers
	}

	fmt.Fprintf(w.out, "Queue Monitor - %s\n", w.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w.out, "Total Queues: %d | Total Messages: %d | Total Consumers: %d\n",
		len(queues), totalMessages, totalConsumers)
	fmt.Fprintln(w.out, strings.Repeat("-", 72))
	fmt.Fprintf(w.out, "%-50s %10s %10s\n", "Queue Name", "Messages", "Consumers")
	for _, q := range queues {
		name := q.Name
		// parked messages need an operator
		if q.Name == contracts.ShippingFinalDLQ && q.Messages > 0 {
			name += " !"
		}
		fmt.Fprintf(w.out, "%-50s %10d %10d\n", name, q.Messages, q.Consumers)
	}
	fmt.Fprintln(w.out, strings.Repeat("-", 72))

	return nil
}
