package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashu3814/rabbitMQ-2/internal/config"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

type cli struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Event-driven order fulfillment pipeline over RabbitMQ",
		Long: `pipeline accepts orders over HTTP and drives them through notification,
payment, inventory and shipping consumers connected by RabbitMQ. Shipping
failures are retried through a delayed retry queue before being parked in
a final dead letter queue.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
			slog.SetDefault(c.logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(
		newServeCommand(c),
		newTopologyCommand(c),
		newDLQCommand(c),
		newQueuesCommand(c),
		newVersionCommand(),
	)
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// skip config loading
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		},
	}
}
