package main

import (
	"github.com/spf13/cobra"

	"github.com/ashu3814/rabbitMQ-2/internal/app"
)

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Declare the topology, start every consumer and serve HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(c.cfg, app.WithLogger(c.logger))
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}
