package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/outbound/pkg/outbound"
)

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [integration...]",
		Short: "Print queue counts, one JSON line per integration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, release, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer release()

			names := args
			if len(names) == 0 {
				names = reg.Names()
			}
			for _, name := range names {
				client, err := reg.Get(name)
				if err != nil {
					return withCode(exitUsage, err)
				}
				counts, err := client.Counts(ctx)
				if err != nil {
					return withCode(exitBroker, err)
				}
				if err := writeJSONLine(c.out, map[string]any{
					"integration": name,
					"enabled":     client.Enabled(),
					"queue":       outbound.QueueName(name),
					"counts":      counts,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
