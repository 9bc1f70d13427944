package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/outbound/pkg/outbound"
)

func newDeadCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead",
		Short: "Inspect and recover dead-lettered calls",
	}
	cmd.AddCommand(newDeadListCmd(c), newDeadReplayCmd(c), newDeadPurgeCmd(c))
	return cmd
}

func newDeadListCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <integration>",
		Short: "Print dead letters, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), args[0], func(client outbound.Client) error {
				letters, err := client.DeadLetters(cmd.Context(), limit)
				if err != nil {
					return withCode(exitBroker, err)
				}
				for _, dl := range letters {
					if err := writeJSONLine(c.out, dl); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of dead letters")
	return cmd
}

func newDeadReplayCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <integration> <job-id>...",
		Short: "Re-enqueue dead letters with a fresh attempt budget",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), args[0], func(client outbound.Client) error {
				for _, id := range args[1:] {
					job, err := client.ReplayDeadLetter(cmd.Context(), id)
					if err != nil {
						return withCode(exitBroker, err)
					}
					if err := writeJSONLine(c.out, map[string]any{"integration": client.Name(), "replayed": job.ID}); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newDeadPurgeCmd(c *cli) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge <integration>",
		Short: "Drop dead letters, all of them unless --older-than is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cutoff time.Time
			if olderThan > 0 {
				cutoff = time.Now().Add(-olderThan)
			}
			return c.withClient(cmd.Context(), args[0], func(client outbound.Client) error {
				n, err := client.PurgeDeadLetters(cmd.Context(), cutoff)
				if err != nil {
					return withCode(exitBroker, err)
				}
				return writeJSONLine(c.out, map[string]any{"integration": client.Name(), "purged": n})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only purge dead letters older than this")
	return cmd
}
