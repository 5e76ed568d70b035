package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newUnwatchCmd creates the unwatch command.
func newUnwatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unwatch <folder>",
		Short: "Stop watching a folder and delete its indexed data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, cleanup, err := newEnv(ctx)
			if err != nil {
				printError(cmd, err)
				return err
			}
			defer cleanup()

			// no Restore here: removal works straight off the
			// persisted registry, no need to start synchronizers
			if err := e.orch.UnwatchFolder(ctx, args[0]); err != nil {
				printError(cmd, err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Stopped watching %s and removed its index data\n", args[0])
			return nil
		},
	}
}
