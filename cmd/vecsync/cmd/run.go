package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRunCmd creates the run command, the long-running synchronizer.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the synchronizer for all registered folders",
		Long: `Restore the folder registry from the index store and keep every
registered folder synchronized until interrupted. Changes made while
vecsync was not running are picked up by the startup scan.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, cleanup, err := newEnv(ctx)
			if err != nil {
				printError(cmd, err)
				return err
			}
			defer cleanup()

			if err := e.orch.Restore(ctx); err != nil {
				printError(cmd, err)
				return err
			}

			folders := e.orch.WatchedFolders()
			fmt.Fprintf(cmd.OutOrStdout(), "Synchronizing %d folder(s). Press Ctrl+C to stop.\n", len(folders))
			for _, s := range folders {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %s\n", s.Root, s.Collection)
			}

			<-ctx.Done()
			fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
			return nil
		},
	}
}
