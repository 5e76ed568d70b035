package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newWatchCmd creates the watch command.
func newWatchCmd() *cobra.Command {
	var contentTypes []string

	cmd := &cobra.Command{
		Use:   "watch <folder>",
		Short: "Register a folder and index its current contents",
		Long: `Register a folder in the index store and run the initial scan. The
folder stays registered after the command exits; run 'vecsync run' to
keep it synchronized continuously.

Watching a folder that is inside, or contains, an already watched
folder is rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, cleanup, err := newEnv(ctx)
			if err != nil {
				printError(cmd, err)
				return err
			}
			defer cleanup()

			// existing folders must be live for conflict checks; their
			// startup scans adopt unchanged files without index writes
			if err := e.orch.Restore(ctx); err != nil {
				printError(cmd, err)
				return err
			}

			folder, err := e.orch.WatchFolder(ctx, args[0], contentTypes)
			if err != nil {
				printError(cmd, err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (collection %s)\n", folder.Root, folder.Collection)
			fmt.Fprintln(cmd.OutOrStdout(), "Indexing existing files...")

			if err := e.orch.WaitFolderScanned(ctx, folder.Root); err != nil {
				printError(cmd, err)
				return err
			}

			for _, s := range e.orch.WatchedFolders() {
				if s.Root == folder.Root {
					fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d of %d file(s)", s.FilesProcessed, s.FilesDiscovered)
					if s.ErrorCount > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), " (%d skipped)", s.ErrorCount)
					}
					fmt.Fprintln(cmd.OutOrStdout())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&contentTypes, "types", nil, "Content types to index (text, pdf); defaults to text")
	return cmd
}
