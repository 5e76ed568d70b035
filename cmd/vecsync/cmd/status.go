package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// folderStatus is the status command's output row.
type folderStatus struct {
	Root       string `json:"root"`
	Collection string `json:"collection"`
	Status     string `json:"status"`
	Types      string `json:"content_types"`
	Fragments  int    `json:"fragments"`
}

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show watched folders and their index state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			e, cleanup, err := newEnv(ctx)
			if err != nil {
				printError(cmd, err)
				return err
			}
			defer cleanup()

			folders, err := e.orch.PersistedFolders(ctx)
			if err != nil {
				printError(cmd, err)
				return err
			}

			rows := make([]folderStatus, 0, len(folders))
			for _, f := range folders {
				count, err := e.store.CountFragments(ctx, f.Collection)
				if err != nil {
					printError(cmd, err)
					return err
				}
				rows = append(rows, folderStatus{
					Root:       f.Root,
					Collection: f.Collection,
					Status:     f.Status,
					Types:      joinTypes(f.ContentTypes),
					Fragments:  count,
				})
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No folders are watched. Use 'vecsync watch <folder>' to add one.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FOLDER\tSTATUS\tTYPES\tFRAGMENTS\tCOLLECTION")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Root, r.Status, r.Types, r.Fragments, r.Collection)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func joinTypes(types []string) string {
	if len(types) == 0 {
		return "text"
	}
	out := types[0]
	for _, t := range types[1:] {
		out += "," + t
	}
	return out
}
