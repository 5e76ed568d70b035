package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pkazakov/vecsync/internal/orchestrator"
)

// searchResult is the search command's output row.
type searchResult struct {
	Path        string  `json:"path"`
	Ordinal     int     `json:"ordinal"`
	Score       float64 `json:"score"`
	RerankScore float64 `json:"rerank_score,omitempty"`
	Preview     string  `json:"preview"`
	Text        string  `json:"text,omitempty"`
}

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var limit int
	var jsonOutput bool
	var fullText bool

	cmd := &cobra.Command{
		Use:   "search <folder> <query>",
		Short: "Search a watched folder's index",
		Long: `Embed the query, find the closest fragments in the folder's
collection, and rerank them when a rerank provider is configured.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, cleanup, err := newEnv(ctx)
			if err != nil {
				printError(cmd, err)
				return err
			}
			defer cleanup()

			query := strings.Join(args[1:], " ")
			results, err := e.orch.Query(ctx, args[0], query, limit)
			if err != nil {
				printError(cmd, err)
				return err
			}

			if jsonOutput {
				rows := make([]searchResult, len(results))
				for i, r := range results {
					rows[i] = toRow(r, fullText)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching fragments.")
				return nil
			}

			for i, r := range results {
				row := toRow(r, fullText)
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s (fragment %d, score %.3f", i+1, row.Path, row.Ordinal, row.Score)
				if r.Reranked {
					fmt.Fprintf(cmd.OutOrStdout(), ", rerank %.3f", row.RerankScore)
				}
				fmt.Fprintln(cmd.OutOrStdout(), ")")

				body := row.Preview
				if fullText {
					body = row.Text
				}
				fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", body)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&fullText, "full", false, "Print full fragment text instead of previews")
	return cmd
}

func toRow(r orchestrator.QueryResult, fullText bool) searchResult {
	row := searchResult{
		Path:    r.Fragment.Path,
		Ordinal: r.Fragment.Ordinal,
		Score:   r.Score,
		Preview: r.Fragment.Preview,
	}
	if r.Reranked {
		row.RerankScore = r.RerankScore
	}
	if fullText {
		row.Text = r.Fragment.Text
	}
	return row
}
