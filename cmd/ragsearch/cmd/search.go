package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openecm/ragsearch/internal/search"
	"github.com/openecm/ragsearch/internal/ui"
)

type searchOptions struct {
	limit    int
	minScore float64
	folderID string
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a semantic search over the indexed repository",
		Long: `Search the repository with a natural-language query.

The query is embedded and matched against both document content chunks
and document property text. Results respect the reader permissions of
the user given with --user/--group.

Examples:
  ragsearch search "office lease renewal terms"
  ragsearch search "quarterly budget" --limit 5 --min-score 0.6
  ragsearch search "invoices" --folder billing/2026 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 = configured default)")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", -1, "Minimum similarity score (negative = configured default)")
	cmd.Flags().StringVar(&opts.folderID, "folder", "", "Restrict the search to a folder subtree")

	return cmd
}

func runSearch(cmd *cobra.Command, g *globalOptions, query string, opts searchOptions) error {
	a, err := buildApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	start := time.Now()

	var results []search.VectorSearchResult
	var searchErr error
	if opts.folderID != "" {
		results, searchErr = a.engine.SearchInFolder(ctx, g.repository, g.user, query, opts.folderID, opts.limit)
	} else {
		results, searchErr = a.engine.Search(ctx, g.repository, g.user, query, opts.limit, opts.minScore)
	}
	a.metrics.ObserveSearch(g.repository, len(results), time.Since(start), searchErr)
	if searchErr != nil {
		return searchErr
	}

	r := ui.NewRenderer(cmd.OutOrStdout(), g.noColor, g.asJSON)
	return r.RenderResults(query, results)
}
