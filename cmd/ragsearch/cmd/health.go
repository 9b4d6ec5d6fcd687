package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openecm/ragsearch/internal/ui"
)

func newHealthCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the indexing and search subsystems",
		Long: `Report index health: reachability of the vector store, indexed
document and chunk counts, and how many source documents are eligible
for indexing under the configured MIME allow-list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			h := a.orch.CheckHealth(cmd.Context(), g.repository)
			r := ui.NewRenderer(cmd.OutOrStdout(), g.noColor, g.asJSON)
			if err := r.RenderHealth(g.repository, h); err != nil {
				return err
			}
			if !h.Healthy {
				return fmt.Errorf("index is unhealthy")
			}
			return nil
		},
	}
}
