package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openecm/ragsearch/internal/reindex"
	"github.com/openecm/ragsearch/internal/ui"
)

func newReindexCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Manage reindex jobs",
	}

	cmd.AddCommand(newReindexStartCmd(g))
	cmd.AddCommand(newReindexClearCmd(g))
	cmd.AddCommand(newReindexCancelCmd(g))
	cmd.AddCommand(newReindexStatusCmd(g))
	cmd.AddCommand(newReindexHistoryCmd(g))

	return cmd
}

func newReindexStartCmd(g *globalOptions) *cobra.Command {
	var folderID string
	var recursive bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Rebuild the repository index",
		Long: `Start a reindex job and wait for it to finish.

Without --folder the whole repository index is cleared and rebuilt.
With --folder only that folder (and with --recursive its subtree) is
reindexed; the rest of the index is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			var started bool
			if folderID == "" {
				started = a.orch.StartFullReindex(g.repository)
			} else {
				started = a.orch.StartFolderReindex(g.repository, folderID, recursive)
			}
			if !started {
				return fmt.Errorf("reindex not started: indexing disabled, job already running, or queue full")
			}

			snap := waitForTerminal(a.orch, g.repository)
			r := ui.NewRenderer(cmd.OutOrStdout(), g.noColor, g.asJSON)
			if err := r.RenderStatus(snap); err != nil {
				return err
			}
			if snap.Phase == reindex.PhaseError {
				return fmt.Errorf("reindex failed: %s", snap.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&folderID, "folder", "", "Reindex only this folder")
	cmd.Flags().BoolVar(&recursive, "recursive", true, "Include subfolders of --folder")

	return cmd
}

// waitForTerminal polls the job state until it leaves the running phase.
func waitForTerminal(orch *reindex.Orchestrator, repositoryID string) reindex.Snapshot {
	for {
		snap := orch.GetStatus(repositoryID)
		if snap.Phase != reindex.PhaseRunning {
			return snap
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func newReindexClearCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all indexed records for the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.orch.ClearIndex(cmd.Context(), g.repository) {
				return fmt.Errorf("clear refused: indexing disabled, a job is running, or the store failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index cleared for repository %s.\n", g.repository)
			return nil
		},
	}
}

func newReindexCancelCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running reindex job",
		Long: `Cancel the running reindex job.

Jobs are tracked per process. This command cannot reach a job started
by "reindex start" in another process; use it against a long-running
service, or interrupt the start command directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.orch.Cancel(g.repository) {
				return fmt.Errorf("no reindex job is running for repository %s", g.repository)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cancellation requested.")
			return nil
		},
	}
}

func newReindexStatusCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the repository's reindex job state",
		Long: `Show the repository's reindex job state.

Jobs are tracked per process; a job started by "reindex start" in
another process reports as idle here.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			r := ui.NewRenderer(cmd.OutOrStdout(), g.noColor, g.asJSON)
			return r.RenderStatus(a.orch.GetStatus(g.repository))
		},
	}
}

func newReindexHistoryCmd(g *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past reindex runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.history == nil {
				return fmt.Errorf("run history is disabled: set history.path in the config")
			}
			runs, err := a.history.ListRuns(cmd.Context(), g.repository, limit)
			if err != nil {
				return err
			}
			r := ui.NewRenderer(cmd.OutOrStdout(), g.noColor, g.asJSON)
			return r.RenderHistory(g.repository, runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")

	return cmd
}
