// Package cmd provides the CLI commands for ragsearch.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openecm/ragsearch/pkg/version"
)

// globalOptions holds the persistent flags shared by all commands.
type globalOptions struct {
	configPath string
	repository string
	source     string
	user       string
	groups     []string
	asJSON     bool
	noColor    bool
	debug      bool
}

// NewRootCmd creates the root command for the ragsearch CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "ragsearch",
		Short: "Semantic vector search over a content repository",
		Long: `ragsearch indexes a content repository into a vector store and answers
semantic queries over it.

Documents are chunked and embedded; each query searches both chunk
content and document properties, fuses the two channels with configured
boosts, and enforces reader permissions on every result.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("ragsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "ragsearch.yaml", "Path to the config file")
	cmd.PersistentFlags().StringVarP(&g.repository, "repository", "r", "default", "Repository ID")
	cmd.PersistentFlags().StringVar(&g.source, "source", ".", "Content source directory")
	cmd.PersistentFlags().StringVarP(&g.user, "user", "u", "admin", "User the search runs as")
	cmd.PersistentFlags().StringSliceVarP(&g.groups, "group", "g", nil, "Group membership of the user (repeatable)")
	cmd.PersistentFlags().BoolVar(&g.asJSON, "json", false, "Emit JSON instead of styled text")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newReindexCmd(g))
	cmd.AddCommand(newHealthCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
