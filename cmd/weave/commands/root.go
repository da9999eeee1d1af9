package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "weave",
		Short: "NodeWeave - Sandboxed Component Dataflow Runtime",
		Long: `NodeWeave executes dataflow graphs whose nodes are untrusted WASM
components running inside capability-scoped sandboxes.

Features:
  - Typed graph definitions via CUE
  - WASM component sandbox with deny-by-default capability grants
  - Compiled module cache and instance pooling
  - Continuous node execution with live output events
  - Policy-gated grant approval via OPA/rego
  - Starlark expression nodes for light transforms`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "runtime config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newComponentsCommand())
	rootCmd.AddCommand(newGrantsCommand())

	return rootCmd
}
