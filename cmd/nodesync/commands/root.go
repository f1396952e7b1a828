// Package commands implements the nodesync command line interface.
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

	// buildVersion is stamped into the Registry descriptions nodesync
	// creates.
	buildVersion = "dev"
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nodesync",
		Short: "nodesync - Registry fleet inventory synchronization",
		Long: `nodesync keeps the Registry appliance's fleet inventory in step with
configuration-management runs.

For each completed run it looks up or creates the node, its role and
OS node groups and its environment in the Registry, attaches
memberships, and triggers a scan labelled with what changed. When the
Registry is unreachable, requests are queued durably on disk and
replayed on the next reachable run.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newProcessCommand())
	rootCmd.AddCommand(newDrainCommand())
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
