// Package commands implements the durga CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "durga",
		Short: "Durga - autonomous event bridge and approval queue",
		Long: `Durga watches your mail, messages and form submissions, queues
suggested actions for approval, and drives browser automation on request.

Examples:
  durga serve
  durga serve --config ./config.yaml
  durga config init
  durga health`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
