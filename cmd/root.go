package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command for the trellis CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trellis",
		Short: "Trellis plans and serves a file-backed project hierarchy for agents",
		Long: `Trellis stores a project's plan as a tree of Markdown files with YAML
front-matter: projects, epics, features, and tasks. It exposes that tree
to developer agents through a small set of operations: create, read,
update, claim the next task, and complete it, backed by nothing more
than the filesystem.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./trellis.yaml, falling back to the XDG global config)")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfigFile returns the --config flag value, empty if unset.
func GetConfigFile() string {
	return cfgFile
}
