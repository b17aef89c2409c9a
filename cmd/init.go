package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trellis-mcp/trellis-go/internal/config"
	"github.com/trellis-mcp/trellis-go/internal/depgraph"
	"github.com/trellis-mcp/trellis-go/internal/idutil"
	"github.com/trellis-mcp/trellis-go/internal/scanner"
)

func newInitCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or validate a planning root",
		Long:  "Create the planning/projects skeleton if missing, then scan whatever is already there and report any dependency cycles.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, root)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "planning root directory (default: the configured planning_root)")

	return cmd
}

func runInit(cmd *cobra.Command, root string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.LoadSettingsWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if root == "" {
		root = cfg.PlanningRoot
	}

	roots, err := idutil.ResolvePlanningRoot(root)
	if err != nil {
		return fmt.Errorf("resolve planning root: %w", err)
	}

	if cfg.AutoCreateDirs {
		if err := idutil.EnsurePlanningSkeleton(roots.ResolutionRoot); err != nil {
			return fmt.Errorf("create planning skeleton: %w", err)
		}
	}

	objects := scanner.GetAllObjects(roots.ScanRoot)
	g := depgraph.Build(objects)
	if cycle := g.DetectCycle(); cycle != nil {
		return fmt.Errorf("planning tree contains a dependency cycle: %v", cycle)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Initialized planning root at %s\n", roots.ResolutionRoot)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Found %d object(s), no dependency cycles\n", len(objects))

	return nil
}
