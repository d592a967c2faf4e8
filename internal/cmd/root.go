// Package cmd implements undercity's CLI surface (spec.md §6), one
// file per subcommand, grounded on the teacher's internal/cmd
// (NewRootCommand + one NewXCommand per subcommand) and
// github.com/spf13/cobra.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/config"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand builds the root cobra command and wires every
// subcommand named in spec.md §6.
func NewRootCommand() *cobra.Command {
	var rcPath string
	var logLevel string

	root := &cobra.Command{
		Use:          "undercity",
		Short:        "Autonomous multi-agent task orchestration",
		Version:      Version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&rcPath, "config", "", "path to .undercityrc (default: repo root)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newGrindCommand())
	root.AddCommand(newLimitsCommand())
	root.AddCommand(newWatchCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newDaemonCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newPostmortemCommand())
	root.AddCommand(newInsightsCommand())
	root.AddCommand(newPatternsCommand())
	root.AddCommand(newDecisionsCommand())
	root.AddCommand(newEffectivenessCommand())
	root.AddCommand(newVisualizeCommand())
	root.AddCommand(newInitCommand())
	root.AddCommand(newSetupCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newOracleCommand())

	return root
}

// loadConfig resolves effective configuration the way every subcommand
// needs it: defaults, then .undercityrc, then CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	rcPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.Load(rcPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.MergeWithFlags(nil, nil, nil, &logLevel)
	}
	return cfg, nil
}

// exitCode translates an error into spec.md §6's exit code convention:
// 0 success, 1 generic failure, 2 configuration invalid.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, config.ErrInvalidConfig) {
		return 2
	}
	return 1
}

// fail prints err to stderr and exits with the right code for it.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCode(err))
}

// Execute runs the root command and returns the process exit code spec.md
// §6 defines (0 success, 1 generic failure, 2 configuration invalid),
// printing any error to stderr itself so main need only pass the code to
// os.Exit.
func Execute() int {
	root := NewRootCommand()
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}
