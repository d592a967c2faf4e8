package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/config"
)

func newInitCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a .undercity state directory and .undercityrc",
		RunE: func(cmd *cobra.Command, args []string) error {
			root := dir
			if root == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("get working directory: %w", err)
				}
				root = cwd
			}

			stateDir := filepath.Join(root, ".undercity")
			for _, sub := range []string{"logs", "learning", "visualizations", "checkpoints"} {
				if err := os.MkdirAll(filepath.Join(stateDir, sub), 0o755); err != nil {
					return fmt.Errorf("create %s: %w", sub, err)
				}
			}

			rcPath := filepath.Join(root, ".undercityrc")
			if _, err := os.Stat(rcPath); err == nil {
				fmt.Printf("%s already exists, leaving it untouched\n", rcPath)
			} else if os.IsNotExist(err) {
				defaults := config.DefaultConfig()
				data, err := json.MarshalIndent(defaults, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal default config: %w", err)
				}
				if err := os.WriteFile(rcPath, data, 0o644); err != nil {
					return fmt.Errorf("write .undercityrc: %w", err)
				}
				fmt.Printf("wrote %s\n", rcPath)
			} else {
				return fmt.Errorf("stat .undercityrc: %w", err)
			}

			markerPath := filepath.Join(root, ".undercity-root")
			if _, err := os.Stat(markerPath); os.IsNotExist(err) {
				if err := os.WriteFile(markerPath, []byte{}, 0o644); err != nil {
					return fmt.Errorf("write .undercity-root marker: %w", err)
				}
			}

			fmt.Printf("initialized undercity state under %s\n", stateDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "repo root to initialize (default: current directory)")
	return cmd
}
