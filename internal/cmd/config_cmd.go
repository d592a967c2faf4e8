package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/config"
)

func newConfigCommand() *cobra.Command {
	var initFlag bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or write out defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if initFlag {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("get working directory: %w", err)
				}
				rcPath := filepath.Join(cwd, ".undercityrc")
				if _, err := os.Stat(rcPath); err == nil {
					return fmt.Errorf("%s already exists", rcPath)
				}
				data, err := json.MarshalIndent(config.DefaultConfig(), "", "  ")
				if err != nil {
					return fmt.Errorf("marshal default config: %w", err)
				}
				if err := os.WriteFile(rcPath, data, 0o644); err != nil {
					return fmt.Errorf("write .undercityrc: %w", err)
				}
				fmt.Printf("wrote %s\n", rcPath)
				return nil
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&initFlag, "init", false, "write a .undercityrc populated with defaults")
	return cmd
}
