package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newDecisionsCommand() *cobra.Command {
	var (
		pending bool
		process bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List or resolve pending human-required decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			points, err := a.Decisions.Pending(ctx, "")
			if err != nil {
				return fmt.Errorf("list pending decisions: %w", err)
			}

			if process {
				reader := bufio.NewReader(os.Stdin)
				for _, d := range points {
					fmt.Printf("\ntask %s: %s\n", d.TaskID, d.Question)
					if len(d.Options) > 0 {
						fmt.Printf("options: %s\n", strings.Join(d.Options, ", "))
					}
					fmt.Print("resolution> ")
					line, _ := reader.ReadString('\n')
					outcome := strings.TrimSpace(line)
					if outcome == "" {
						continue
					}
					if err := a.Decisions.ResolveHuman(ctx, d, outcome, "cli"); err != nil {
						return fmt.Errorf("resolve decision %d: %w", d.ID, err)
					}
				}
				return nil
			}

			if !pending {
				pending = true
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(points)
			}
			for _, d := range points {
				fmt.Printf("[%d] task=%s category=%s question=%q\n", d.ID, d.TaskID, d.Category, d.Question)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "list pending decisions (default view)")
	cmd.Flags().BoolVar(&process, "process", false, "interactively resolve pending decisions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}
