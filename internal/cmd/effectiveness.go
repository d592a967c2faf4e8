package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/router"
)

type modelEffectiveness struct {
	Model       string  `json:"model"`
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

func newEffectivenessCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "effectiveness",
		Short: "Report success rate per model tier across all attempts",
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
			stats := map[string]router.SuccessStats{}
			for _, status := range allStatuses {
				tasks, err := a.Store.ListTasksByStatus(ctx, status)
				if err != nil {
					return fmt.Errorf("list %s tasks: %w", status, err)
				}
				for _, t := range tasks {
					attempts, err := a.Store.AttemptsForTask(ctx, t.ID)
					if err != nil {
						return fmt.Errorf("list attempts for %s: %w", t.ID, err)
					}
					for _, at := range attempts {
						s := stats[at.Model]
						s.Attempts++
						if at.Success {
							s.Successes++
						}
						stats[at.Model] = s
					}
				}
			}

			var rows []modelEffectiveness
			for model, s := range stats {
				rows = append(rows, modelEffectiveness{
					Model: model, Attempts: s.Attempts, Successes: s.Successes, SuccessRate: s.SuccessRate(),
				})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Model < rows[j].Model })

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(rows)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tATTEMPTS\tSUCCESSES\tSUCCESS RATE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\n", r.Model, r.Attempts, r.Successes, r.SuccessRate)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}
