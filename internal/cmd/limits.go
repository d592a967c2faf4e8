package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newLimitsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show current rate-limit usage per model",
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

			states := a.Tracker.Snapshot()
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(states)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\t5H TOKENS\t5H LIMIT\tWEEKLY TOKENS\tWEEKLY LIMIT")
			for _, s := range states {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
					s.Model, s.FiveHour.TokensUsed, s.FiveHour.Limit, s.Weekly.TokensUsed, s.Weekly.Limit)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}
