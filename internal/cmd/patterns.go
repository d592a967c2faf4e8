package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPatternsCommand() *cobra.Command {
	var (
		asJSON bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List recurring error patterns, ranked by occurrence",
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

			patterns, err := a.Store.ListErrorPatterns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list error patterns: %w", err)
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(patterns)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tOCCURRENCES\tLAST SEEN\tSAMPLE")
			for _, p := range patterns {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.Category, p.OccurrenceCount,
					p.LastSeen.Format("2006-01-02T15:04:05"), truncate(p.SampleMessage, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max patterns to show")
	return cmd
}
