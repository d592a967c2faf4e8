package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/models"
)

var allStatuses = []models.Status{
	models.StatusPending,
	models.StatusInProgress,
	models.StatusBlocked,
	models.StatusComplete,
	models.StatusFailed,
}

func newStatusCommand() *cobra.Command {
	var (
		human bool
		events bool
		count int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the task board's current state",
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
			var all []*models.Task
			for _, s := range allStatuses {
				tasks, err := a.Store.ListTasksByStatus(ctx, s)
				if err != nil {
					return fmt.Errorf("list %s tasks: %w", s, err)
				}
				all = append(all, tasks...)
			}

			sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
			if count > 0 && len(all) > count {
				all = all[:count]
			}

			if events {
				return printEvents(ctx, a, all)
			}
			if !human {
				return json.NewEncoder(os.Stdout).Encode(all)
			}
			return printHuman(all)
		},
	}

	cmd.Flags().BoolVar(&human, "human", false, "render a readable table instead of JSON")
	cmd.Flags().BoolVar(&events, "events", false, "show recent attempt history instead of task state")
	cmd.Flags().IntVarP(&count, "count", "n", 20, "limit the number of tasks shown")
	return cmd
}

func printHuman(tasks []*models.Task) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tOBJECTIVE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, t.Status, t.Priority, truncate(t.Objective, 60))
	}
	return w.Flush()
}

func printEvents(ctx context.Context, a *app, tasks []*models.Task) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tATTEMPT\tMODEL\tRESULT\tSTARTED")
	for _, t := range tasks {
		attempts, err := a.Store.AttemptsForTask(ctx, t.ID)
		if err != nil {
			continue
		}
		for _, at := range attempts {
			result := "failed"
			if at.Success {
				result = "success"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", t.ID, at.Number, at.Model, result, at.StartedAt.Format("2006-01-02T15:04:05"))
		}
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
