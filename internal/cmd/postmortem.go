package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/report"
)

func newPostmortemCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "postmortem",
		Short: "Summarize the most recent batch's failures and learnings",
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
			completed, err := a.Store.ListTasksByStatus(ctx, models.StatusComplete)
			if err != nil {
				return fmt.Errorf("list completed tasks: %w", err)
			}
			failed, err := a.Store.ListTasksByStatus(ctx, models.StatusFailed)
			if err != nil {
				return fmt.Errorf("list failed tasks: %w", err)
			}
			permanentFailures, err := a.Store.ListPermanentFailures(ctx, 20)
			if err != nil {
				return fmt.Errorf("list permanent failures: %w", err)
			}
			learnings, err := a.Store.AllLearnings(ctx)
			if err != nil {
				return fmt.Errorf("list learnings: %w", err)
			}

			pm := report.Postmortem{
				BatchID:           "latest",
				CompletedTasks:    derefTasks(completed),
				FailedTasks:       derefTasks(failed),
				PermanentFailures: permanentFailures,
				Learnings:         learnings,
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(pm)
			}
			fmt.Println(pm.ToMarkdown())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}

func derefTasks(tasks []*models.Task) []models.Task {
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, *t)
	}
	return out
}
