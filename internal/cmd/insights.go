package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/report"
)

func newInsightsCommand() *cobra.Command {
	var (
		asJSON bool
		since  string
		last   string
	)

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Summarize success rate, recurring errors, and file correlations",
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

			sinceAt, err := resolveSince(since, last)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			completed, err := a.Store.ListTasksByStatus(ctx, models.StatusComplete)
			if err != nil {
				return fmt.Errorf("list completed tasks: %w", err)
			}
			failed, err := a.Store.ListTasksByStatus(ctx, models.StatusFailed)
			if err != nil {
				return fmt.Errorf("list failed tasks: %w", err)
			}

			var completedSince, failedSince int
			for _, t := range completed {
				if t.CreatedAt.After(sinceAt) {
					completedSince++
				}
			}
			for _, t := range failed {
				if t.CreatedAt.After(sinceAt) {
					failedSince++
				}
			}
			taskCount := completedSince + failedSince
			successRate := 0.0
			if taskCount > 0 {
				successRate = float64(completedSince) / float64(taskCount)
			}

			patterns, err := a.Store.ListErrorPatterns(ctx, 10)
			if err != nil {
				return fmt.Errorf("list error patterns: %w", err)
			}
			correlations, err := a.Store.TopKeywordCorrelations(ctx, 10)
			if err != nil {
				return fmt.Errorf("list keyword correlations: %w", err)
			}

			insights := report.Insights{
				Since:            sinceAt,
				TaskCount:        taskCount,
				SuccessRate:      successRate,
				TopErrorPatterns: patterns,
				TopCorrelations:  correlations,
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(insights)
			}
			fmt.Println(insights.ToMarkdown())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	cmd.Flags().StringVar(&since, "since", "", "only include tasks created after this RFC3339 timestamp")
	cmd.Flags().StringVar(&last, "last", "", "only include tasks created within this duration (e.g. 24h, 7d)")
	return cmd
}

func resolveSince(since, last string) (time.Time, error) {
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse --since: %w", err)
		}
		return t, nil
	}
	if last != "" {
		d, err := parseDuration(last)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse --last: %w", err)
		}
		return time.Now().Add(-d), nil
	}
	return time.Time{}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if len(s) > 0 && s[len(s)-1] == 'd' {
		days, err := time.ParseDuration(s[:len(s)-1] + "h")
		if err != nil {
			return 0, err
		}
		return days * 24, nil
	}
	return time.ParseDuration(s)
}
