package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/logger"
	"github.com/undercity-dev/undercity/internal/models"
)

func newWatchCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live-refresh the task board in the terminal",
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
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			render := func() error {
				var total, done int
				for _, status := range allStatuses {
					tasks, err := a.Store.ListTasksByStatus(ctx, status)
					if err != nil {
						return fmt.Errorf("list %s tasks: %w", status, err)
					}
					total += len(tasks)
					if status == models.StatusComplete || status == models.StatusFailed {
						done += len(tasks)
					}
				}

				bar := logger.NewProgressBar(total, 40, true)
				bar.SetPrefix("batch")
				bar.Update(done)
				fmt.Print("\033[H\033[2J")
				fmt.Println(bar.Render())
				return nil
			}

			if err := render(); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := render(); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}
