package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/config"
	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/report"
)

func newVisualizeCommand() *cobra.Command {
	var (
		list      bool
		batchID   string
		openAfter bool
	)

	cmd := &cobra.Command{
		Use:   "visualize",
		Short: "Render or open an HTML visualization of a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.VisualizationsDir()
			if err != nil {
				return fmt.Errorf("resolve visualizations dir: %w", err)
			}

			if list {
				return listVisualizations(dir)
			}

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
			if batchID == "" {
				batchID = "latest"
			}
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
				BatchID:           batchID,
				CompletedTasks:    derefTasks(completed),
				FailedTasks:       derefTasks(failed),
				PermanentFailures: permanentFailures,
				Learnings:         learnings,
			}

			path, err := report.RenderHTML(dir, batchID, fmt.Sprintf("Session %s", batchID), pm.ToMarkdown())
			if err != nil {
				return fmt.Errorf("render visualization: %w", err)
			}
			fmt.Println(path)

			if openAfter {
				return openInBrowser(path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list saved visualizations instead of rendering a new one")
	cmd.Flags().StringVarP(&batchID, "session", "s", "", "batch id to render (default: latest)")
	cmd.Flags().BoolVar(&openAfter, "open", false, "open the rendered file in the default browser")
	return cmd
}

func listVisualizations(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read visualizations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func openInBrowser(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	var openCmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		openCmd = exec.Command("open", abs)
	case "windows":
		openCmd = exec.Command("cmd", "/c", "start", abs)
	default:
		openCmd = exec.Command("xdg-open", abs)
	}
	return openCmd.Start()
}
