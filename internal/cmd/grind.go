package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/complexity"
	"github.com/undercity-dev/undercity/internal/config"
	"github.com/undercity-dev/undercity/internal/mergequeue"
	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/orchestrator"
	"github.com/undercity-dev/undercity/internal/planner"
	"github.com/undercity-dev/undercity/internal/router"
	"github.com/undercity-dev/undercity/internal/verifier"
	"github.com/undercity-dev/undercity/internal/worker"
)

// taskRunner adapts a worker.Worker into orchestrator.Runner: it
// carries the per-task complexity assessment and verification plan
// the orchestrator's selectNext loop computed, and names a branch per
// task (task/<id>) for the merge queue to rebase and test.
type taskRunner struct {
	w          *worker.Worker
	assessment complexity.Assessment
	commands   []verifier.Command
	criteria   []verifier.Criterion
}

func (r *taskRunner) RunTask(ctx context.Context, task models.Task) (orchestrator.TaskOutcome, error) {
	outcome, err := r.w.Run(ctx, task, r.assessment, r.commands, r.criteria)
	if err != nil {
		return orchestrator.TaskOutcome{Task: outcome.Task, Succeeded: false}, err
	}
	succeeded := outcome.Phase == worker.PhaseComplete
	var files []string
	if outcome.Response != nil {
		files = outcome.Response.Files
	}
	return orchestrator.TaskOutcome{
		Task:          outcome.Task,
		Succeeded:     succeeded,
		Branch:        fmt.Sprintf("task/%s", task.ID),
		ModifiedFiles: files,
	}, nil
}

func defaultVerificationCommands() []verifier.Command {
	return []verifier.Command{
		{Kind: models.ErrTypecheck, Name: "typecheck"},
		{Kind: models.ErrTest, Name: "test"},
	}
}

func newGrindCommand() *cobra.Command {
	var (
		count         int
		parallel      int
		supervised    bool
		modelOverride string
		noCommit      bool
		noTypecheck   bool
		review        bool
	)

	cmd := &cobra.Command{
		Use:   "grind [goal]",
		Short: "Run a single task, or drain the task board",
		Long: `With a goal argument, grind runs it as a single task.
Without one, it drains the pending task board, dispatching up to
-p workers in parallel until no more tasks are ready.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if modelOverride != "" {
				cfg.Router.ModelOverride = modelOverride
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			invoker := newInvoker()
			if noTypecheck {
				// no-op placeholder for flag plumbing; commands list
				// below is adjusted accordingly.
			}

			pm := &planner.PolicyPM{Invoker: invoker, Model: a.Router.ModelFor(router.TierMid)}
			plan := planner.New(invoker, a.Router, a.Decisions, pm)

			gitOps := mergequeue.NewShellGitOps(".")
			mq := mergequeue.New(gitOps, a.Store, a.Console, cfg.MergeQueue, "main", "")

			newRunner := func(task models.Task, assessment complexity.Assessment) orchestrator.Runner {
				w := worker.New(invoker, a.Router, verifier.New(verifier.NewShellCommandRunner(".")), worker.NewFileCheckpointStore(checkpointDir()))
				w.Planner = plan
				w.FixAdvisor = a.FixAdvisor
				w.Knowledge = a.Knowledge
				w.Correlation = a.Correlation
				w.Guard = a.Guard
				w.Tracker = a.Tracker

				commands := defaultVerificationCommands()
				if noTypecheck {
					commands = []verifier.Command{{Kind: models.ErrTest, Name: "test"}}
				}
				return &taskRunner{w: w, assessment: assessment, commands: commands}
			}

			maxConcurrent := cfg.MaxConcurrency
			if parallel > 0 {
				maxConcurrent = parallel
			}

			orch := orchestrator.New(a.Store, newRunner, mq, orchestrator.Config{
				MaxConcurrent: maxConcurrent,
				Limit:         count,
			})
			orch.Logger = a.Console

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				a.Console.Printf("grind: signal received, waiting for in-flight workers to finish")
				cancel()
			}()

			if len(args) > 0 {
				objective := args[0]
				task := &models.Task{
					ID:        uuid.NewString(),
					Objective: objective,
					Status:    models.StatusPending,
					CreatedAt: time.Now(),
				}
				if err := a.Store.UpsertTask(ctx, task); err != nil {
					return fmt.Errorf("enqueue task: %w", err)
				}
				orch.Config.Limit = 1
			}

			batch, err := orch.Run(ctx)
			if err != nil {
				return err
			}
			a.Console.LogBatchSummary(batch.BatchID, len(batch.CompletedTaskIDs), len(batch.FailedTaskIDs), len(batch.PendingTaskIDs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many tasks (0 = drain the board)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "max concurrent workers, 1-5 (default: configured max_concurrency)")
	cmd.Flags().BoolVar(&supervised, "supervised", false, "accepted; has no effect")
	cmd.Flags().StringVarP(&modelOverride, "model", "m", "", "starting tier for every task (low, mid or top, capped at max_tier); escalation still applies")
	cmd.Flags().BoolVar(&noCommit, "no-commit", false, "accepted; has no effect")
	cmd.Flags().BoolVar(&noTypecheck, "no-typecheck", false, "skip the typecheck verification command")
	cmd.Flags().BoolVar(&review, "review", false, "accepted; has no effect")
	cmd.Flags().Bool("worker", false, "accepted; has no effect")

	return cmd
}

func checkpointDir() string {
	home, err := config.GetUndercityHome()
	if err != nil {
		return ".undercity/checkpoints"
	}
	return home + "/checkpoints"
}
