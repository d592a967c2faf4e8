package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/complexity"
	"github.com/undercity-dev/undercity/internal/config"
	"github.com/undercity-dev/undercity/internal/control"
	"github.com/undercity-dev/undercity/internal/mergequeue"
	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/orchestrator"
	"github.com/undercity-dev/undercity/internal/planner"
	"github.com/undercity-dev/undercity/internal/router"
	"github.com/undercity-dev/undercity/internal/verifier"
	"github.com/undercity-dev/undercity/internal/worker"
)

func newServeCommand() *cobra.Command {
	var (
		port     int
		alsoGrind bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the external control daemon",
		Long: `serve exposes the HTTP status/control endpoints (spec.md §6) on the
configured port. With --grind it also runs the orchestrator dispatch
loop in the same process, draining the task board as it serves requests.`,
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

			invoker := newInvoker()
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
				return &taskRunner{w: w, assessment: assessment, commands: defaultVerificationCommands()}
			}

			orch := orchestrator.New(a.Store, newRunner, mq, orchestrator.Config{MaxConcurrent: cfg.MaxConcurrency})
			orch.Logger = a.Console

			addr := cfg.Control.Addr
			if port > 0 {
				addr = fmt.Sprintf("127.0.0.1:%d", port)
			}
			ctrlCfg := control.DefaultConfig()
			ctrlCfg.Addr = addr
			home, err := config.GetUndercityHome()
			if err == nil {
				ctrlCfg.StateDir = home
			}

			newTaskID := func(objective string) string { return uuid.NewString() }
			srv := control.New(ctrlCfg, orch, a.Store, a.Tracker, newTaskID, a.Console)
			if err := srv.Start(); err != nil {
				return fmt.Errorf("start control server: %w", err)
			}
			a.Console.Printf("serving on %s", addr)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 1)
			if alsoGrind {
				go func() {
					_, runErr := orch.Run(ctx)
					errCh <- runErr
				}()
			}

			select {
			case <-sigCh:
			case <-srv.StopRequested():
			case err := <-errCh:
				if err != nil {
					a.Console.Errorf("grind loop stopped: %v", err)
				}
			}

			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ctrlCfg.ShutdownTimeout)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default: configured control.addr)")
	cmd.Flags().BoolVar(&alsoGrind, "grind", false, "also run the orchestrator dispatch loop in this process")
	return cmd
}
