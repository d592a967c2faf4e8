package cmd

import (
	"fmt"
	"os"

	"github.com/undercity-dev/undercity/internal/agent"
	"github.com/undercity-dev/undercity/internal/budget"
	"github.com/undercity-dev/undercity/internal/config"
	"github.com/undercity-dev/undercity/internal/learning"
	"github.com/undercity-dev/undercity/internal/logger"
	"github.com/undercity-dev/undercity/internal/persistence"
	"github.com/undercity-dev/undercity/internal/router"
)

// app bundles the components every non-trivial subcommand needs:
// configuration, persistence, logging, and the learning subsystem's
// trackers. Grounded on the teacher's per-command ad hoc wiring in
// internal/cmd/run.go, consolidated here since every subcommand in
// this system shares the same embedded store instead of parsing a
// fresh plan file per invocation.
type app struct {
	Config   *config.Config
	Store    *persistence.Store
	Console  *logger.ConsoleLogger
	Router   *router.Router
	Knowledge   *learning.KnowledgeBase
	FixAdvisor  *learning.FixAdvisor
	Correlation *learning.CorrelationTracker
	Decisions   *learning.DecisionTracker
	Tracker     *budget.Tracker
	Guard       *budget.Guard
}

// newApp opens the store and constructs every shared component from
// cfg. Callers must call Close when done.
func newApp(cfg *config.Config) (*app, error) {
	dbPath, err := config.PersistenceDBPath()
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	store, err := persistence.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open persistence store: %w", err)
	}

	console := logger.NewConsoleLogger(os.Stdout, cfg.LogLevel)
	r := router.New(cfg.Router)
	tracker := budget.NewTracker()
	guard := budget.NewGuard(tracker, cfg.Budget.PauseThreshold)
	guard.FiveHourLimit = cfg.Budget.FiveHourTokenLimit
	guard.WeeklyLimit = cfg.Budget.WeeklyTokenLimit

	a := &app{
		Config:      cfg,
		Store:       store,
		Console:     console,
		Router:      r,
		Knowledge:   learning.NewKnowledgeBase(store, learning.JaccardSimilarity, cfg.Learning.NoveltyThreshold),
		FixAdvisor:  learning.NewFixAdvisor(store),
		Correlation: learning.NewCorrelationTracker(store),
		Decisions:   learning.NewDecisionTracker(store, cfg.Learning.MaxOverrideLog),
		Tracker:     tracker,
		Guard:       guard,
	}
	return a, nil
}

func (a *app) Close() error {
	return a.Store.Close()
}

// newInvoker builds the configured CLI-backed agent invoker. The
// command name is fixed per spec.md's "arbitrary black box" model:
// any CLI honoring the same --print/--output-format json contract the
// teacher's claude CLI invocation uses will work.
func newInvoker() agent.Invoker {
	return agent.NewCLIInvoker("claude", "--print", "--output-format", "json")
}
