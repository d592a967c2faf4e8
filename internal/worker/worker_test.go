package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercity-dev/undercity/internal/agent"
	"github.com/undercity-dev/undercity/internal/budget"
	"github.com/undercity-dev/undercity/internal/complexity"
	"github.com/undercity-dev/undercity/internal/config"
	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/router"
	"github.com/undercity-dev/undercity/internal/verifier"
)

type fakeInvoker struct {
	results []*agent.Result
	errs    []error
	calls   int
}

func (f *fakeInvoker) Invoke(ctx context.Context, req agent.Request) (*agent.Result, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], f.errs[i]
}

type fakeRunner struct {
	pass bool
}

func (f *fakeRunner) Run(ctx context.Context, command string) (string, error) {
	if f.pass {
		return "ok", nil
	}
	return "FAIL", errors.New("exit status 1")
}

func newTestRouter() *router.Router {
	return router.New(config.RouterConfig{
		LowModel: "haiku",
		MidModel: "sonnet",
		TopModel: "opus",
	})
}

func respWithFiles(files ...string) *agent.Result {
	return &agent.Result{Response: &models.AgentResponse{Files: files}}
}

func TestWorker_Run_SucceedsFirstAttempt(t *testing.T) {
	inv := &fakeInvoker{
		results: []*agent.Result{respWithFiles("a.go")},
		errs:    []error{nil},
	}
	v := verifier.New(&fakeRunner{pass: true})
	w := New(inv, newTestRouter(), v, NewMemoryCheckpointStore())

	task := models.Task{ID: "t1", Objective: "implement the thing"}
	assessment := complexity.Assessment{}

	outcome, err := w.Run(context.Background(), task, assessment,
		[]verifier.Command{{Kind: models.ErrBuild, Name: "go build ./..."}}, nil)

	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Phase)
	assert.Equal(t, models.StatusComplete, outcome.Task.Status)
	assert.Equal(t, 1, inv.calls)
}

func TestWorker_Run_RetriesSameTierThenEscalates(t *testing.T) {
	inv := &fakeInvoker{
		results: []*agent.Result{
			respWithFiles("a.go"),
			respWithFiles("a.go"),
			respWithFiles("a.go"),
		},
		errs: []error{nil, nil, nil},
	}
	runner := &failNTimesRunner{failCount: 2}
	v := verifier.New(runner)
	w := New(inv, newTestRouter(), v, NewMemoryCheckpointStore())
	w.Config = Config{MaxAttempts: 6, MaxRetriesPerTier: 1, NoOpThreshold: 10}

	task := models.Task{ID: "t2", Objective: "fix the bug"}
	outcome, err := w.Run(context.Background(), task, complexity.Assessment{},
		[]verifier.Command{{Kind: models.ErrBuild, Name: "go build ./..."}}, nil)

	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Phase)
	assert.True(t, inv.calls >= 3)
}

type failNTimesRunner struct {
	failCount int
	calls     int
}

func (f *failNTimesRunner) Run(ctx context.Context, command string) (string, error) {
	f.calls++
	if f.calls <= f.failCount {
		return "FAIL", errors.New("exit status 1")
	}
	return "ok", nil
}

func TestWorker_Run_PermanentFailureAfterMaxAttempts(t *testing.T) {
	results := make([]*agent.Result, 0)
	errs := make([]error, 0)
	for i := 0; i < 10; i++ {
		results = append(results, respWithFiles("a.go"))
		errs = append(errs, nil)
	}
	inv := &fakeInvoker{results: results, errs: errs}
	v := verifier.New(&fakeRunner{pass: false})
	w := New(inv, newTestRouter(), v, NewMemoryCheckpointStore())
	w.Config = Config{MaxAttempts: 3, MaxRetriesPerTier: 1, NoOpThreshold: 10}

	task := models.Task{ID: "t3", Objective: "impossible task"}
	outcome, err := w.Run(context.Background(), task, complexity.Assessment{},
		[]verifier.Command{{Kind: models.ErrBuild, Name: "go build ./..."}}, nil)

	require.Error(t, err)
	assert.Equal(t, PhaseFailed, outcome.Phase)
	require.NotNil(t, outcome.Permanent)
	assert.Equal(t, models.ErrMaxAttempts, outcome.Permanent.Category)
}

func TestWorker_Run_NoOpStreakMarksComplete(t *testing.T) {
	inv := &fakeInvoker{
		results: []*agent.Result{
			respWithFiles(),
			respWithFiles(),
			respWithFiles(),
		},
		errs: []error{nil, nil, nil},
	}
	v := verifier.New(&fakeRunner{pass: true})
	w := New(inv, newTestRouter(), v, NewMemoryCheckpointStore())
	w.Config = Config{MaxAttempts: 10, MaxRetriesPerTier: 5, NoOpThreshold: 3}

	task := models.Task{ID: "t4", Objective: "already done"}
	outcome, err := w.Run(context.Background(), task, complexity.Assessment{}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Phase)
	assert.Equal(t, 3, inv.calls)
}

func TestWorker_Run_InvokeErrorTriggersRetry(t *testing.T) {
	inv := &fakeInvoker{
		results: []*agent.Result{nil, respWithFiles("a.go")},
		errs:    []error{errors.New("transient failure"), nil},
	}
	v := verifier.New(&fakeRunner{pass: true})
	w := New(inv, newTestRouter(), v, NewMemoryCheckpointStore())
	w.Config = Config{MaxAttempts: 6, MaxRetriesPerTier: 2, NoOpThreshold: 10}

	task := models.Task{ID: "t5", Objective: "flaky invocation"}
	outcome, err := w.Run(context.Background(), task, complexity.Assessment{},
		[]verifier.Command{{Kind: models.ErrBuild, Name: "go build ./..."}}, nil)

	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Phase)
	assert.Equal(t, 2, inv.calls)
}

func TestWorker_Run_ResumesFromExistingCheckpoint(t *testing.T) {
	store := NewMemoryCheckpointStore()
	require.NoError(t, store.Save(Checkpoint{TaskID: "t6", Phase: PhaseStarting, Model: "sonnet", Attempt: 0}))

	inv := &fakeInvoker{results: []*agent.Result{respWithFiles("a.go")}, errs: []error{nil}}
	v := verifier.New(&fakeRunner{pass: true})
	w := New(inv, newTestRouter(), v, store)

	task := models.Task{ID: "t6", Objective: "resume me"}
	outcome, err := w.Run(context.Background(), task, complexity.Assessment{},
		[]verifier.Command{{Kind: models.ErrBuild, Name: "go build ./..."}}, nil)

	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Phase)
	assert.Equal(t, 1, inv.calls)

	saved, ok, loadErr := store.Load("t6")
	require.NoError(t, loadErr)
	require.True(t, ok)
	assert.Equal(t, "sonnet", saved.Model)
}

type fakePlanner struct {
	plan models.ExecutionPlan
	err  error
}

func (f *fakePlanner) PlanTask(ctx context.Context, task models.Task, startTier router.Tier) (models.ExecutionPlan, error) {
	return f.plan, f.err
}

func TestWorker_Run_PlannerAlreadyCompleteSkipsExecution(t *testing.T) {
	inv := &fakeInvoker{}
	v := verifier.New(&fakeRunner{pass: true})
	w := New(inv, newTestRouter(), v, NewMemoryCheckpointStore())
	w.Planner = &fakePlanner{plan: models.ExecutionPlan{
		Objective:       "noop",
		AlreadyComplete: &models.AlreadyComplete{Likely: true, Reason: "already done"},
	}}

	task := models.Task{ID: "t8", Objective: "noop"}
	outcome, err := w.Run(context.Background(), task, complexity.Assessment{}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Phase)
	assert.Equal(t, 0, inv.calls)
}

func TestWorker_Run_PlannerBlockedFailsTask(t *testing.T) {
	inv := &fakeInvoker{}
	v := verifier.New(&fakeRunner{pass: true})
	w := New(inv, newTestRouter(), v, NewMemoryCheckpointStore())
	w.Planner = &fakePlanner{plan: models.ExecutionPlan{
		Objective: "risky change",
		Steps:     []string{"do the risky thing"},
		OpenQuestions: []models.OpenQuestion{
			{Question: "should we delete the production database?"},
		},
	}}

	task := models.Task{ID: "t9", Objective: "risky change"}
	outcome, err := w.Run(context.Background(), task, complexity.Assessment{}, nil, nil)

	require.Error(t, err)
	assert.Equal(t, PhaseFailed, outcome.Phase)
	assert.Equal(t, models.StatusBlocked, outcome.Task.Status)
	assert.Equal(t, 0, inv.calls)
}

func TestWorker_Run_ContextCancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	inv := &fakeInvoker{results: []*agent.Result{respWithFiles("a.go")}, errs: []error{nil}}
	v := verifier.New(&fakeRunner{pass: true})
	w := New(inv, newTestRouter(), v, NewMemoryCheckpointStore())

	task := models.Task{ID: "t7", Objective: "cancelled"}
	_, err := w.Run(ctx, task, complexity.Assessment{}, nil, nil)
	require.Error(t, err)
}

func TestWorker_Run_RateLimitPausesInsteadOfEscalating(t *testing.T) {
	inv := &fakeInvoker{
		results: []*agent.Result{nil, respWithFiles("a.go")},
		errs: []error{
			&agent.ErrRateLimit{Info: &budget.RateLimitInfo{ResetAt: time.Now().Add(10 * time.Millisecond)}},
			nil,
		},
	}
	v := verifier.New(&fakeRunner{pass: true})
	w := New(inv, newTestRouter(), v, NewMemoryCheckpointStore())
	w.Config = Config{MaxAttempts: 6, MaxRetriesPerTier: 0, NoOpThreshold: 10}
	tracker := budget.NewTracker()
	w.Guard = budget.NewGuard(tracker, 0.9)
	w.Tracker = tracker

	task := models.Task{ID: "t10", Objective: "rate limited once"}
	outcome, err := w.Run(context.Background(), task, complexity.Assessment{},
		[]verifier.Command{{Kind: models.ErrBuild, Name: "go build ./..."}}, nil)

	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Phase)
	assert.Equal(t, 2, inv.calls, "the rate-limited attempt retries without consuming MaxRetriesPerTier")
}
