// Package orchestrator runs the top-level dispatch loop: it pulls
// ready tasks from the board, enforces a concurrency cap, spawns a
// Worker per task, and hands completed branches to the MergeQueue.
// Generalized from the teacher's internal/executor orchestrator.go +
// wave.go (bounded parallel execution within one statically computed
// wave) into continuous board draining with dynamically discovered
// readiness, since spec.md's task board has no fixed wave structure:
// tasks can be added, blocked, and unblocked while the loop runs.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/undercity-dev/undercity/internal/complexity"
	"github.com/undercity-dev/undercity/internal/models"
)

// Board is the subset of persistence the dispatch loop needs to read
// and mutate task state. Grounded on the teacher's LearningStoreInterface
// narrow-interface pattern: the orchestrator depends on exactly the
// methods it calls, not the full persistence.Store surface.
type Board interface {
	ListTasksByStatus(ctx context.Context, status models.Status) ([]*models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpsertTask(ctx context.Context, t *models.Task) error
}

// Runner executes one task to completion or permanent failure. Worker
// satisfies this after partial application of its verification
// commands/criteria, which the dispatch loop does not need to see.
type Runner interface {
	RunTask(ctx context.Context, task models.Task) (TaskOutcome, error)
}

// TaskOutcome is what the dispatch loop needs back from a Runner: the
// final task state and, on success, the branch and files to hand to
// the merge queue.
type TaskOutcome struct {
	Task          models.Task
	Succeeded     bool
	Branch        string
	ModifiedFiles []string
}

// MergeQueue is the subset of mergequeue.Queue the orchestrator feeds
// a successful worker's branch into.
type MergeQueue interface {
	Add(ctx context.Context, branch, stepID, agentID string, modifiedFiles []string) (*models.MergeQueueItem, error)
}

// BatchState is the recovery record persisted at the start of a batch
// and updated as tasks complete, per spec.md §4.9's "Recovery" note.
type BatchState struct {
	BatchID          string    `json:"batch_id"`
	StartedAt        time.Time `json:"started_at"`
	PendingTaskIDs   []string  `json:"pending_task_ids"`
	CompletedTaskIDs []string  `json:"completed_task_ids"`
	FailedTaskIDs    []string  `json:"failed_task_ids"`
}

// BatchStore persists BatchState across restarts, grounded on the
// worker package's FileCheckpointStore atomic-write convention.
type BatchStore interface {
	Save(state BatchState) error
	Load(batchID string) (BatchState, bool, error)
}

// Logger reports dispatch-loop progress, grounded on the teacher's
// Logger interface (LogWaveStart/LogTaskResult/LogSummary), narrowed
// to the handful of events a continuous board loop actually emits.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Config bounds the dispatch loop.
type Config struct {
	// MaxConcurrent is the number of workers allowed in flight at
	// once, 1-5 per spec.md §4.9.
	MaxConcurrent int

	// Limit stops the loop after this many tasks have been
	// dispatched, 0 means unbounded (drain until the board is
	// empty).
	Limit int
}

// Orchestrator is the top-level dispatcher of spec.md §4.9: it reads
// pending tasks, respects MaxConcurrent, spawns one Runner per free
// slot for the highest-priority ready task, and feeds completed
// branches to the MergeQueue.
type Orchestrator struct {
	Board      Board
	NewRunner  func(task models.Task, assessment complexity.Assessment) Runner
	MergeQueue MergeQueue
	Batches    BatchStore
	Logger     Logger
	Config     Config

	mu       sync.Mutex
	paused   bool
	inFlight map[string][]string // taskID -> predicted files, for conflict checks
}

// New constructs an Orchestrator with MaxConcurrent clamped to [1,5].
func New(board Board, newRunner func(models.Task, complexity.Assessment) Runner, mergeQueue MergeQueue, cfg Config) *Orchestrator {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxConcurrent > 5 {
		cfg.MaxConcurrent = 5
	}
	return &Orchestrator{
		Board:      board,
		NewRunner:  newRunner,
		MergeQueue: mergeQueue,
		Config:     cfg,
		inFlight:   make(map[string][]string),
	}
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// Pause stops the loop from dispatching new workers; in-flight workers
// finish normally. Grounded on spec.md §4.9's "Pause/resume" note.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}

// Resume allows dispatching to continue.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// IsPaused reports whether the loop is currently paused, for status
// reporting by internal/control.
func (o *Orchestrator) IsPaused() bool {
	return o.isPaused()
}

// InFlightTaskIDs returns the IDs of tasks currently dispatched to a
// Runner, for status reporting by internal/control.
func (o *Orchestrator) InFlightTaskIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.inFlight))
	for id := range o.inFlight {
		ids = append(ids, id)
	}
	return ids
}

// Run drains the task board: while tasks remain pending (or become
// pending) it dispatches up to MaxConcurrent Runners in parallel,
// stopping at Limit dispatches if set, or when the context is
// cancelled. It returns once no more tasks can be dispatched and all
// in-flight work has settled.
func (o *Orchestrator) Run(ctx context.Context) (BatchState, error) {
	batch := BatchState{BatchID: fmt.Sprintf("batch-%d", time.Now().UnixNano()), StartedAt: time.Now()}

	sem := semaphore.NewWeighted(int64(o.Config.MaxConcurrent))
	var wg sync.WaitGroup
	var mu sync.Mutex
	dispatched := 0

	for {
		if ctx.Err() != nil {
			break
		}
		if o.Config.Limit > 0 && dispatched >= o.Config.Limit {
			break
		}
		if o.isPaused() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		task, assessment, ok := o.selectNext(ctx)
		if !ok {
			if dispatched == 0 || o.noneInFlight() {
				break
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		dispatched++
		o.markInFlight(task)
		task.Status = models.StatusInProgress
		_ = o.Board.UpsertTask(ctx, &task)

		mu.Lock()
		batch.PendingTaskIDs = append(batch.PendingTaskIDs, task.ID)
		snapshot := batch
		mu.Unlock()
		if o.Batches != nil {
			_ = o.Batches.Save(snapshot)
		}

		wg.Add(1)
		go func(t models.Task, a complexity.Assessment) {
			defer wg.Done()
			defer sem.Release(1)
			outcome, err := o.NewRunner(t, a).RunTask(ctx, t)
			o.clearInFlight(t.ID)

			mu.Lock()
			batch.PendingTaskIDs = removeID(batch.PendingTaskIDs, t.ID)
			if err != nil || !outcome.Succeeded {
				batch.FailedTaskIDs = append(batch.FailedTaskIDs, t.ID)
				o.logf("orchestrator: task %s failed: %v", t.ID, err)
			} else {
				batch.CompletedTaskIDs = append(batch.CompletedTaskIDs, t.ID)
				if o.MergeQueue != nil && outcome.Branch != "" {
					if _, mqErr := o.MergeQueue.Add(ctx, outcome.Branch, t.ID, "", outcome.ModifiedFiles); mqErr != nil {
						o.logf("orchestrator: failed to enqueue %s for merge: %v", outcome.Branch, mqErr)
					}
				}
			}
			snapshot := batch
			mu.Unlock()

			if o.Batches != nil {
				_ = o.Batches.Save(snapshot)
			}
		}(task, assessment)
	}

	wg.Wait()
	return batch, nil
}

func removeID(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func (o *Orchestrator) noneInFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight) == 0
}

func (o *Orchestrator) markInFlight(task models.Task) {
	o.mu.Lock()
	o.inFlight[task.ID] = task.EstimatedFiles
	o.mu.Unlock()
}

func (o *Orchestrator) clearInFlight(taskID string) {
	o.mu.Lock()
	delete(o.inFlight, taskID)
	o.mu.Unlock()
}

// selectNext picks the highest-priority ready task: pending, not
// blocked, every dependency complete, and its predicted files not
// overlapping any currently in-flight task's predicted files. Returns
// ok=false when no task currently qualifies (the board may be empty,
// or every pending task is blocked on a dependency or a file
// conflict).
func (o *Orchestrator) selectNext(ctx context.Context) (models.Task, complexity.Assessment, bool) {
	pending, err := o.Board.ListTasksByStatus(ctx, models.StatusPending)
	if err != nil || len(pending) == 0 {
		return models.Task{}, complexity.Assessment{}, false
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority > pending[j].Priority
	})

	o.mu.Lock()
	inFlight := make(map[string][]string, len(o.inFlight))
	for k, v := range o.inFlight {
		inFlight[k] = v
	}
	o.mu.Unlock()

	for _, t := range pending {
		if _, running := inFlight[t.ID]; running {
			continue
		}
		if !o.dependenciesComplete(ctx, t) {
			continue
		}
		if conflictsWithInFlight(t.EstimatedFiles, inFlight) {
			continue
		}
		assessment := complexity.Assess(t.Objective, complexity.Metrics{})
		return *t, assessment, true
	}
	return models.Task{}, complexity.Assessment{}, false
}

func (o *Orchestrator) dependenciesComplete(ctx context.Context, t *models.Task) bool {
	for dep := range t.DependsOn {
		depTask, err := o.Board.GetTask(ctx, dep)
		if err != nil || depTask == nil || !depTask.IsComplete() {
			return false
		}
	}
	return true
}

func conflictsWithInFlight(files []string, inFlight map[string][]string) bool {
	if len(files) == 0 {
		return false
	}
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[f] = true
	}
	for _, other := range inFlight {
		for _, f := range other {
			if set[f] {
				return true
			}
		}
	}
	return false
}
