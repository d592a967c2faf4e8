// Package metatask validates and applies meta-task recommendations: a
// meta-task is itself a Task (tagged models.TagMetaTriage) whose agent
// output proposes mutations to the rest of the task board rather than
// code changes. Grounded on the teacher's internal/models/task.go
// validation style (Task.Validate()'s structural-invariant checks)
// and the orchestrator's defensive dependency/conflict checks in
// internal/orchestrator, generalized into the action-specific
// validation matrix of spec.md §4.10.
package metatask

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/undercity-dev/undercity/internal/models"
)

// Action is one of the mutation verbs a meta-task may recommend.
type Action string

const (
	ActionAdd        Action = "add"
	ActionRemove     Action = "remove"
	ActionComplete   Action = "complete"
	ActionPrioritize Action = "prioritize"
	ActionUpdate     Action = "update"
	ActionMerge      Action = "merge"
	ActionBlock      Action = "block"
	ActionUnblock    Action = "unblock"
	ActionDecompose  Action = "decompose"
	ActionFixStatus  Action = "fix_status"
)

func (a Action) valid() bool {
	switch a {
	case ActionAdd, ActionRemove, ActionComplete, ActionPrioritize, ActionUpdate,
		ActionMerge, ActionBlock, ActionUnblock, ActionDecompose, ActionFixStatus:
		return true
	}
	return false
}

// requiresExistingTaskID is the set of actions spec.md §4.10 requires
// to name an existing taskId.
var requiresExistingTaskID = map[Action]bool{
	ActionRemove:     true,
	ActionComplete:   true,
	ActionPrioritize: true,
	ActionUpdate:     true,
	ActionBlock:      true,
	ActionUnblock:    true,
	ActionFixStatus:  true,
}

// Recommendation is one proposed board mutation, the wire shape a
// meta-task's agent response is parsed into.
type Recommendation struct {
	Action         Action         `json:"action"`
	TaskID         string         `json:"task_id,omitempty"`
	Objective      string         `json:"objective,omitempty"`
	Priority       *int           `json:"priority,omitempty"`
	BlockedReason  string         `json:"blocked_reason,omitempty"`
	RelatedTaskIDs []string       `json:"related_task_ids,omitempty"`
	Subtasks       []string       `json:"subtasks,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
}

// Board is the subset of persistence the engine reads and mutates.
type Board interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasksByStatus(ctx context.Context, status models.Status) ([]*models.Task, error)
	UpsertTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id string) error
}

// Logger receives a reason every time a recommendation is dropped,
// matching spec.md §4.10's "invalid recommendations are logged and
// dropped."
type Logger interface {
	Printf(format string, args ...interface{})
}

// Engine validates and applies Recommendations against a Board.
type Engine struct {
	Board  Board
	Logger Logger

	// NewTaskID generates an id for an "add" recommendation. Required;
	// tests supply a deterministic sequence.
	NewTaskID func(objective string) string

	// Now returns the current time, overridable in tests.
	Now func() time.Time
}

// New constructs an Engine over board.
func New(board Board, logger Logger, newTaskID func(string) string) *Engine {
	return &Engine{Board: board, Logger: logger, NewTaskID: newTaskID}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// Apply validates rec against metaTaskID (the id of the meta-task that
// produced it, for self-protection) and the current board state, then
// applies it if valid. It returns (applied=false, nil) for a dropped
// recommendation — dropping is not itself an error per spec.md §4.10.
func (e *Engine) Apply(ctx context.Context, metaTaskID string, rec Recommendation) (applied bool, err error) {
	if err := e.validate(ctx, metaTaskID, rec); err != nil {
		e.logf("metatask: dropping %s recommendation for %q: %v", rec.Action, rec.TaskID, err)
		return false, nil
	}

	if err := e.apply(ctx, rec); err != nil {
		return false, fmt.Errorf("metatask: apply %s: %w", rec.Action, err)
	}
	return true, nil
}

func (e *Engine) validate(ctx context.Context, metaTaskID string, rec Recommendation) error {
	if !rec.Action.valid() {
		return fmt.Errorf("unknown action %q", rec.Action)
	}

	// Self-protection: a meta-task cannot target itself.
	if rec.TaskID != "" && rec.TaskID == metaTaskID {
		return fmt.Errorf("recommendation targets its own meta-task")
	}
	if rec.Action == ActionMerge {
		for _, id := range rec.RelatedTaskIDs {
			if id == metaTaskID {
				return fmt.Errorf("merge recommendation targets its own meta-task")
			}
		}
	}

	if requiresExistingTaskID[rec.Action] {
		if rec.TaskID == "" {
			return fmt.Errorf("%s requires a task_id", rec.Action)
		}
		target, err := e.Board.GetTask(ctx, rec.TaskID)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", rec.TaskID, err)
		}
		if target == nil {
			return fmt.Errorf("task %s does not exist", rec.TaskID)
		}

		switch rec.Action {
		case ActionComplete, ActionFixStatus:
			if target.IsComplete() {
				return fmt.Errorf("task %s is already complete", rec.TaskID)
			}
		case ActionUnblock:
			if target.Status != models.StatusBlocked {
				return fmt.Errorf("task %s is not blocked", rec.TaskID)
			}
		case ActionBlock:
			if strings.TrimSpace(rec.BlockedReason) == "" {
				return fmt.Errorf("block requires a non-empty blocked_reason")
			}
			if target.Status == models.StatusBlocked {
				return fmt.Errorf("task %s is already blocked", rec.TaskID)
			}
			if target.IsComplete() {
				return fmt.Errorf("task %s is already complete", rec.TaskID)
			}
		}
	}

	switch rec.Action {
	case ActionAdd:
		if strings.TrimSpace(rec.Objective) == "" {
			return fmt.Errorf("add requires a non-empty objective")
		}
		duplicate, err := e.hasDuplicateObjective(ctx, rec.Objective)
		if err != nil {
			return err
		}
		if duplicate {
			return fmt.Errorf("a task with objective %q already exists", rec.Objective)
		}
	case ActionMerge:
		if len(rec.RelatedTaskIDs) == 0 {
			return fmt.Errorf("merge requires non-empty related_task_ids")
		}
		for _, id := range rec.RelatedTaskIDs {
			target, err := e.Board.GetTask(ctx, id)
			if err != nil {
				return fmt.Errorf("looking up %s: %w", id, err)
			}
			if target == nil {
				return fmt.Errorf("related task %s does not exist", id)
			}
		}
	case ActionDecompose:
		if rec.TaskID == "" {
			return fmt.Errorf("decompose requires a task_id")
		}
		target, err := e.Board.GetTask(ctx, rec.TaskID)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", rec.TaskID, err)
		}
		if target == nil {
			return fmt.Errorf("task %s does not exist", rec.TaskID)
		}
		if len(rec.Subtasks) == 0 {
			return fmt.Errorf("decompose requires a non-empty subtasks list")
		}
	}

	return nil
}

// apply performs the mutation for an already-validated recommendation.
func (e *Engine) apply(ctx context.Context, rec Recommendation) error {
	switch rec.Action {
	case ActionAdd:
		return e.applyAdd(ctx, rec)
	case ActionRemove:
		return e.Board.DeleteTask(ctx, rec.TaskID)
	case ActionComplete:
		return e.setStatus(ctx, rec.TaskID, models.StatusComplete, "")
	case ActionPrioritize:
		return e.applyPrioritize(ctx, rec)
	case ActionUpdate:
		return e.applyUpdate(ctx, rec)
	case ActionMerge:
		return e.applyMerge(ctx, rec)
	case ActionBlock:
		return e.setStatus(ctx, rec.TaskID, models.StatusBlocked, rec.BlockedReason)
	case ActionUnblock:
		return e.setStatus(ctx, rec.TaskID, models.StatusPending, "")
	case ActionDecompose:
		return e.applyDecompose(ctx, rec)
	case ActionFixStatus:
		return e.applyFixStatus(ctx, rec)
	}
	return fmt.Errorf("unhandled action %q", rec.Action)
}

func (e *Engine) applyAdd(ctx context.Context, rec Recommendation) error {
	id := e.NewTaskID(rec.Objective)
	t := &models.Task{
		ID:        id,
		Objective: rec.Objective,
		Status:    models.StatusPending,
		Priority:  0,
		CreatedAt: e.now(),
	}
	if rec.Priority != nil {
		t.Priority = *rec.Priority
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("new task invalid: %w", err)
	}
	return e.Board.UpsertTask(ctx, t)
}

func (e *Engine) setStatus(ctx context.Context, taskID string, status models.Status, blockedReason string) error {
	t, err := e.Board.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task %s does not exist", taskID)
	}
	if !t.CanTransitionTo(status) {
		return fmt.Errorf("task %s cannot transition to %s", taskID, status)
	}
	t.Status = status
	t.BlockedReason = blockedReason
	now := e.now()
	switch status {
	case models.StatusInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case models.StatusComplete:
		t.CompletedAt = &now
	}
	return e.Board.UpsertTask(ctx, t)
}

func (e *Engine) applyPrioritize(ctx context.Context, rec Recommendation) error {
	if rec.Priority == nil {
		return fmt.Errorf("prioritize requires a priority value")
	}
	t, err := e.Board.GetTask(ctx, rec.TaskID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task %s does not exist", rec.TaskID)
	}
	t.Priority = *rec.Priority
	return e.Board.UpsertTask(ctx, t)
}

func (e *Engine) applyUpdate(ctx context.Context, rec Recommendation) error {
	t, err := e.Board.GetTask(ctx, rec.TaskID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task %s does not exist", rec.TaskID)
	}
	if rec.Objective != "" {
		t.Objective = rec.Objective
	}
	if rec.Priority != nil {
		t.Priority = *rec.Priority
	}
	if len(rec.RelatedTaskIDs) > 0 {
		if t.RelatedTo == nil {
			t.RelatedTo = make(map[string]bool, len(rec.RelatedTaskIDs))
		}
		for _, id := range rec.RelatedTaskIDs {
			t.RelatedTo[id] = true
		}
	}
	return e.Board.UpsertTask(ctx, t)
}

// applyMerge folds every related task into the first one named: the
// rest are marked complete with a blocked-reason-style note recording
// what they were merged into, and cross-referenced via RelatedTo.
func (e *Engine) applyMerge(ctx context.Context, rec Recommendation) error {
	primaryID := rec.RelatedTaskIDs[0]
	primary, err := e.Board.GetTask(ctx, primaryID)
	if err != nil {
		return err
	}
	if primary == nil {
		return fmt.Errorf("task %s does not exist", primaryID)
	}
	if primary.RelatedTo == nil {
		primary.RelatedTo = make(map[string]bool)
	}

	for _, id := range rec.RelatedTaskIDs[1:] {
		merged, err := e.Board.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if merged == nil {
			return fmt.Errorf("task %s does not exist", id)
		}
		primary.RelatedTo[id] = true
		if merged.IsComplete() {
			continue
		}
		merged.Status = models.StatusComplete
		now := e.now()
		merged.CompletedAt = &now
		merged.BlockedReason = fmt.Sprintf("merged into %s", primaryID)
		if err := e.Board.UpsertTask(ctx, merged); err != nil {
			return err
		}
	}
	return e.Board.UpsertTask(ctx, primary)
}

func (e *Engine) applyDecompose(ctx context.Context, rec Recommendation) error {
	parent, err := e.Board.GetTask(ctx, rec.TaskID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("task %s does not exist", rec.TaskID)
	}

	for i, objective := range rec.Subtasks {
		subID := e.NewTaskID(fmt.Sprintf("%s-%d", objective, i))
		sub := &models.Task{
			ID:        subID,
			Objective: objective,
			Status:    models.StatusPending,
			ParentID:  parent.ID,
			CreatedAt: e.now(),
		}
		if err := sub.Validate(); err != nil {
			return fmt.Errorf("subtask %d invalid: %w", i, err)
		}
		if err := e.Board.UpsertTask(ctx, sub); err != nil {
			return err
		}
		parent.AddSubtask(subID)
	}
	return e.Board.UpsertTask(ctx, parent)
}

// applyFixStatus corrects a task's status to the value named in
// rec.Fields["status"], for recovering tasks a prior run left
// inconsistent (e.g. in_progress after a crash).
func (e *Engine) applyFixStatus(ctx context.Context, rec Recommendation) error {
	raw, ok := rec.Fields["status"]
	if !ok {
		return fmt.Errorf("fix_status requires fields.status")
	}
	str, ok := raw.(string)
	if !ok {
		return fmt.Errorf("fields.status must be a string")
	}
	status := models.Status(str)
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", str)
	}

	t, err := e.Board.GetTask(ctx, rec.TaskID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task %s does not exist", rec.TaskID)
	}
	t.Status = status
	return e.Board.UpsertTask(ctx, t)
}

func (e *Engine) hasDuplicateObjective(ctx context.Context, objective string) (bool, error) {
	want := strings.ToLower(strings.TrimSpace(objective))
	for _, status := range []models.Status{models.StatusPending, models.StatusInProgress, models.StatusBlocked, models.StatusComplete, models.StatusFailed} {
		tasks, err := e.Board.ListTasksByStatus(ctx, status)
		if err != nil {
			return false, err
		}
		for _, t := range tasks {
			if strings.ToLower(strings.TrimSpace(t.Objective)) == want {
				return true, nil
			}
		}
	}
	return false, nil
}
