package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercity-dev/undercity/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &models.Task{
		ID:        "t-1",
		Objective: "fix the thing",
		Status:    models.StatusPending,
		Priority:  5,
		DependsOn: map[string]bool{"t-0": true},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.UpsertTask(ctx, task))

	got, err := s.GetTask(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.Objective, got.Objective)
	assert.Equal(t, task.Status, got.Status)
	assert.True(t, got.HasDependency("t-0"))

	task.Status = models.StatusInProgress
	require.NoError(t, s.UpsertTask(ctx, task))

	got, err = s.GetTask(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

func TestListTasksByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := "t-" + string(rune('a'+i))
		require.NoError(t, s.UpsertTask(ctx, &models.Task{
			ID: id, Objective: "obj", Status: models.StatusPending, CreatedAt: time.Now(),
		}))
	}
	tasks, err := s.ListTasksByStatus(ctx, models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestAppendAttemptAssignsSequentialNumbers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTask(ctx, &models.Task{
		ID: "t-1", Objective: "obj", Status: models.StatusPending, CreatedAt: time.Now(),
	}))

	a1, err := s.AppendAttempt(ctx, "t-1", models.AttemptRecord{Model: "low", StartedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, a1.Number)

	a2, err := s.AppendAttempt(ctx, "t-1", models.AttemptRecord{Model: "mid", StartedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 2, a2.Number)

	all, err := s.AttemptsForTask(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "low", all[0].Model)
	assert.Equal(t, "mid", all[1].Model)
}

func TestLearningRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := &models.Learning{
		Category:   models.LearningGotcha,
		Content:    "remember to vendor before offline builds",
		Keywords:   []string{"vendor", "offline"},
		Confidence: 0.5,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, s.InsertLearning(ctx, l))
	assert.NotZero(t, l.ID)

	l.RecordSuccess(0.1)
	require.NoError(t, s.UpdateLearning(ctx, l))

	all, err := s.ListLearnings(ctx, models.LearningGotcha)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.InDelta(t, 0.6, all[0].Confidence, 1e-9)
}

func TestErrorPatternAndFixLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := "undefined: fmt.Sprintf at line 42"
	sig := models.ErrorSignature(msg)
	now := time.Now()
	require.NoError(t, s.UpsertErrorPattern(ctx, &models.ErrorPattern{
		Signature: sig, Category: models.ErrTypecheck, SampleMessage: msg, FirstSeen: now, LastSeen: now,
	}))
	require.NoError(t, s.UpsertErrorPattern(ctx, &models.ErrorPattern{
		Signature: sig, Category: models.ErrTypecheck, SampleMessage: msg, FirstSeen: now, LastSeen: now,
	}))

	fix := &models.Fix{Description: "import fmt", CreatedAt: now}
	require.NoError(t, s.InsertFix(ctx, sig, fix))
	require.NoError(t, s.RecordFixOutcome(ctx, fix.ID, true))

	pattern, err := s.GetErrorPattern(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, 2, pattern.OccurrenceCount)
	require.Len(t, pattern.Fixes, 1)
	assert.Equal(t, 1, pattern.Fixes[0].SuccessCount)
}

func TestOverrideLogTrimsToCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendOverride(ctx, models.OverrideEntry{
			DecisionID: int64(i), TaskID: "t-1", Original: "auto", Override: "human", RecordedAt: time.Now(),
		}, 3))
	}

	entries, err := s.ListOverrides(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, int64(2), entries[0].DecisionID)
}

func TestMergeQueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := &models.MergeQueueItem{
		Branch: "task/t-1", SourceTaskID: "t-1", Status: models.MergePending,
		QueuedAt: time.Now(), Strategy: models.StrategyDefault,
		ModifiedFiles: []string{"a.go"},
	}
	require.NoError(t, s.EnqueueMergeItem(ctx, item))

	next, err := s.NextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, item.Branch, next.Branch)

	next.Status = models.MergeComplete
	require.NoError(t, s.UpdateMergeItem(ctx, next))

	active, err := s.ListActiveMergeItems(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 0)
}

func TestRateLimitStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := &models.RateLimitState{Model: "claude-sonnet", TotalTokens: 100, UpdatedAt: time.Now()}
	require.NoError(t, s.SaveRateLimitState(ctx, st))

	got, err := s.LoadRateLimitState(ctx, "claude-sonnet")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TotalTokens)

	all, err := s.AllRateLimitStates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
