package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercity-dev/undercity/internal/models"
)

func TestClassifyDecision(t *testing.T) {
	assert.Equal(t, models.CategoryAutoHandle, ClassifyDecision("Should I retry?", "retrying now"))
	assert.Equal(t, models.CategoryHumanRequired, ClassifyDecision("Should I delete?", "remove production database"))
	assert.Equal(t, models.CategoryPMDecidable, ClassifyDecision("Which approach?", "option A or option B"))
	assert.Equal(t, models.CategoryHumanRequired, ClassifyDecision("what now", "totally unrelated text"))
}

func TestDecisionTracker_RaiseAndResolveAuto(t *testing.T) {
	tracker := NewDecisionTracker(newTestStore(t), 0)
	ctx := context.Background()

	d, err := tracker.Raise(ctx, "t-1", "Should I retry?", "retrying now", nil)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryAutoHandle, d.Category)

	require.NoError(t, tracker.ResolveAuto(ctx, d, "retried", "transient error"))
	assert.True(t, d.IsResolved())
}

func TestDecisionTracker_ResolveAutoRejectsWrongCategory(t *testing.T) {
	tracker := NewDecisionTracker(newTestStore(t), 0)
	ctx := context.Background()

	d, err := tracker.Raise(ctx, "t-1", "Should I delete?", "remove production database", nil)
	require.NoError(t, err)

	err = tracker.ResolveAuto(ctx, d, "deleted", "")
	assert.Error(t, err)
}

func TestDecisionTracker_HumanOverrideIsLogged(t *testing.T) {
	tracker := NewDecisionTracker(newTestStore(t), 0)
	ctx := context.Background()

	d, err := tracker.Raise(ctx, "t-1", "Which approach?", "option A or option B", []string{"A", "B"})
	require.NoError(t, err)
	require.NoError(t, tracker.ResolvePM(ctx, d, "A", "policy prefers A"))

	require.NoError(t, tracker.ResolveHuman(ctx, d, "B", "alice"))

	overrides, err := tracker.Overrides(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, "A", overrides[0].Original)
	assert.Equal(t, "B", overrides[0].Override)
}

func TestDecisionTracker_Pending(t *testing.T) {
	tracker := NewDecisionTracker(newTestStore(t), 0)
	ctx := context.Background()

	_, err := tracker.Raise(ctx, "t-1", "Should I retry?", "retrying now", nil)
	require.NoError(t, err)
	_, err = tracker.Raise(ctx, "t-2", "Should I retry?", "retrying now", nil)
	require.NoError(t, err)

	pending, err := tracker.Pending(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	all, err := tracker.Pending(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
