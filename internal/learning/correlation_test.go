package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationTracker_RecordCompletionAndPredict(t *testing.T) {
	tracker := NewCorrelationTracker(newTestStore(t))
	ctx := context.Background()

	require.NoError(t, tracker.RecordCompletion(ctx, "t-1", []string{"auth"}, []string{"auth.go", "session.go"}, true))
	require.NoError(t, tracker.RecordCompletion(ctx, "t-2", []string{"auth"}, []string{"auth.go"}, true))

	files, err := tracker.PredictFiles(ctx, []string{"auth"}, 5)
	require.NoError(t, err)
	assert.Contains(t, files, "auth.go")
}

func TestCorrelationTracker_ConflictRiskFromCoModification(t *testing.T) {
	tracker := NewCorrelationTracker(newTestStore(t))
	ctx := context.Background()

	require.NoError(t, tracker.RecordCompletion(ctx, "t-1", []string{"auth"}, []string{"auth.go", "session.go"}, true))

	risk, err := tracker.ConflictRisk(ctx, "auth.go", 5)
	require.NoError(t, err)
	require.Len(t, risk, 1)
	assert.True(t, risk[0].Involves("session.go"))
}

func TestCorrelationTracker_FailedTaskSkipsCoModification(t *testing.T) {
	tracker := NewCorrelationTracker(newTestStore(t))
	ctx := context.Background()

	require.NoError(t, tracker.RecordCompletion(ctx, "t-1", []string{"auth"}, []string{"auth.go", "session.go"}, false))

	risk, err := tracker.ConflictRisk(ctx, "auth.go", 5)
	require.NoError(t, err)
	assert.Empty(t, risk)
}
