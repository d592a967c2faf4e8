package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercity-dev/undercity/internal/models"
)

func TestFixAdvisor_SuggestWithNoHistory(t *testing.T) {
	advisor := NewFixAdvisor(newTestStore(t))
	ctx := context.Background()

	sug, err := advisor.Suggest(ctx, "undefined: fmt.Sprintf at line 42")
	require.NoError(t, err)
	assert.False(t, sug.HasHistory)
}

func TestFixAdvisor_RecordAndSuggestRanksBestFix(t *testing.T) {
	advisor := NewFixAdvisor(newTestStore(t))
	ctx := context.Background()

	msg := "undefined: fmt.Sprintf at line 42"
	_, err := advisor.RecordOccurrence(ctx, msg, models.ErrTypecheck)
	require.NoError(t, err)

	require.NoError(t, advisor.RecordFixAttempt(ctx, msg, "add missing import", true))
	require.NoError(t, advisor.RecordFixAttempt(ctx, msg, "rewrite function", false))
	require.NoError(t, advisor.RecordFixAttempt(ctx, msg, "rewrite function", false))

	sug, err := advisor.Suggest(ctx, msg)
	require.NoError(t, err)
	assert.True(t, sug.HasHistory)
	assert.Equal(t, "add missing import", sug.Fix.Description)
}

func TestFixAdvisor_RecordPermanentFailure(t *testing.T) {
	advisor := NewFixAdvisor(newTestStore(t))
	ctx := context.Background()

	err := advisor.RecordPermanentFailure(ctx, &models.PermanentFailure{
		Signature:     models.ErrorSignature("panic: nil pointer"),
		Category:      models.ErrCrash,
		SampleMessage: "panic: nil pointer",
		TaskObjective: "fix the crash",
		LastModel:     "claude-opus",
		AttemptCount:  5,
	})
	require.NoError(t, err)
}
