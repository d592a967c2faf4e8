package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercity-dev/undercity/internal/models"
)

func pauseUntil(model string, resumeAt time.Time) models.PauseRecord {
	return models.PauseRecord{Model: model, Reason: "test", PausedAt: time.Now(), ResumeAt: resumeAt}
}

func TestTracker_LoadSeedsFreshState(t *testing.T) {
	tr := NewTracker()
	st := tr.State("claude-sonnet")
	require.NotNil(t, st)
	assert.Equal(t, "claude-sonnet", st.Model)
	assert.False(t, st.FiveHour.WindowEnd.IsZero())
}

func TestTracker_RecordUsageAccumulates(t *testing.T) {
	tr := NewTracker()
	tr.RecordUsage("claude-opus", 1000, 1)
	tr.RecordUsage("claude-opus", 500, 1)

	st := tr.State("claude-opus")
	assert.Equal(t, int64(1500), st.TotalTokens)
	assert.Equal(t, 2, st.TotalRequests)
	assert.Equal(t, int64(1500), st.FiveHour.TokensUsed)
}

func TestTracker_RecordHitInstallsPause(t *testing.T) {
	tr := NewTracker()
	info := &RateLimitInfo{
		DetectedAt:  time.Now(),
		ResetAt:     time.Now().Add(time.Hour),
		WaitSeconds: 3600,
		LimitType:   LimitTypeSession,
		Source:      "cli_stdout",
	}
	tr.RecordHit("claude-haiku", info)

	st := tr.State("claude-haiku")
	require.Len(t, st.Hits, 1)
	require.Len(t, st.Pauses, 1)
	assert.True(t, st.IsPaused(time.Now()))
}

func TestTracker_SnapshotReturnsCopies(t *testing.T) {
	tr := NewTracker()
	tr.RecordUsage("claude-sonnet", 10, 1)

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "claude-sonnet", snap[0].Model)
}

func TestEstimateCostUSD(t *testing.T) {
	costs := DefaultCostModel()
	cost := EstimateCostUSD(costs, "claude-sonnet", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, cost, 1e-9)

	assert.Zero(t, EstimateCostUSD(costs, "unknown-model", 1_000_000, 1_000_000))
}

func TestSonnetEquivalent_WeightsByTier(t *testing.T) {
	assert.Equal(t, 5000.0, SonnetEquivalent("claude-opus", 1000))
	assert.Equal(t, 1000.0, SonnetEquivalent("claude-sonnet", 1000))
	assert.Equal(t, 200.0, SonnetEquivalent("claude-haiku", 1000))
}

func TestTracker_IsPausedIsGlobalAcrossModels(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.IsPaused(time.Now()))

	st := tr.State("claude-opus")
	st.Pauses = append(st.Pauses, pauseUntil("claude-opus", time.Now().Add(time.Hour)))

	assert.True(t, tr.IsPaused(time.Now()))
	assert.True(t, tr.IsModelPaused("claude-opus", time.Now()))
	assert.False(t, tr.IsModelPaused("claude-sonnet", time.Now()))
}

func TestTracker_ResumeFromRateLimitClearsEveryPause(t *testing.T) {
	tr := NewTracker()
	tr.State("claude-opus").Pauses = append(tr.State("claude-opus").Pauses, pauseUntil("claude-opus", time.Now().Add(time.Hour)))
	tr.State("claude-haiku").Pauses = append(tr.State("claude-haiku").Pauses, pauseUntil("claude-haiku", time.Now().Add(time.Hour)))

	tr.ResumeFromRateLimit()

	assert.False(t, tr.IsPaused(time.Now()))
}

func TestTracker_TotalSonnetEquivalentSumsAcrossModels(t *testing.T) {
	tr := NewTracker()
	tr.RecordUsage("claude-opus", 1000, 1)
	tr.RecordUsage("claude-haiku", 1000, 1)

	assert.Equal(t, 5200.0, tr.TotalSonnetEquivalent("five_hour"))
}
