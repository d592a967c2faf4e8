package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_AllowsFreshModel(t *testing.T) {
	g := NewGuard(NewTracker(), 0.9)
	d := g.Check("claude-sonnet")
	assert.True(t, d.Allowed)
}

func TestGuard_DeniesWhenPaused(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, 0.9)
	g.Pause("claude-opus", "manual", time.Now().Add(time.Hour))

	d := g.Check("claude-opus")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "paused")
}

func TestGuard_ResumeClearsPause(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, 0.9)
	g.Pause("claude-opus", "manual", time.Now().Add(time.Hour))
	g.Resume("claude-opus")

	d := g.Check("claude-opus")
	assert.True(t, d.Allowed)
}

func TestGuard_DeniesAtPauseThreshold(t *testing.T) {
	tr := NewTracker()
	st := tr.State("claude-haiku")
	st.FiveHour.Limit = 1000
	g := NewGuard(tr, 0.9)

	tr.RecordUsage("claude-haiku", 950, 1)

	d := g.Check("claude-haiku")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "pause threshold")
}

func TestGuard_DeniesWhenWindowExhausted(t *testing.T) {
	tr := NewTracker()
	st := tr.State("claude-haiku")
	st.Weekly.Limit = 100
	g := NewGuard(tr, 0.9)

	tr.RecordUsage("claude-haiku", 100, 1)

	d := g.Check("claude-haiku")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "weekly")
}

func TestGuard_WaitForResumeReturnsOnceAllowed(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, 0.9)
	g.Pause("claude-sonnet", "manual", time.Now().Add(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- g.WaitForResume(ctx, "claude-sonnet", 10*time.Millisecond) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitForResume did not return after pause expired")
	}
}

func TestGuard_WaitForResumeRespectsCancellation(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, 0.9)
	g.Pause("claude-opus", "manual", time.Now().Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.WaitForResume(ctx, "claude-opus", 10*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGuard_DeniesWhenSharedSonnetEquivalentBudgetExhausted(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, 0.9)
	g.FiveHourLimit = 1000

	tr.RecordUsage("claude-opus", 250, 1) // 250 * 5x weight = 1250 sonnet-equivalent

	d := g.Check("claude-opus")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "sonnet-equivalent")
}

func TestGuard_PauseForRateLimitUsesInfoResetTime(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, 0.9)
	resetAt := time.Now().Add(45 * time.Minute)

	g.PauseForRateLimit("claude-sonnet", "rate limit", &RateLimitInfo{ResetAt: resetAt})

	d := g.Check("claude-sonnet")
	assert.False(t, d.Allowed)
	assert.WithinDuration(t, resetAt, d.ResumeAt, time.Second)
}

func TestGuard_CheckAutoResume(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, 0.9)

	assert.False(t, g.CheckAutoResume(time.Now()), "nothing paused yet")

	g.Pause("claude-sonnet", "manual", time.Now().Add(-time.Minute))
	assert.True(t, g.CheckAutoResume(time.Now()), "resumeAt has passed and usage is unlimited")

	g.FiveHourLimit = 1000
	tr.RecordUsage("claude-sonnet", 900, 1)
	assert.False(t, g.CheckAutoResume(time.Now()), "usage above pauseThreshold-0.1 margin blocks resume")
}

func TestGuard_ContinuousMonitoring(t *testing.T) {
	tr := NewTracker()
	g := NewGuard(tr, 0.9)
	g.Pause("claude-opus", "manual", time.Now().Add(time.Hour))

	status := g.ContinuousMonitoring(time.Now())
	assert.False(t, status.ShouldResume)
	assert.True(t, status.TimeUntilResume > 0)
}
