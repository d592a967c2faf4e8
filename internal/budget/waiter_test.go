package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu    sync.Mutex
	calls int
}

func (l *recordingLogger) LogRateLimitCountdown(model string, remaining, total time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestRateLimitWaiter_ShouldWait(t *testing.T) {
	w := NewRateLimitWaiter(time.Hour, 10*time.Millisecond, 0, nil)

	within := &RateLimitInfo{ResetAt: time.Now().Add(time.Minute)}
	assert.True(t, w.ShouldWait(within))

	tooLong := &RateLimitInfo{ResetAt: time.Now().Add(2 * time.Hour)}
	assert.False(t, w.ShouldWait(tooLong))

	assert.False(t, w.ShouldWait(nil))
}

func TestRateLimitWaiter_WaitForReset_AlreadyExpired(t *testing.T) {
	w := NewRateLimitWaiter(time.Hour, 10*time.Millisecond, 20*time.Millisecond, nil)
	info := &RateLimitInfo{ResetAt: time.Now().Add(-time.Second)}

	start := time.Now()
	require.NoError(t, w.WaitForReset(context.Background(), "claude-sonnet", info))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRateLimitWaiter_WaitForReset_CompletesAndAnnounces(t *testing.T) {
	logger := &recordingLogger{}
	w := NewRateLimitWaiter(time.Hour, 10*time.Millisecond, 0, logger)
	info := &RateLimitInfo{ResetAt: time.Now().Add(30 * time.Millisecond)}

	require.NoError(t, w.WaitForReset(context.Background(), "claude-haiku", info))
	assert.GreaterOrEqual(t, logger.count(), 1)
}

func TestRateLimitWaiter_WaitForReset_CancelPropagates(t *testing.T) {
	w := NewRateLimitWaiter(time.Hour, 10*time.Millisecond, 0, nil)
	info := &RateLimitInfo{ResetAt: time.Now().Add(time.Hour)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WaitForReset(ctx, "claude-opus", info)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitWaiter_TimeUntilResume(t *testing.T) {
	w := NewRateLimitWaiter(time.Hour, time.Second, 5*time.Second, nil)
	assert.Zero(t, w.TimeUntilResume(nil))

	expired := &RateLimitInfo{ResetAt: time.Now().Add(-time.Minute)}
	assert.Equal(t, 5*time.Second, w.TimeUntilResume(expired))
}
