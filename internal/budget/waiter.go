package budget

import (
	"context"
	"time"
)

// WaiterLogger receives periodic countdown updates while RateLimitWaiter
// blocks on a reset. Adapted from the teacher's WaiterLogger: the
// TTS-oriented LogRateLimitAnnounce hook is dropped since spoken
// announcements are out of scope here; only the live countdown survives.
type WaiterLogger interface {
	LogRateLimitCountdown(model string, remaining, total time.Duration)
}

// RateLimitWaiter blocks task dispatch until a model's rate limit resets,
// rather than failing the attempt outright.
type RateLimitWaiter struct {
	maxWait      time.Duration // beyond this, give up waiting and surface the error instead
	tickInterval time.Duration
	safetyBuffer time.Duration // extra margin after the reported reset time
	logger       WaiterLogger  // optional; nil disables countdown updates
}

// NewRateLimitWaiter constructs a waiter with the given bounds. A nil
// logger disables countdown updates.
func NewRateLimitWaiter(maxWait, tickInterval, safetyBuffer time.Duration, logger WaiterLogger) *RateLimitWaiter {
	return &RateLimitWaiter{
		maxWait:      maxWait,
		tickInterval: tickInterval,
		safetyBuffer: safetyBuffer,
		logger:       logger,
	}
}

// ShouldWait reports whether info's reset time falls within maxWait. A
// nil info, or a wait longer than maxWait, means the caller should
// surface the failure instead of blocking.
func (w *RateLimitWaiter) ShouldWait(info *RateLimitInfo) bool {
	if info == nil {
		return false
	}
	return info.TimeUntilReset() <= w.maxWait
}

// TimeUntilResume returns the total time to wait, including the safety
// buffer, before retrying after info.
func (w *RateLimitWaiter) TimeUntilResume(info *RateLimitInfo) time.Duration {
	if info == nil {
		return 0
	}
	if info.IsExpired() {
		return w.safetyBuffer
	}
	return info.TimeUntilReset() + w.safetyBuffer
}

// WaitForReset blocks until a model's rate limit resets (plus the safety
// buffer), emitting periodic countdown updates to the logger if set.
// Returns ctx.Err() if canceled before the wait completes.
func (w *RateLimitWaiter) WaitForReset(ctx context.Context, model string, info *RateLimitInfo) error {
	if info == nil {
		return nil
	}

	if info.IsExpired() {
		select {
		case <-time.After(w.safetyBuffer):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	totalWait := w.TimeUntilResume(info)
	endTime := time.Now().Add(totalWait)

	interval := w.tickInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if w.logger != nil {
		w.logger.LogRateLimitCountdown(model, totalWait, totalWait)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case now := <-ticker.C:
			remaining := endTime.Sub(now)
			if remaining <= 0 {
				return nil
			}
			if w.logger != nil {
				w.logger.LogRateLimitCountdown(model, remaining, totalWait)
			}

		case <-time.After(time.Until(endTime)):
			return nil
		}
	}
}
