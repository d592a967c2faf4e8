package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/undercity-dev/undercity/internal/models"
)

// Decision is the outcome of a guard check before dispatching work to a
// model tier.
type Decision struct {
	Allowed    bool
	Reason     string
	ResumeAt   time.Time
	BurnRate   float64
	Projected  bool // true if BurnRate implies the window will exhaust before it rolls
}

// Guard decides, per model, whether new task dispatch should proceed,
// pause, or fall back to a cheaper tier, based on rolling usage recorded
// in a Tracker and a configured pause threshold.
//
// Grounded on the teacher's pause/resume ExecutionState: dispatch is
// gated the same way a wave is gated on "not currently paused," extended
// here to per-model granularity and a burn-rate early-warning check.
type Guard struct {
	tracker        *Tracker
	pauseThreshold float64 // fraction of window limit (0-1) that triggers a pause

	// FiveHourLimit and WeeklyLimit are shared sonnet-equivalent token
	// budgets spanning every model (spec.md's single-dimensional
	// weighted-budget resolution); zero means unlimited. Callers set
	// these from config.BudgetConfig after construction.
	FiveHourLimit int64
	WeeklyLimit   int64
}

// NewGuard constructs a Guard over an existing Tracker.
func NewGuard(tracker *Tracker, pauseThreshold float64) *Guard {
	if pauseThreshold <= 0 || pauseThreshold > 1 {
		pauseThreshold = 0.9
	}
	return &Guard{tracker: tracker, pauseThreshold: pauseThreshold}
}

// Check evaluates whether model may be dispatched right now.
func (g *Guard) Check(model string) Decision {
	st := g.tracker.State(model)
	now := time.Now()

	if st.IsPaused(now) {
		resumeAt := latestResumeAt(st)
		return Decision{
			Allowed:  false,
			Reason:   fmt.Sprintf("%s is paused until %s", model, resumeAt.Format(time.RFC3339)),
			ResumeAt: resumeAt,
		}
	}

	if st.FiveHour.Limit > 0 && st.FiveHour.Exhausted() {
		return Decision{
			Allowed:  false,
			Reason:   fmt.Sprintf("%s exhausted its 5-hour window (%d/%d tokens)", model, st.FiveHour.TokensUsed, st.FiveHour.Limit),
			ResumeAt: st.FiveHour.WindowEnd,
		}
	}
	if st.Weekly.Limit > 0 && st.Weekly.Exhausted() {
		return Decision{
			Allowed:  false,
			Reason:   fmt.Sprintf("%s exhausted its weekly window (%d/%d tokens)", model, st.Weekly.TokensUsed, st.Weekly.Limit),
			ResumeAt: st.Weekly.WindowEnd,
		}
	}

	if g.FiveHourLimit > 0 {
		used := g.tracker.TotalSonnetEquivalent("five_hour")
		if used >= float64(g.FiveHourLimit) {
			return Decision{
				Allowed:  false,
				Reason:   fmt.Sprintf("shared 5-hour sonnet-equivalent budget exhausted (%.0f/%d)", used, g.FiveHourLimit),
				ResumeAt: st.FiveHour.WindowEnd,
			}
		}
	}
	if g.WeeklyLimit > 0 {
		used := g.tracker.TotalSonnetEquivalent("weekly")
		if used >= float64(g.WeeklyLimit) {
			return Decision{
				Allowed:  false,
				Reason:   fmt.Sprintf("shared weekly sonnet-equivalent budget exhausted (%.0f/%d)", used, g.WeeklyLimit),
				ResumeAt: st.Weekly.WindowEnd,
			}
		}
	}

	rate := st.BurnRate()
	if st.FiveHour.Limit > 0 {
		fraction := float64(st.FiveHour.TokensUsed) / float64(st.FiveHour.Limit)
		if fraction >= g.pauseThreshold {
			return Decision{
				Allowed:   false,
				Reason:    fmt.Sprintf("%s crossed pause threshold (%.0f%% of 5-hour window)", model, fraction*100),
				ResumeAt:  st.FiveHour.WindowEnd,
				BurnRate:  rate,
				Projected: true,
			}
		}

		remainingHours := time.Until(st.FiveHour.WindowEnd).Hours()
		if rate > 0 && remainingHours > 0 {
			projectedTotal := float64(st.FiveHour.TokensUsed) + rate*remainingHours
			if projectedTotal >= float64(st.FiveHour.Limit) {
				return Decision{Allowed: true, Reason: "within budget but trending toward exhaustion", BurnRate: rate, Projected: true}
			}
		}
	}

	return Decision{Allowed: true, BurnRate: rate}
}

// Pause installs a manual or rate-limit-triggered pause on a model until
// resumeAt.
func (g *Guard) Pause(model, reason string, resumeAt time.Time) {
	st := g.tracker.State(model)
	st.Pauses = append(st.Pauses, models.PauseRecord{
		Model:    model,
		Reason:   reason,
		PausedAt: time.Now(),
		ResumeAt: resumeAt,
	})
}

// Resume clears any active pause on a model immediately.
func (g *Guard) Resume(model string) {
	st := g.tracker.State(model)
	now := time.Now()
	for i := range st.Pauses {
		if st.Pauses[i].Active(now) {
			st.Pauses[i].ResumedAt = &now
		}
	}
}

// PauseForRateLimit installs a pause on model from an observed
// rate-limit signal, recording the hit against the tracker first.
// info's reset time (header- or message-derived) sets resumeAt when
// present; otherwise InferResetTime estimates the next window boundary.
func (g *Guard) PauseForRateLimit(model, reason string, info *RateLimitInfo) {
	g.tracker.RecordHit(model, info)
	if info == nil || info.ResetAt.IsZero() {
		g.Pause(model, reason, InferResetTime())
	}
}

// UsagePercentage returns the fraction of the configured sonnet-
// equivalent budget consumed in window ("five_hour" or "weekly"), or 0
// if that window has no configured limit.
func (g *Guard) UsagePercentage(window string) float64 {
	limit := g.FiveHourLimit
	if window == "weekly" {
		limit = g.WeeklyLimit
	}
	if limit <= 0 {
		return 0
	}
	return g.tracker.TotalSonnetEquivalent(window) / float64(limit)
}

// CheckAutoResume reports whether dispatch should resume: every active
// pause's resumeAt has passed, and sonnet-equivalent usage has fallen
// back below pauseThreshold-0.1 in both tracked windows. The 0.1
// hysteresis margin keeps a guard that just resumed from immediately
// re-pausing on the next check.
func (g *Guard) CheckAutoResume(now time.Time) bool {
	anyPaused := false
	for _, st := range g.tracker.Snapshot() {
		for _, p := range st.Pauses {
			if p.ResumedAt == nil {
				anyPaused = true
				if p.ResumeAt.After(now) {
					return false
				}
			}
		}
	}
	if !anyPaused {
		return false
	}
	margin := g.pauseThreshold - 0.1
	return g.UsagePercentage("five_hour") < margin && g.UsagePercentage("weekly") < margin
}

// MonitoringStatus is ContinuousMonitoring's result.
type MonitoringStatus struct {
	ShouldResume    bool
	CurrentUsage    float64
	TimeUntilResume time.Duration
}

// ContinuousMonitoring reports the guard's current posture: whether
// dispatch should resume right now, the higher of the two tracked
// windows' usage fractions, and how long until the earliest active
// pause naturally expires.
func (g *Guard) ContinuousMonitoring(now time.Time) MonitoringStatus {
	usage := g.UsagePercentage("five_hour")
	if weekly := g.UsagePercentage("weekly"); weekly > usage {
		usage = weekly
	}

	status := MonitoringStatus{ShouldResume: g.CheckAutoResume(now), CurrentUsage: usage}
	if status.ShouldResume {
		return status
	}

	var earliest time.Time
	for _, st := range g.tracker.Snapshot() {
		for _, p := range st.Pauses {
			if p.Active(now) && (earliest.IsZero() || p.ResumeAt.Before(earliest)) {
				earliest = p.ResumeAt
			}
		}
	}
	if !earliest.IsZero() {
		if d := earliest.Sub(now); d > 0 {
			status.TimeUntilResume = d
		}
	}
	return status
}

func latestResumeAt(st *models.RateLimitState) time.Time {
	var latest time.Time
	now := time.Now()
	for _, p := range st.Pauses {
		if p.Active(now) && p.ResumeAt.After(latest) {
			latest = p.ResumeAt
		}
	}
	return latest
}

// WaitForResume blocks until model is no longer paused, ctx is canceled,
// or the poll loop observes the guard allows dispatch. Callers in the
// orchestrator use this to idle a worker slot rather than busy-poll.
func (g *Guard) WaitForResume(ctx context.Context, model string, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if d := g.Check(model); d.Allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
