package budget

import (
	"strings"
	"sync"
	"time"

	"github.com/undercity-dev/undercity/internal/models"
)

// ModelPricing is the per-million-token cost for a model, used to turn raw
// token counts into a USD estimate for reporting.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultCostModel returns built-in pricing for the model tiers undercity
// ships with. Unknown models fall back to zero cost rather than an error.
func DefaultCostModel() map[string]ModelPricing {
	return map[string]ModelPricing{
		"claude-opus":   {InputPer1M: 15.00, OutputPer1M: 75.00},
		"claude-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
		"claude-haiku":  {InputPer1M: 1.00, OutputPer1M: 5.00},
	}
}

// EstimateCostUSD converts token counts to a dollar estimate under model.
func EstimateCostUSD(costModel map[string]ModelPricing, model string, inputTokens, outputTokens int64) float64 {
	pricing, ok := costModel[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*pricing.InputPer1M + float64(outputTokens)/1_000_000*pricing.OutputPer1M
}

// SonnetEquivalentWeight returns model's budget weight relative to
// sonnet: opus counts 5x, haiku 0.2x, everything else (including
// sonnet itself) 1x. The single conversion rule used everywhere a
// cross-model, single-dimensional usage figure is needed.
func SonnetEquivalentWeight(model string) float64 {
	switch {
	case strings.Contains(model, "opus"):
		return 5.0
	case strings.Contains(model, "haiku"):
		return 0.2
	default:
		return 1.0
	}
}

// SonnetEquivalent converts a raw token count spent on model into its
// sonnet-equivalent weight.
func SonnetEquivalent(model string, tokens int64) float64 {
	return float64(tokens) * SonnetEquivalentWeight(model)
}

// Tracker maintains per-model rolling usage state in memory, backed by
// whatever Store implementation persists it between runs.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*models.RateLimitState
}

// NewTracker returns an empty tracker. Call Load for each model known at
// startup to seed it from persisted state.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*models.RateLimitState)}
}

// Load seeds the tracker's in-memory state for a model, establishing new
// rolling windows if none are persisted yet.
func (t *Tracker) Load(model string, persisted *models.RateLimitState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if persisted != nil {
		t.states[model] = persisted
		return
	}

	now := time.Now()
	t.states[model] = &models.RateLimitState{
		Model:     model,
		FiveHour:  models.UsageWindow{WindowStart: now, WindowEnd: now.Add(5 * time.Hour)},
		Weekly:    models.UsageWindow{WindowStart: now, WindowEnd: now.Add(7 * 24 * time.Hour)},
		UpdatedAt: now,
	}
}

// State returns a model's current tracked state, creating a fresh one if
// none has been loaded yet.
func (t *Tracker) State(model string) *models.RateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[model]
	if !ok {
		now := time.Now()
		st = &models.RateLimitState{
			Model:     model,
			FiveHour:  models.UsageWindow{WindowStart: now, WindowEnd: now.Add(5 * time.Hour)},
			Weekly:    models.UsageWindow{WindowStart: now, WindowEnd: now.Add(7 * 24 * time.Hour)},
			UpdatedAt: now,
		}
		t.states[model] = st
	}

	t.rollWindows(st)
	return st
}

// rollWindows advances a model's 5-hour/weekly windows once their end time
// has passed, resetting the usage counters for the new window.
func (t *Tracker) rollWindows(st *models.RateLimitState) {
	now := time.Now()
	if !st.FiveHour.WindowEnd.IsZero() && now.After(st.FiveHour.WindowEnd) {
		st.FiveHour = models.UsageWindow{WindowStart: now, WindowEnd: now.Add(5 * time.Hour), Limit: st.FiveHour.Limit}
	}
	if !st.Weekly.WindowEnd.IsZero() && now.After(st.Weekly.WindowEnd) {
		st.Weekly = models.UsageWindow{WindowStart: now, WindowEnd: now.Add(7 * 24 * time.Hour), Limit: st.Weekly.Limit}
	}
}

// RecordUsage records tokens consumed by one invocation against a model's
// rolling windows.
func (t *Tracker) RecordUsage(model string, tokens int64, requests int) {
	st := t.State(model)
	t.mu.Lock()
	defer t.mu.Unlock()
	st.RecordUsage(tokens, requests, time.Now())
}

// RecordHit records an observed rate-limit signal and, if it carries a
// reset time, installs a pause on the model until then.
func (t *Tracker) RecordHit(model string, info *RateLimitInfo) {
	if info == nil {
		return
	}
	st := t.State(model)
	t.mu.Lock()
	defer t.mu.Unlock()

	st.RecordHit(models.RateLimitHit{
		Model:      model,
		Source:     info.Source,
		RetryAfter: time.Duration(info.WaitSeconds) * time.Second,
		OccurredAt: info.DetectedAt,
	})

	if !info.ResetAt.IsZero() {
		st.Pauses = append(st.Pauses, models.PauseRecord{
			Model:    model,
			Reason:   string(info.LimitType),
			PausedAt: info.DetectedAt,
			ResumeAt: info.ResetAt,
		})
	}
}

// IsPaused reports whether any tracked model currently has an active
// pause — the global pause signal, distinct from IsModelPaused.
func (t *Tracker) IsPaused(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, st := range t.states {
		if st.IsPaused(now) {
			return true
		}
	}
	return false
}

// IsModelPaused reports whether model specifically is under an active
// pause at now. A model never seen before is never paused.
func (t *Tracker) IsModelPaused(model string, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[model]
	if !ok {
		return false
	}
	return st.IsPaused(now)
}

// ResumeFromRateLimit clears every active pause across every tracked
// model, the global resume counterpart to Guard.Resume's single-model
// clear.
func (t *Tracker) ResumeFromRateLimit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for _, st := range t.states {
		for i := range st.Pauses {
			if st.Pauses[i].Active(now) {
				st.Pauses[i].ResumedAt = &now
			}
		}
	}
}

// TotalSonnetEquivalent sums sonnet-equivalent usage across every
// tracked model for the named window ("five_hour" or "weekly"), the
// single-dimensional figure Guard compares against a shared budget
// limit instead of per-model raw token counts.
func (t *Tracker) TotalSonnetEquivalent(window string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total float64
	for model, st := range t.states {
		switch window {
		case "weekly":
			total += SonnetEquivalent(model, st.Weekly.TokensUsed)
		default:
			total += SonnetEquivalent(model, st.FiveHour.TokensUsed)
		}
	}
	return total
}

// Snapshot returns a copy of every tracked model's state, for CLI
// reporting and persistence.
func (t *Tracker) Snapshot() []models.RateLimitState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.RateLimitState, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, *st)
	}
	return out
}
