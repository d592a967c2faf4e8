package models

import "time"

// UsageWindow is a rolling accounting bucket for one time horizon (5-hour
// or 7-day) within which a model's rate limit resets.
type UsageWindow struct {
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	TokensUsed    int64     `json:"tokens_used"`
	RequestsUsed  int       `json:"requests_used"`
	Limit         int64     `json:"limit,omitempty"`
}

// Remaining returns the tokens left in the window, or -1 if no limit is
// known for this window.
func (w UsageWindow) Remaining() int64 {
	if w.Limit <= 0 {
		return -1
	}
	r := w.Limit - w.TokensUsed
	if r < 0 {
		return 0
	}
	return r
}

// Exhausted reports whether the window's limit has been reached.
func (w UsageWindow) Exhausted() bool {
	return w.Limit > 0 && w.TokensUsed >= w.Limit
}

// RateLimitHit is one observed 429/rate-limit event, kept for burn-rate
// projection and postmortem reporting.
type RateLimitHit struct {
	Model      string    `json:"model"`
	Source     string    `json:"source"` // cli_stdout | http_header | json_body
	RetryAfter time.Duration `json:"retry_after"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PauseRecord tracks one guard-triggered pause of a model tier.
type PauseRecord struct {
	Model     string     `json:"model"`
	Reason    string     `json:"reason"`
	PausedAt  time.Time  `json:"paused_at"`
	ResumeAt  time.Time  `json:"resume_at"`
	ResumedAt *time.Time `json:"resumed_at,omitempty"`
}

// Active reports whether the pause is still in effect at t.
func (p PauseRecord) Active(t time.Time) bool {
	if p.ResumedAt != nil {
		return false
	}
	return t.Before(p.ResumeAt)
}

// RateLimitState is the persisted, per-model rolling usage tracker behind
// RateLimitTracker/UsageGuard (spec.md §4.4).
type RateLimitState struct {
	Model         string        `json:"model"`
	FiveHour      UsageWindow   `json:"five_hour"`
	Weekly        UsageWindow   `json:"weekly"`
	TotalTokens   int64         `json:"total_tokens"`
	TotalRequests int           `json:"total_requests"`
	Hits          []RateLimitHit `json:"hits,omitempty"`
	Pauses        []PauseRecord `json:"pauses,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// RecordUsage adds tokens/requests to both rolling windows and the
// lifetime totals.
func (s *RateLimitState) RecordUsage(tokens int64, requests int, now time.Time) {
	s.FiveHour.TokensUsed += tokens
	s.FiveHour.RequestsUsed += requests
	s.Weekly.TokensUsed += tokens
	s.Weekly.RequestsUsed += requests
	s.TotalTokens += tokens
	s.TotalRequests += requests
	s.UpdatedAt = now
}

// RecordHit appends a rate-limit hit observation.
func (s *RateLimitState) RecordHit(h RateLimitHit) {
	s.Hits = append(s.Hits, h)
}

// IsPaused reports whether the model is under an active pause at t.
func (s *RateLimitState) IsPaused(t time.Time) bool {
	for i := len(s.Pauses) - 1; i >= 0; i-- {
		if s.Pauses[i].Active(t) {
			return true
		}
	}
	return false
}

// BurnRate returns tokens-per-hour over the five-hour window, used to
// project exhaustion time.
func (s RateLimitState) BurnRate() float64 {
	elapsed := time.Since(s.FiveHour.WindowStart).Hours()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.FiveHour.TokensUsed) / elapsed
}
