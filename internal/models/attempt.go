package models

import (
	"fmt"
	"time"
)

// ErrorCategory is the closed taxonomy of failure kinds from spec.md §7.
type ErrorCategory string

const (
	ErrTypecheck        ErrorCategory = "typecheck"
	ErrTest             ErrorCategory = "test"
	ErrLint             ErrorCategory = "lint"
	ErrBuild            ErrorCategory = "build"
	ErrNoChanges        ErrorCategory = "no_changes"
	ErrPlanning         ErrorCategory = "planning"
	ErrMaxAttempts      ErrorCategory = "max_attempts"
	ErrRateLimit        ErrorCategory = "rate_limit"
	ErrTimeout          ErrorCategory = "timeout"
	ErrToolError        ErrorCategory = "tool_error"
	ErrValidationError  ErrorCategory = "validation_error"
	ErrCrash            ErrorCategory = "crash"
	ErrNetworkTransient ErrorCategory = "network_transient"
	ErrUnknown          ErrorCategory = "unknown"
)

// Transient reports whether errors of this category should be retried with
// backoff rather than fed back as review feedback (spec.md §7).
func (c ErrorCategory) Transient() bool {
	switch c {
	case ErrRateLimit, ErrTimeout, ErrNetworkTransient:
		return true
	}
	return false
}

// Verification failure categories that feed enriched feedback rather than
// surfacing directly to the user.
func (c ErrorCategory) VerificationFailure() bool {
	switch c {
	case ErrTypecheck, ErrTest, ErrLint, ErrBuild:
		return true
	}
	return false
}

// AttemptRecord is one execution attempt within a task's lifecycle.
type AttemptRecord struct {
	Number        int           `json:"number"`
	Model         string        `json:"model"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
	Success       bool          `json:"success"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	FilesModified []string      `json:"files_modified,omitempty"`
}

// Duration returns the wall-clock time the attempt took.
func (a AttemptRecord) Duration() time.Duration {
	if a.EndedAt.IsZero() || a.StartedAt.IsZero() {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// AttemptHistory is an append-only log of a task's attempts. Attempt
// numbers equal their position + 1 (spec.md §3 invariant).
type AttemptHistory struct {
	attempts []AttemptRecord
}

// Append records a new attempt, assigning it the next sequential number.
func (h *AttemptHistory) Append(a AttemptRecord) AttemptRecord {
	a.Number = len(h.attempts) + 1
	h.attempts = append(h.attempts, a)
	return a
}

// Len returns the number of attempts recorded so far.
func (h *AttemptHistory) Len() int {
	return len(h.attempts)
}

// All returns a copy of every recorded attempt.
func (h *AttemptHistory) All() []AttemptRecord {
	out := make([]AttemptRecord, len(h.attempts))
	copy(out, h.attempts)
	return out
}

// Last returns the most recent attempt, or false if none exist.
func (h *AttemptHistory) Last() (AttemptRecord, bool) {
	if len(h.attempts) == 0 {
		return AttemptRecord{}, false
	}
	return h.attempts[len(h.attempts)-1], true
}

// Validate checks the append-only numbering invariant.
func (h *AttemptHistory) Validate() error {
	for i, a := range h.attempts {
		if a.Number != i+1 {
			return fmt.Errorf("attempt at position %d has number %d, want %d", i, a.Number, i+1)
		}
	}
	return nil
}
