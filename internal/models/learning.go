package models

import (
	"errors"
	"fmt"
	"time"
)

// LearningCategory classifies a reusable insight.
type LearningCategory string

const (
	LearningPattern    LearningCategory = "pattern"
	LearningFact       LearningCategory = "fact"
	LearningGotcha     LearningCategory = "gotcha"
	LearningConstraint LearningCategory = "constraint"
	LearningApproach   LearningCategory = "approach"
)

func (c LearningCategory) Valid() bool {
	switch c {
	case LearningPattern, LearningFact, LearningGotcha, LearningConstraint, LearningApproach:
		return true
	}
	return false
}

// Confidence bounds for a Learning, per spec.md §3/§8.
const (
	MinConfidence = 0.1
	MaxConfidence = 1.0
)

// Learning is a reusable insight the planner and worker can inject into
// prompts and feedback.
type Learning struct {
	ID          int64            `json:"id"`
	Category    LearningCategory `json:"category"`
	Content     string           `json:"content"`
	Keywords    []string         `json:"keywords,omitempty"`
	Payload     map[string]any   `json:"payload,omitempty"`
	Confidence  float64          `json:"confidence"`
	UsedCount   int              `json:"used_count"`
	SuccessCount int             `json:"success_count"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Validate checks the Learning's structural invariants.
func (l *Learning) Validate() error {
	if l.Content == "" {
		return errors.New("learning content is required")
	}
	if !l.Category.Valid() {
		return fmt.Errorf("invalid learning category %q", l.Category)
	}
	if l.Confidence < MinConfidence || l.Confidence > MaxConfidence {
		return fmt.Errorf("confidence %.3f out of bounds [%.1f, %.1f]", l.Confidence, MinConfidence, MaxConfidence)
	}
	return nil
}

// RecordSuccess raises confidence (capped at MaxConfidence) and increments
// usage/success counters.
func (l *Learning) RecordSuccess(boost float64) {
	l.UsedCount++
	l.SuccessCount++
	l.Confidence += boost
	if l.Confidence > MaxConfidence {
		l.Confidence = MaxConfidence
	}
	l.UpdatedAt = time.Now()
}

// RecordFailure decays confidence (floored at MinConfidence) and increments
// the usage counter only.
func (l *Learning) RecordFailure(decay float64) {
	l.UsedCount++
	l.Confidence -= decay
	if l.Confidence < MinConfidence {
		l.Confidence = MinConfidence
	}
	l.UpdatedAt = time.Now()
}

// SuccessRate returns the learning's observed success ratio.
func (l *Learning) SuccessRate() float64 {
	if l.UsedCount == 0 {
		return 0
	}
	return float64(l.SuccessCount) / float64(l.UsedCount)
}

// MatchesKeyword reports whether any of the learning's keywords equal kw
// (case-sensitive; callers normalize case before matching).
func (l *Learning) MatchesKeyword(kw string) bool {
	for _, k := range l.Keywords {
		if k == kw {
			return true
		}
	}
	return false
}
