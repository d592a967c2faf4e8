package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/persistence"
)

// FixAdvisor suggests remediations for recurring errors by signature,
// ranking known fixes by success rate.
type FixAdvisor struct {
	store *persistence.Store
}

// NewFixAdvisor constructs a FixAdvisor over a persistence store.
func NewFixAdvisor(store *persistence.Store) *FixAdvisor {
	return &FixAdvisor{store: store}
}

// Suggestion is a ranked remediation for an observed error.
type Suggestion struct {
	Fix             models.Fix
	PriorOccurrences int
	HasHistory      bool
}

// Suggest looks up the error pattern for message and returns its best
// known fix, if any. HasHistory is false the first time this error
// signature is seen.
func (a *FixAdvisor) Suggest(ctx context.Context, message string) (Suggestion, error) {
	sig := models.ErrorSignature(message)
	pattern, err := a.store.GetErrorPattern(ctx, sig)
	if errors.Is(err, sql.ErrNoRows) {
		return Suggestion{HasHistory: false}, nil
	}
	if err != nil {
		return Suggestion{}, fmt.Errorf("get error pattern: %w", err)
	}

	best, ok := pattern.BestFix()
	if !ok {
		return Suggestion{HasHistory: true, PriorOccurrences: pattern.OccurrenceCount}, nil
	}
	return Suggestion{Fix: best, PriorOccurrences: pattern.OccurrenceCount, HasHistory: true}, nil
}

// RecordOccurrence upserts the error pattern for message, bumping its
// occurrence count and category.
func (a *FixAdvisor) RecordOccurrence(ctx context.Context, message string, category models.ErrorCategory) (string, error) {
	sig := models.ErrorSignature(message)
	now := time.Now()
	err := a.store.UpsertErrorPattern(ctx, &models.ErrorPattern{
		Signature:     sig,
		Category:      category,
		SampleMessage: message,
		FirstSeen:     now,
		LastSeen:      now,
	})
	if err != nil {
		return "", fmt.Errorf("upsert error pattern: %w", err)
	}
	return sig, nil
}

// RecordFixAttempt records a new or existing fix's outcome against the
// error signature for message.
func (a *FixAdvisor) RecordFixAttempt(ctx context.Context, message string, description string, success bool) error {
	sig := models.ErrorSignature(message)
	pattern, err := a.store.GetErrorPattern(ctx, sig)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now()
		if err := a.store.UpsertErrorPattern(ctx, &models.ErrorPattern{
			Signature: sig, Category: models.ErrUnknown, SampleMessage: message, FirstSeen: now, LastSeen: now,
		}); err != nil {
			return fmt.Errorf("seed error pattern: %w", err)
		}
		pattern = &models.ErrorPattern{Signature: sig}
	} else if err != nil {
		return fmt.Errorf("get error pattern: %w", err)
	}

	for i := range pattern.Fixes {
		if pattern.Fixes[i].Description == description {
			return a.store.RecordFixOutcome(ctx, pattern.Fixes[i].ID, success)
		}
	}

	fix := &models.Fix{Description: description, CreatedAt: time.Now()}
	if err := a.store.InsertFix(ctx, sig, fix); err != nil {
		return fmt.Errorf("insert fix: %w", err)
	}
	return a.store.RecordFixOutcome(ctx, fix.ID, success)
}

// RecordPermanentFailure persists a task's exhausted-retries failure for
// postmortem reporting.
func (a *FixAdvisor) RecordPermanentFailure(ctx context.Context, f *models.PermanentFailure) error {
	f.RecordedAt = time.Now()
	if err := a.store.InsertPermanentFailure(ctx, f); err != nil {
		return fmt.Errorf("insert permanent failure: %w", err)
	}
	return nil
}
