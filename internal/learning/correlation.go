package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/persistence"
)

// CorrelationTracker predicts which files a task is likely to touch from
// its keywords, and which other files are likely to be touched alongside
// a given one, learned from prior completed tasks.
type CorrelationTracker struct {
	store *persistence.Store
}

// NewCorrelationTracker constructs a CorrelationTracker over a
// persistence store.
func NewCorrelationTracker(store *persistence.Store) *CorrelationTracker {
	return &CorrelationTracker{store: store}
}

// RecordCompletion records every (keyword, file) pair from a task's
// keywords and the files it actually touched, and, if the task
// succeeded, every pairwise file co-modification — feeding both the
// keyword correlation table and the conflict-prediction graph.
func (c *CorrelationTracker) RecordCompletion(ctx context.Context, taskID string, keywords, files []string, succeeded bool) error {
	now := time.Now()
	for _, kw := range keywords {
		for _, f := range files {
			if err := c.store.RecordTaskFile(ctx, models.TaskFileRecord{
				TaskID: taskID, Keyword: kw, FilePath: f, HitCount: 1, LastSeenAt: now,
			}); err != nil {
				return fmt.Errorf("record task file %s/%s: %w", kw, f, err)
			}

			confidence := 0.5
			if succeeded {
				confidence = 0.8
			}
			if err := c.store.UpsertKeywordCorrelation(ctx, models.KeywordCorrelation{
				Keyword: kw, FilePath: f, OccurrenceCount: 1, Confidence: confidence,
			}); err != nil {
				return fmt.Errorf("upsert keyword correlation %s/%s: %w", kw, f, err)
			}
		}
	}

	if !succeeded {
		return nil
	}
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if err := c.store.RecordCoModification(ctx, files[i], files[j]); err != nil {
				return fmt.Errorf("record co-modification %s/%s: %w", files[i], files[j], err)
			}
		}
	}
	return nil
}

// PredictFiles returns the files most strongly correlated with the given
// keywords, ranked by KeywordCorrelation.Score, deduplicated and capped
// at limit.
func (c *CorrelationTracker) PredictFiles(ctx context.Context, keywords []string, limit int) ([]string, error) {
	seen := make(map[string]bool)
	var ranked []models.KeywordCorrelation

	for _, kw := range keywords {
		matches, err := c.store.TopFilesForKeyword(ctx, kw, limit)
		if err != nil {
			return nil, fmt.Errorf("top files for keyword %q: %w", kw, err)
		}
		for _, m := range matches {
			if seen[m.FilePath] {
				continue
			}
			seen[m.FilePath] = true
			ranked = append(ranked, m)
		}
	}

	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].Score() > ranked[i].Score() {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.FilePath
	}
	return out, nil
}

// ConflictRisk reports the files most likely to be modified alongside
// path, based on historical co-modification, for merge-queue conflict
// prediction ahead of time.
func (c *CorrelationTracker) ConflictRisk(ctx context.Context, path string, limit int) ([]models.CoModification, error) {
	candidates, err := c.store.ConflictCandidates(ctx, path, limit)
	if err != nil {
		return nil, fmt.Errorf("conflict candidates for %q: %w", path, err)
	}
	return candidates, nil
}
