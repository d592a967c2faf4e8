package persistence

import (
	"context"
	"fmt"

	"github.com/undercity-dev/undercity/internal/models"
)

// RecordTaskFile upserts a task/keyword/file hit, bumping the counter if
// the (task, keyword, file) triple has already been seen.
func (s *Store) RecordTaskFile(ctx context.Context, r models.TaskFileRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_file_records
		(task_id, keyword, file_path, hit_count, last_seen_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(task_id, keyword, file_path) DO UPDATE SET
			hit_count = hit_count + 1, last_seen_at = excluded.last_seen_at`,
		r.TaskID, r.Keyword, r.FilePath, r.LastSeenAt)
	if err != nil {
		return fmt.Errorf("record task file: %w", err)
	}
	return nil
}

// UpsertKeywordCorrelation accumulates the occurrence count for a
// keyword/file pair and replaces its confidence with the latest
// observation.
func (s *Store) UpsertKeywordCorrelation(ctx context.Context, c models.KeywordCorrelation) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO keyword_correlations
		(keyword, file_path, occurrence_count, confidence)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(keyword, file_path) DO UPDATE SET
			occurrence_count = occurrence_count + excluded.occurrence_count, confidence = excluded.confidence`,
		c.Keyword, c.FilePath, c.OccurrenceCount, c.Confidence)
	if err != nil {
		return fmt.Errorf("upsert keyword correlation: %w", err)
	}
	return nil
}

// TopFilesForKeyword returns the files most strongly correlated with a
// keyword, ranked by occurrence count weighted by confidence.
func (s *Store) TopFilesForKeyword(ctx context.Context, keyword string, limit int) ([]models.KeywordCorrelation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT keyword, file_path, occurrence_count, confidence
		FROM keyword_correlations WHERE keyword = ?
		ORDER BY occurrence_count * confidence DESC LIMIT ?`, keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("query keyword correlations: %w", err)
	}
	defer rows.Close()

	var out []models.KeywordCorrelation
	for rows.Next() {
		var c models.KeywordCorrelation
		if err := rows.Scan(&c.Keyword, &c.FilePath, &c.OccurrenceCount, &c.Confidence); err != nil {
			return nil, fmt.Errorf("scan keyword correlation row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TopKeywordCorrelations returns the strongest keyword/file correlations
// across all keywords, for insights reporting.
func (s *Store) TopKeywordCorrelations(ctx context.Context, limit int) ([]models.KeywordCorrelation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT keyword, file_path, occurrence_count, confidence
		FROM keyword_correlations ORDER BY occurrence_count * confidence DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top keyword correlations: %w", err)
	}
	defer rows.Close()

	var out []models.KeywordCorrelation
	for rows.Next() {
		var c models.KeywordCorrelation
		if err := rows.Scan(&c.Keyword, &c.FilePath, &c.OccurrenceCount, &c.Confidence); err != nil {
			return nil, fmt.Errorf("scan keyword correlation row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordCoModification upserts a co-modification pair, using the stable
// (sorted) ordering from models.Pair so (a,b) and (b,a) collapse to one row.
func (s *Store) RecordCoModification(ctx context.Context, fileA, fileB string) error {
	a, b := models.Pair(fileA, fileB)
	_, err := s.db.ExecContext(ctx, `INSERT INTO co_modifications (file_a, file_b, count, last_seen)
		VALUES (?, ?, 1, datetime('now'))
		ON CONFLICT(file_a, file_b) DO UPDATE SET
			count = count + 1, last_seen = datetime('now')`, a, b)
	if err != nil {
		return fmt.Errorf("record co-modification: %w", err)
	}
	return nil
}

// ConflictCandidates returns files historically co-modified with path,
// used by the merge queue to predict rebase conflicts before attempting
// one.
func (s *Store) ConflictCandidates(ctx context.Context, path string, limit int) ([]models.CoModification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, file_a, file_b, count, last_seen
		FROM co_modifications WHERE file_a = ? OR file_b = ?
		ORDER BY count DESC LIMIT ?`, path, path, limit)
	if err != nil {
		return nil, fmt.Errorf("query co-modifications: %w", err)
	}
	defer rows.Close()

	var out []models.CoModification
	for rows.Next() {
		var c models.CoModification
		if err := rows.Scan(&c.ID, &c.FileA, &c.FileB, &c.Count, &c.LastSeen); err != nil {
			return nil, fmt.Errorf("scan co-modification row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
