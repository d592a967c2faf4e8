package persistence

import (
	"context"
	"fmt"

	"github.com/undercity-dev/undercity/internal/models"
)

// InsertLearning stores a new Learning and assigns its ID.
func (s *Store) InsertLearning(ctx context.Context, l *models.Learning) error {
	keywords, err := marshalJSON(l.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	payload, err := marshalJSON(l.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO learnings
		(category, content, keywords, payload, confidence, used_count, success_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Category, l.Content, keywords, payload, l.Confidence, l.UsedCount, l.SuccessCount, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert learning: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	l.ID = id
	return nil
}

// UpdateLearning persists confidence/usage changes made via RecordSuccess
// or RecordFailure.
func (s *Store) UpdateLearning(ctx context.Context, l *models.Learning) error {
	_, err := s.db.ExecContext(ctx, `UPDATE learnings SET confidence=?, used_count=?, success_count=?, updated_at=? WHERE id=?`,
		l.Confidence, l.UsedCount, l.SuccessCount, l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("update learning: %w", err)
	}
	return nil
}

// ListLearnings returns all learnings in the given category, ranked by
// confidence so the highest-confidence entries surface first.
func (s *Store) ListLearnings(ctx context.Context, category models.LearningCategory) ([]*models.Learning, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, category, content, keywords, payload,
		confidence, used_count, success_count, created_at, updated_at
		FROM learnings WHERE category = ? ORDER BY confidence DESC`, category)
	if err != nil {
		return nil, fmt.Errorf("query learnings: %w", err)
	}
	defer rows.Close()

	var out []*models.Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AllLearnings returns every stored learning, used by novelty checks that
// must compare a candidate against the full corpus.
func (s *Store) AllLearnings(ctx context.Context) ([]*models.Learning, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, category, content, keywords, payload,
		confidence, used_count, success_count, created_at, updated_at FROM learnings`)
	if err != nil {
		return nil, fmt.Errorf("query all learnings: %w", err)
	}
	defer rows.Close()

	var out []*models.Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLearning(row rowScanner) (*models.Learning, error) {
	var l models.Learning
	var keywords, payload string
	if err := row.Scan(&l.ID, &l.Category, &l.Content, &keywords, &payload,
		&l.Confidence, &l.UsedCount, &l.SuccessCount, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan learning row: %w", err)
	}
	if err := unmarshalJSON(keywords, &l.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshal keywords: %w", err)
	}
	if err := unmarshalJSON(payload, &l.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &l, nil
}

// UpsertErrorPattern records (or bumps the occurrence count of) an error
// pattern keyed by its normalized signature.
func (s *Store) UpsertErrorPattern(ctx context.Context, p *models.ErrorPattern) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO error_patterns
		(signature, category, sample_message, occurrence_count, first_seen, last_seen)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
			occurrence_count = occurrence_count + 1,
			last_seen = excluded.last_seen`,
		p.Signature, p.Category, p.SampleMessage, p.FirstSeen, p.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert error pattern: %w", err)
	}
	return nil
}

// GetErrorPattern retrieves an error pattern with its associated fixes,
// or (nil, sql.ErrNoRows) if the signature is unknown.
func (s *Store) GetErrorPattern(ctx context.Context, signature string) (*models.ErrorPattern, error) {
	var p models.ErrorPattern
	err := s.db.QueryRowContext(ctx, `SELECT signature, category, sample_message, occurrence_count, first_seen, last_seen
		FROM error_patterns WHERE signature = ?`, signature).
		Scan(&p.Signature, &p.Category, &p.SampleMessage, &p.OccurrenceCount, &p.FirstSeen, &p.LastSeen)
	if err != nil {
		return nil, err
	}

	fixes, err := s.fixesForSignature(ctx, signature)
	if err != nil {
		return nil, err
	}
	p.Fixes = fixes
	return &p, nil
}

// ListErrorPatterns returns the most frequently occurring error patterns,
// for the patterns command and insights reporting. Fixes are not attached;
// callers needing those should follow up with GetErrorPattern.
func (s *Store) ListErrorPatterns(ctx context.Context, limit int) ([]*models.ErrorPattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT signature, category, sample_message, occurrence_count, first_seen, last_seen
		FROM error_patterns ORDER BY occurrence_count DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query error patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.ErrorPattern
	for rows.Next() {
		var p models.ErrorPattern
		if err := rows.Scan(&p.Signature, &p.Category, &p.SampleMessage, &p.OccurrenceCount, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan error pattern row: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) fixesForSignature(ctx context.Context, signature string) ([]models.Fix, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, description, patch, files_changed, success_count, failure_count, created_at
		FROM fixes WHERE signature = ? ORDER BY success_count DESC`, signature)
	if err != nil {
		return nil, fmt.Errorf("query fixes: %w", err)
	}
	defer rows.Close()

	var out []models.Fix
	for rows.Next() {
		var f models.Fix
		var filesChanged string
		if err := rows.Scan(&f.ID, &f.Description, &f.Patch, &filesChanged, &f.SuccessCount, &f.FailureCount, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fix row: %w", err)
		}
		if err := unmarshalJSON(filesChanged, &f.FilesChanged); err != nil {
			return nil, fmt.Errorf("unmarshal files_changed: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// InsertFix records a new remediation attempt for an error pattern.
func (s *Store) InsertFix(ctx context.Context, signature string, f *models.Fix) error {
	filesChanged, err := marshalJSON(f.FilesChanged)
	if err != nil {
		return fmt.Errorf("marshal files_changed: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO fixes
		(signature, description, patch, files_changed, success_count, failure_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		signature, f.Description, f.Patch, filesChanged, f.SuccessCount, f.FailureCount, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fix: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	f.ID = id
	return nil
}

// RecordFixOutcome bumps a fix's success or failure counter after it has
// been tried again.
func (s *Store) RecordFixOutcome(ctx context.Context, fixID int64, success bool) error {
	col := "failure_count"
	if success {
		col = "success_count"
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE fixes SET %s = %s + 1 WHERE id = ?`, col, col), fixID)
	if err != nil {
		return fmt.Errorf("record fix outcome: %w", err)
	}
	return nil
}

// InsertPermanentFailure records a task that exhausted all retries and
// escalations.
func (s *Store) InsertPermanentFailure(ctx context.Context, f *models.PermanentFailure) error {
	filesAttempted, err := marshalJSON(f.FilesAttempted)
	if err != nil {
		return fmt.Errorf("marshal files_attempted: %w", err)
	}
	detailedErrors, err := marshalJSON(f.DetailedErrors)
	if err != nil {
		return fmt.Errorf("marshal detailed_errors: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO permanent_failures
		(signature, category, sample_message, task_objective, last_model, attempt_count, files_attempted, detailed_errors, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Signature, f.Category, f.SampleMessage, f.TaskObjective, f.LastModel, f.AttemptCount,
		filesAttempted, detailedErrors, f.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert permanent failure: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	f.ID = id
	return nil
}

// ListPermanentFailures returns permanent failures most-recent first, for
// postmortem reporting.
func (s *Store) ListPermanentFailures(ctx context.Context, limit int) ([]*models.PermanentFailure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, signature, category, sample_message, task_objective,
		last_model, attempt_count, files_attempted, detailed_errors, recorded_at
		FROM permanent_failures ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query permanent failures: %w", err)
	}
	defer rows.Close()

	var out []*models.PermanentFailure
	for rows.Next() {
		var f models.PermanentFailure
		var filesAttempted, detailedErrors string
		if err := rows.Scan(&f.ID, &f.Signature, &f.Category, &f.SampleMessage, &f.TaskObjective,
			&f.LastModel, &f.AttemptCount, &filesAttempted, &detailedErrors, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan permanent failure row: %w", err)
		}
		if err := unmarshalJSON(filesAttempted, &f.FilesAttempted); err != nil {
			return nil, fmt.Errorf("unmarshal files_attempted: %w", err)
		}
		if err := unmarshalJSON(detailedErrors, &f.DetailedErrors); err != nil {
			return nil, fmt.Errorf("unmarshal detailed_errors: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
