package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/undercity-dev/undercity/internal/models"
)

// InsertDecision records a new DecisionPoint.
func (s *Store) InsertDecision(ctx context.Context, d *models.DecisionPoint) error {
	options, err := marshalJSON(d.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO decision_points
		(task_id, category, status, question, options, context, resolution, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.TaskID, d.Category, d.Status, d.Question, options, d.Context, nil, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	d.ID = id
	return nil
}

// ResolveDecision persists a decision's resolution.
func (s *Store) ResolveDecision(ctx context.Context, d *models.DecisionPoint) error {
	resolution, err := marshalJSON(d.Resolution)
	if err != nil {
		return fmt.Errorf("marshal resolution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE decision_points SET status=?, resolution=? WHERE id=?`,
		d.Status, resolution, d.ID)
	if err != nil {
		return fmt.Errorf("resolve decision: %w", err)
	}
	return nil
}

// PendingDecisions returns decisions awaiting resolution, oldest first.
func (s *Store) PendingDecisions(ctx context.Context) ([]*models.DecisionPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, category, status, question, options, context, resolution, created_at
		FROM decision_points WHERE status = ? ORDER BY created_at ASC`, models.DecisionPending)
	if err != nil {
		return nil, fmt.Errorf("query pending decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.DecisionPoint
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(row rowScanner) (*models.DecisionPoint, error) {
	var d models.DecisionPoint
	var options string
	var resolution sql.NullString
	if err := row.Scan(&d.ID, &d.TaskID, &d.Category, &d.Status, &d.Question, &options, &d.Context, &resolution, &d.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan decision row: %w", err)
	}
	if err := unmarshalJSON(options, &d.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if resolution.Valid {
		var r models.Resolution
		if err := unmarshalJSON(resolution.String, &r); err != nil {
			return nil, fmt.Errorf("unmarshal resolution: %w", err)
		}
		d.Resolution = &r
	}
	return &d, nil
}

// ResolvedDecisionsByQuestion returns past resolved decisions whose
// question matches exactly (case-insensitive), most recent first, for
// the planner's inline question resolution (spec.md §4.5: "consult the
// decision tracker's matching past resolutions").
func (s *Store) ResolvedDecisionsByQuestion(ctx context.Context, question string) ([]*models.DecisionPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, category, status, question, options, context, resolution, created_at
		FROM decision_points WHERE status = ? AND LOWER(question) = LOWER(?) ORDER BY created_at DESC`,
		models.DecisionResolved, question)
	if err != nil {
		return nil, fmt.Errorf("query resolved decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.DecisionPoint
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AppendOverride records a human override, trimming the log to maxEntries
// by deleting the oldest rows once the cap is exceeded (spec.md §3's
// 500-entry bound, mirrored here at the storage layer).
func (s *Store) AppendOverride(ctx context.Context, e models.OverrideEntry, maxEntries int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO override_log
		(decision_id, task_id, original, override, operator, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.DecisionID, e.TaskID, e.Original, e.Override, e.Operator, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert override: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM override_log WHERE id NOT IN (
		SELECT id FROM override_log ORDER BY id DESC LIMIT ?)`, maxEntries)
	if err != nil {
		return fmt.Errorf("trim override log: %w", err)
	}
	return nil
}

// ListOverrides returns the override log, oldest first.
func (s *Store) ListOverrides(ctx context.Context) ([]models.OverrideEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT decision_id, task_id, original, override, operator, recorded_at
		FROM override_log ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var out []models.OverrideEntry
	for rows.Next() {
		var e models.OverrideEntry
		if err := rows.Scan(&e.DecisionID, &e.TaskID, &e.Original, &e.Override, &e.Operator, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan override row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
