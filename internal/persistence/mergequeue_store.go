package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/undercity-dev/undercity/internal/models"
)

// EnqueueMergeItem inserts a new MergeQueueItem and assigns its ID.
func (s *Store) EnqueueMergeItem(ctx context.Context, m *models.MergeQueueItem) error {
	modifiedFiles, err := marshalJSON(m.ModifiedFiles)
	if err != nil {
		return fmt.Errorf("marshal modified_files: %w", err)
	}
	conflictFiles, err := marshalJSON(m.ConflictFiles)
	if err != nil {
		return fmt.Errorf("marshal conflict_files: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO merge_queue_items
		(branch, source_task_id, agent_id, status, queued_at, retry_count, next_retry_after,
		 original_error, current_error, strategy, conflict_files, modified_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Branch, m.SourceTaskID, m.AgentID, m.Status, m.QueuedAt, m.RetryCount, nullableTime(m.NextRetryAfter),
		m.OriginalError, m.CurrentError, m.Strategy, conflictFiles, modifiedFiles)
	if err != nil {
		return fmt.Errorf("enqueue merge item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	m.ID = id
	return nil
}

// UpdateMergeItem persists status/error/retry transitions for an existing
// queue item.
func (s *Store) UpdateMergeItem(ctx context.Context, m *models.MergeQueueItem) error {
	conflictFiles, err := marshalJSON(m.ConflictFiles)
	if err != nil {
		return fmt.Errorf("marshal conflict_files: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE merge_queue_items SET
		status=?, retry_count=?, next_retry_after=?, current_error=?, strategy=?, conflict_files=?
		WHERE id=?`,
		m.Status, m.RetryCount, nullableTime(m.NextRetryAfter), m.CurrentError, m.Strategy, conflictFiles, m.ID)
	if err != nil {
		return fmt.Errorf("update merge item: %w", err)
	}
	return nil
}

// NextPending returns the oldest still-pending merge item, or (nil,
// sql.ErrNoRows) if the queue is empty. The merge queue is strictly
// serial, so the orchestrator should only ever have one item in flight.
func (s *Store) NextPending(ctx context.Context) (*models.MergeQueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, branch, source_task_id, agent_id, status, queued_at,
		retry_count, next_retry_after, original_error, current_error, strategy, conflict_files, modified_files
		FROM merge_queue_items WHERE status = ? ORDER BY queued_at ASC LIMIT 1`, models.MergePending)
	return scanMergeItem(row)
}

// ListActiveMergeItems returns every item not yet in a terminal state.
func (s *Store) ListActiveMergeItems(ctx context.Context) ([]*models.MergeQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, branch, source_task_id, agent_id, status, queued_at,
		retry_count, next_retry_after, original_error, current_error, strategy, conflict_files, modified_files
		FROM merge_queue_items WHERE status NOT IN (?, ?) ORDER BY queued_at ASC`,
		models.MergeComplete, models.MergeFailed)
	if err != nil {
		return nil, fmt.Errorf("query active merge items: %w", err)
	}
	defer rows.Close()

	var out []*models.MergeQueueItem
	for rows.Next() {
		m, err := scanMergeItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMergeItem(row rowScanner) (*models.MergeQueueItem, error) {
	var m models.MergeQueueItem
	var nextRetryAfter sql.NullTime
	var conflictFiles, modifiedFiles string
	if err := row.Scan(&m.ID, &m.Branch, &m.SourceTaskID, &m.AgentID, &m.Status, &m.QueuedAt,
		&m.RetryCount, &nextRetryAfter, &m.OriginalError, &m.CurrentError, &m.Strategy,
		&conflictFiles, &modifiedFiles); err != nil {
		return nil, fmt.Errorf("scan merge item row: %w", err)
	}
	if nextRetryAfter.Valid {
		v := nextRetryAfter.Time
		m.NextRetryAfter = &v
	}
	if err := unmarshalJSON(conflictFiles, &m.ConflictFiles); err != nil {
		return nil, fmt.Errorf("unmarshal conflict_files: %w", err)
	}
	if err := unmarshalJSON(modifiedFiles, &m.ModifiedFiles); err != nil {
		return nil, fmt.Errorf("unmarshal modified_files: %w", err)
	}
	return &m, nil
}
