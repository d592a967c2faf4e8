// Package persistence provides the embedded SQLite store backing
// undercity's task board, attempt history, and learning subsystems. It
// consolidates what would otherwise be several JSON side-files into one
// relational store opened in WAL mode for concurrent readers.
package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/undercity-dev/undercity/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Store manages the SQLite database backing undercity's persisted state.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if necessary) the database at dbPath and applies
// the embedded schema. dbPath may be ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "null", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON(data string, v interface{}) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

// UpsertTask inserts or fully replaces a task row, keyed on task ID. Tasks
// are mutated frequently by the orchestrator, so writes are upserts rather
// than append-only records.
func (s *Store) UpsertTask(ctx context.Context, t *models.Task) error {
	subtaskIDs, err := marshalJSON(keysOf(t.SubtaskIDs))
	if err != nil {
		return fmt.Errorf("marshal subtask_ids: %w", err)
	}
	dependsOn, err := marshalJSON(keysOf(t.DependsOn))
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	conflicts, err := marshalJSON(keysOf(t.Conflicts))
	if err != nil {
		return fmt.Errorf("marshal conflicts: %w", err)
	}
	relatedTo, err := marshalJSON(keysOf(t.RelatedTo))
	if err != nil {
		return fmt.Errorf("marshal related_to: %w", err)
	}
	estimatedFiles, err := marshalJSON(t.EstimatedFiles)
	if err != nil {
		return fmt.Errorf("marshal estimated_files: %w", err)
	}
	packageHints, err := marshalJSON(t.PackageHints)
	if err != nil {
		return fmt.Errorf("marshal package_hints: %w", err)
	}
	triageIssues, err := marshalJSON(t.TriageIssues)
	if err != nil {
		return fmt.Errorf("marshal triage_issues: %w", err)
	}
	handoff, err := marshalJSON(t.HandoffContext)
	if err != nil {
		return fmt.Errorf("marshal handoff_context: %w", err)
	}
	var lastAttempt *string
	if t.LastAttempt != nil {
		data, err := marshalJSON(t.LastAttempt)
		if err != nil {
			return fmt.Errorf("marshal last_attempt: %w", err)
		}
		lastAttempt = &data
	}

	query := `INSERT INTO tasks
		(id, objective, status, priority, parent_id, subtask_ids, depends_on, conflicts,
		 related_to, estimated_files, package_hints, risk_score, triage_issues,
		 handoff_context, last_attempt, blocked_reason, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			objective=excluded.objective, status=excluded.status, priority=excluded.priority,
			parent_id=excluded.parent_id, subtask_ids=excluded.subtask_ids,
			depends_on=excluded.depends_on, conflicts=excluded.conflicts,
			related_to=excluded.related_to, estimated_files=excluded.estimated_files,
			package_hints=excluded.package_hints, risk_score=excluded.risk_score,
			triage_issues=excluded.triage_issues, handoff_context=excluded.handoff_context,
			last_attempt=excluded.last_attempt, blocked_reason=excluded.blocked_reason,
			started_at=excluded.started_at, completed_at=excluded.completed_at`

	_, err = s.db.ExecContext(ctx, query,
		t.ID, t.Objective, t.Status, t.Priority, nullableString(t.ParentID),
		subtaskIDs, dependsOn, conflicts, relatedTo, estimatedFiles, packageHints,
		t.RiskScore, triageIssues, handoff, lastAttempt, nullableString(t.BlockedReason),
		t.CreatedAt, nullableTime(t.StartedAt), nullableTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// DeleteTask removes a task row outright. Used by the meta-task engine's
// "remove" action; ordinary lifecycle progress never deletes a row, it
// transitions status instead.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// GetTask retrieves a single task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, objective, status, priority, parent_id,
		subtask_ids, depends_on, conflicts, related_to, estimated_files, package_hints,
		risk_score, triage_issues, handoff_context, last_attempt, blocked_reason,
		created_at, started_at, completed_at FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasksByStatus returns all tasks in the given status.
func (s *Store) ListTasksByStatus(ctx context.Context, status models.Status) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, objective, status, priority, parent_id,
		subtask_ids, depends_on, conflicts, related_to, estimated_files, package_hints,
		risk_score, triage_issues, handoff_context, last_attempt, blocked_reason,
		created_at, started_at, completed_at FROM tasks WHERE status = ? ORDER BY priority DESC, created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("query tasks by status: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var parentID, blockedReason sql.NullString
	var lastAttempt sql.NullString
	var subtaskIDs, dependsOn, conflicts, relatedTo, estimatedFiles, packageHints, triageIssues, handoff string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Objective, &t.Status, &t.Priority, &parentID,
		&subtaskIDs, &dependsOn, &conflicts, &relatedTo, &estimatedFiles, &packageHints,
		&t.RiskScore, &triageIssues, &handoff, &lastAttempt, &blockedReason,
		&t.CreatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan task row: %w", err)
	}

	t.ParentID = parentID.String
	t.BlockedReason = blockedReason.String
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}

	t.SubtaskIDs = setFromJSON(subtaskIDs)
	t.DependsOn = setFromJSON(dependsOn)
	t.Conflicts = setFromJSON(conflicts)
	t.RelatedTo = setFromJSON(relatedTo)
	if err := unmarshalJSON(estimatedFiles, &t.EstimatedFiles); err != nil {
		return nil, fmt.Errorf("unmarshal estimated_files: %w", err)
	}
	if err := unmarshalJSON(packageHints, &t.PackageHints); err != nil {
		return nil, fmt.Errorf("unmarshal package_hints: %w", err)
	}
	if err := unmarshalJSON(triageIssues, &t.TriageIssues); err != nil {
		return nil, fmt.Errorf("unmarshal triage_issues: %w", err)
	}
	if err := unmarshalJSON(handoff, &t.HandoffContext); err != nil {
		return nil, fmt.Errorf("unmarshal handoff_context: %w", err)
	}
	if lastAttempt.Valid {
		var la models.LastAttempt
		if err := unmarshalJSON(lastAttempt.String, &la); err != nil {
			return nil, fmt.Errorf("unmarshal last_attempt: %w", err)
		}
		t.LastAttempt = &la
	}

	return &t, nil
}

func keysOf(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	return out
}

func setFromJSON(data string) map[string]bool {
	var list []string
	if err := unmarshalJSON(data, &list); err != nil || len(list) == 0 {
		return nil
	}
	out := make(map[string]bool, len(list))
	for _, k := range list {
		out[k] = true
	}
	return out
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// AppendAttempt records a new attempt for a task, assigning it the next
// sequential number (matching AttemptHistory's append-only invariant).
func (s *Store) AppendAttempt(ctx context.Context, taskID string, a models.AttemptRecord) (models.AttemptRecord, error) {
	var maxNum sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(number) FROM attempts WHERE task_id = ?`, taskID).Scan(&maxNum); err != nil {
		return a, fmt.Errorf("query max attempt number: %w", err)
	}
	a.Number = int(maxNum.Int64) + 1

	filesJSON, err := marshalJSON(a.FilesModified)
	if err != nil {
		return a, fmt.Errorf("marshal files_modified: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts
		(task_id, number, model, started_at, ended_at, success, error_category, error_message, files_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, a.Number, a.Model, a.StartedAt, nullableTime(&a.EndedAt), a.Success,
		nullableString(string(a.ErrorCategory)), nullableString(a.ErrorMessage), filesJSON)
	if err != nil {
		return a, fmt.Errorf("insert attempt: %w", err)
	}
	return a, nil
}

// AttemptsForTask returns a task's full attempt history, oldest first.
func (s *Store) AttemptsForTask(ctx context.Context, taskID string) ([]models.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT number, model, started_at, ended_at, success,
		error_category, error_message, files_modified FROM attempts WHERE task_id = ? ORDER BY number ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []models.AttemptRecord
	for rows.Next() {
		var a models.AttemptRecord
		var errorCategory, errorMessage sql.NullString
		var endedAt sql.NullTime
		var filesJSON string
		if err := rows.Scan(&a.Number, &a.Model, &a.StartedAt, &endedAt, &a.Success,
			&errorCategory, &errorMessage, &filesJSON); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		if endedAt.Valid {
			a.EndedAt = endedAt.Time
		}
		a.ErrorCategory = models.ErrorCategory(errorCategory.String)
		a.ErrorMessage = errorMessage.String
		if err := unmarshalJSON(filesJSON, &a.FilesModified); err != nil {
			return nil, fmt.Errorf("unmarshal files_modified: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
