package models

import (
	"fmt"
	"time"
)

// MergeStatus is the lifecycle state of a MergeQueueItem.
type MergeStatus string

const (
	MergePending    MergeStatus = "pending"
	MergeRebasing   MergeStatus = "rebasing"
	MergeTesting    MergeStatus = "testing"
	MergeMerging    MergeStatus = "merging"
	MergeComplete   MergeStatus = "complete"
	MergeFailed     MergeStatus = "failed"
	MergeTestFailed MergeStatus = "test_failed"
)

func (s MergeStatus) Valid() bool {
	switch s {
	case MergePending, MergeRebasing, MergeTesting, MergeMerging, MergeComplete, MergeFailed, MergeTestFailed:
		return true
	}
	return false
}

// Terminal reports whether the status is complete or failed. A failed
// item whose retry budget is not yet spent is still retried by the
// merge queue.
func (s MergeStatus) Terminal() bool {
	return s == MergeComplete || s == MergeFailed
}

// ConflictStrategy selects how the merge queue resolves a rebase conflict.
type ConflictStrategy string

const (
	StrategyDefault ConflictStrategy = "default"
	StrategyOurs    ConflictStrategy = "ours"
	StrategyTheirs  ConflictStrategy = "theirs"
)

// MergeQueueItem is one branch awaiting serial integration.
type MergeQueueItem struct {
	ID            int64            `json:"id"`
	Branch        string           `json:"branch"`
	SourceTaskID  string           `json:"source_task_id"`
	AgentID       string           `json:"agent_id"`
	Status        MergeStatus      `json:"status"`
	QueuedAt      time.Time        `json:"queued_at"`
	RetryCount    int              `json:"retry_count"`
	NextRetryAfter *time.Time      `json:"next_retry_after,omitempty"`
	OriginalError string           `json:"original_error,omitempty"`
	CurrentError  string           `json:"current_error,omitempty"`
	Strategy      ConflictStrategy `json:"strategy"`
	ConflictFiles []string         `json:"conflict_files,omitempty"`
	ModifiedFiles []string         `json:"modified_files,omitempty"`
}

// Validate checks the item's structural invariants.
func (m *MergeQueueItem) Validate() error {
	if m.Branch == "" {
		return fmt.Errorf("merge queue item requires a branch")
	}
	if m.SourceTaskID == "" {
		return fmt.Errorf("merge queue item requires a source_task_id")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid merge status %q", m.Status)
	}
	return nil
}

// ReadyForRetry reports whether a failed item's backoff window has
// elapsed and it can be re-enqueued.
func (m *MergeQueueItem) ReadyForRetry(now time.Time) bool {
	if m.Status != MergeTestFailed && m.Status != MergeFailed {
		return false
	}
	if m.NextRetryAfter == nil {
		return true
	}
	return !now.Before(*m.NextRetryAfter)
}

// OverlapsFiles reports whether this item's modified files intersect
// another's, used to predict rebase conflicts before attempting one.
func (m *MergeQueueItem) OverlapsFiles(other *MergeQueueItem) bool {
	set := make(map[string]bool, len(m.ModifiedFiles))
	for _, f := range m.ModifiedFiles {
		set[f] = true
	}
	for _, f := range other.ModifiedFiles {
		if set[f] {
			return true
		}
	}
	return false
}
