package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/undercity-dev/undercity/internal/filelock"
)

// FileBatchStore persists one JSON file per batch under dir, written
// via filelock.AtomicWrite's temp-file-then-rename, matching the same
// side-file durability convention as worker.FileCheckpointStore.
type FileBatchStore struct {
	Dir string
}

// NewFileBatchStore returns a FileBatchStore rooted at dir.
func NewFileBatchStore(dir string) *FileBatchStore {
	return &FileBatchStore{Dir: dir}
}

func (s *FileBatchStore) path(batchID string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("batch-%s.json", batchID))
}

// Save writes state to disk, replacing any prior record for the batch.
func (s *FileBatchStore) Save(state BatchState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal batch state: %w", err)
	}
	return filelock.AtomicWrite(s.path(state.BatchID), data)
}

// Load reads the batch state for batchID. A missing or corrupted file
// is reported as (zero-value, false, nil), matching spec.md §7's
// "any corrupted JSON side-file is treated as empty and logged"
// failure posture.
func (s *FileBatchStore) Load(batchID string) (BatchState, bool, error) {
	data, err := os.ReadFile(s.path(batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return BatchState{}, false, nil
		}
		return BatchState{}, false, err
	}

	var state BatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return BatchState{}, false, nil
	}
	return state, true, nil
}

// LatestInterrupted scans dir for a batch JSON file whose pending task
// list is non-empty, the signal that a prior run was interrupted
// mid-batch and should be auto-resumed before new tasks are dispatched,
// per spec.md §4.9's Recovery note.
func LatestInterrupted(dir string) (BatchState, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return BatchState{}, false, nil
		}
		return BatchState{}, false, err
	}

	var latest BatchState
	found := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var state BatchState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if len(state.PendingTaskIDs) == 0 {
			continue
		}
		if !found || state.StartedAt.After(latest.StartedAt) {
			latest = state
			found = true
		}
	}
	return latest, found, nil
}
