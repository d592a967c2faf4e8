package models

import "time"

// TaskFileRecord correlates a task's keywords/objective shape with the
// files it ended up touching, so future similar tasks can be routed with
// a better initial EstimatedFiles guess.
type TaskFileRecord struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	Keyword    string    `json:"keyword"`
	FilePath   string    `json:"file_path"`
	HitCount   int       `json:"hit_count"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// KeywordCorrelation aggregates how often a keyword co-occurs with a
// given file across tasks, independent of any single task.
type KeywordCorrelation struct {
	Keyword     string  `json:"keyword"`
	FilePath    string  `json:"file_path"`
	OccurrenceCount int `json:"occurrence_count"`
	Confidence  float64 `json:"confidence"`
}

// Score returns a ranking key combining frequency and confidence.
func (k KeywordCorrelation) Score() float64 {
	return float64(k.OccurrenceCount) * k.Confidence
}

// CoModification records two files that were changed together by the same
// task, used by the merge queue to predict conflicts before they occur.
type CoModification struct {
	ID        int64     `json:"id"`
	FileA     string    `json:"file_a"`
	FileB     string    `json:"file_b"`
	Count     int       `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}

// Pair returns the two file paths in a stable, sorted order so that
// (a, b) and (b, a) collapse to the same record.
func Pair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// Involves reports whether the co-modification pair includes path.
func (c CoModification) Involves(path string) bool {
	return c.FileA == path || c.FileB == path
}
