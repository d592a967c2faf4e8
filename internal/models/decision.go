package models

import (
	"errors"
	"fmt"
	"time"
)

// DecisionCategory classifies how a DecisionPoint should be resolved.
type DecisionCategory string

const (
	CategoryAutoHandle    DecisionCategory = "auto_handle"
	CategoryPMDecidable   DecisionCategory = "pm_decidable"
	CategoryHumanRequired DecisionCategory = "human_required"
)

func (c DecisionCategory) Valid() bool {
	switch c {
	case CategoryAutoHandle, CategoryPMDecidable, CategoryHumanRequired:
		return true
	}
	return false
}

// DecisionStatus is a DecisionPoint's lifecycle state.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionResolved DecisionStatus = "resolved"
)

// Resolution records how a DecisionPoint was closed out.
type Resolution struct {
	Outcome    string    `json:"outcome"`
	ResolvedBy string    `json:"resolved_by"` // "auto" | "pm" | "human"
	Rationale  string    `json:"rationale,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// DecisionPoint is a fork in task handling that the orchestrator either
// resolves itself, defers to the planner, or escalates to a human.
type DecisionPoint struct {
	ID         int64            `json:"id"`
	TaskID     string           `json:"task_id"`
	Category   DecisionCategory `json:"category"`
	Status     DecisionStatus   `json:"status"`
	Question   string           `json:"question"`
	Options    []string         `json:"options,omitempty"`
	Context    string           `json:"context,omitempty"`
	Resolution *Resolution      `json:"resolution,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Validate checks the DecisionPoint's structural invariants.
func (d *DecisionPoint) Validate() error {
	if d.TaskID == "" {
		return errors.New("decision task_id is required")
	}
	if d.Question == "" {
		return errors.New("decision question is required")
	}
	if !d.Category.Valid() {
		return fmt.Errorf("invalid decision category %q", d.Category)
	}
	if d.Status == DecisionResolved && d.Resolution == nil {
		return errors.New("resolved decision requires a resolution")
	}
	return nil
}

// IsResolved reports whether the decision has been closed out.
func (d *DecisionPoint) IsResolved() bool {
	return d.Status == DecisionResolved
}

// Resolve closes the decision with the given outcome.
func (d *DecisionPoint) Resolve(outcome, resolvedBy, rationale string) {
	d.Status = DecisionResolved
	d.Resolution = &Resolution{
		Outcome:    outcome,
		ResolvedBy: resolvedBy,
		Rationale:  rationale,
		ResolvedAt: time.Now(),
	}
}

// MaxOverrideLogEntries bounds the human-override audit log (spec.md §3).
const MaxOverrideLogEntries = 500

// OverrideEntry is one human override of an automated decision, appended
// to an audit log capped at MaxOverrideLogEntries.
type OverrideEntry struct {
	DecisionID int64     `json:"decision_id"`
	TaskID     string    `json:"task_id"`
	Original   string    `json:"original"`
	Override   string    `json:"override"`
	Operator   string    `json:"operator,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OverrideLog is an append-only, size-capped record of human overrides.
// When full, the oldest entry is dropped to make room for the newest
// (spec.md §3's 500-entry cap).
type OverrideLog struct {
	entries []OverrideEntry
}

// Append adds an entry, evicting the oldest if the log is at capacity.
func (l *OverrideLog) Append(e OverrideEntry) {
	if len(l.entries) >= MaxOverrideLogEntries {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, e)
}

// All returns a copy of the log's entries, oldest first.
func (l *OverrideLog) All() []OverrideEntry {
	out := make([]OverrideEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries currently retained.
func (l *OverrideLog) Len() int {
	return len(l.entries)
}
