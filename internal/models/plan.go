package models

import (
	"errors"
	"strings"
)

// AlreadyComplete records the planner's judgment that a task's objective
// is already satisfied in the working tree, so execution can be skipped.
type AlreadyComplete struct {
	Likely bool   `json:"likely"`
	Reason string `json:"reason,omitempty"`
}

// NeedsDecomposition records the planner's judgment that a task is too
// broad for one attempt and should be split into subtasks.
type NeedsDecomposition struct {
	Needed    bool     `json:"needed"`
	Subtasks  []string `json:"subtasks,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// OpenQuestion is a fork in the plan the planner could not resolve on
// its own, to be settled via the decision tracker before execution.
type OpenQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Context  string   `json:"context,omitempty"`
}

// ResolvedDecision records how an OpenQuestion was settled, and by whom.
type ResolvedDecision struct {
	Question   string `json:"question"`
	Outcome    string `json:"outcome"`
	ResolvedBy string `json:"resolved_by"` // "auto" | "pm" | "human"
}

// ExecutionPlan is a planner tier's proposed approach to a task, subject
// to specificity validation and a reviewer's approval before a Worker
// acts on it.
type ExecutionPlan struct {
	Objective          string              `json:"objective"`
	FilesToRead        []string            `json:"files_to_read,omitempty"`
	FilesToModify      []string            `json:"files_to_modify,omitempty"`
	FilesToCreate      []string            `json:"files_to_create,omitempty"`
	Steps              []string            `json:"steps"`
	Risks              []string            `json:"risks,omitempty"`
	ExpectedOutcome    string              `json:"expected_outcome"`
	AlreadyComplete    *AlreadyComplete    `json:"already_complete,omitempty"`
	NeedsDecomposition *NeedsDecomposition `json:"needs_decomposition,omitempty"`
	OpenQuestions      []OpenQuestion      `json:"open_questions,omitempty"`
	ResolvedDecisions  []ResolvedDecision  `json:"resolved_decisions,omitempty"`
}

// Validate checks the plan's structural invariants.
func (p *ExecutionPlan) Validate() error {
	if p.Objective == "" {
		return errors.New("plan objective is required")
	}
	skipped := p.AlreadyComplete != nil && p.AlreadyComplete.Likely
	decomposing := p.NeedsDecomposition != nil && p.NeedsDecomposition.Needed
	if len(p.Steps) == 0 && !skipped && !decomposing {
		return errors.New("plan must have steps unless already complete or needs decomposition")
	}
	return nil
}

// Blocked reports whether any open question still needs a human and has
// not been resolved, per spec.md §4.5's "human_required questions remain
// open and block execution."
func (p *ExecutionPlan) Blocked() bool {
	if len(p.OpenQuestions) == 0 {
		return false
	}
	resolved := make(map[string]bool, len(p.ResolvedDecisions))
	for _, r := range p.ResolvedDecisions {
		resolved[r.Question] = true
	}
	for _, q := range p.OpenQuestions {
		if !resolved[q.Question] {
			return true
		}
	}
	return false
}

// specificityBlocklist names the vague phrases that disqualify a plan
// step from being "specific" per spec.md §4.5.
var specificityBlocklist = []string{"tbd", "explore", "figure out"}

// IsSpecific reports whether every step is concrete: no vague
// placeholder language, and the plan has at least one step (or is
// exempt via already-complete/needs-decomposition).
func (p *ExecutionPlan) IsSpecific() bool {
	if p.AlreadyComplete != nil && p.AlreadyComplete.Likely {
		return true
	}
	if p.NeedsDecomposition != nil && p.NeedsDecomposition.Needed {
		return true
	}
	if len(p.Steps) == 0 {
		return false
	}
	for _, step := range p.Steps {
		lower := strings.ToLower(step)
		for _, bad := range specificityBlocklist {
			if strings.Contains(lower, bad) {
				return false
			}
		}
	}
	return true
}

// PlanReview is a reviewer's verdict on an ExecutionPlan, per spec.md
// §4.5's review loop.
type PlanReview struct {
	Approved      bool           `json:"approved"`
	Issues        []string       `json:"issues,omitempty"`
	Suggestions   []string       `json:"suggestions,omitempty"`
	RevisedPlan   *ExecutionPlan `json:"revised_plan,omitempty"`
	SkipExecution bool           `json:"skip_execution,omitempty"`
}

// Empty reports whether the reviewer returned nothing actionable at all
// (spec.md §4.5: "Empty review response → retry once, then reject for
// safety").
func (r *PlanReview) Empty() bool {
	return !r.Approved && len(r.Issues) == 0 && len(r.Suggestions) == 0 && r.RevisedPlan == nil && !r.SkipExecution
}
