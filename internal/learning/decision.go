package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/persistence"
)

// humanKeywords flag irreversible or destructive actions that must
// always escalate to a person, never be auto- or PM-resolved.
var humanKeywords = []string{
	"delete", "drop table", "production database", "force push",
	"revoke", "rotate credential", "destroy", "irreversible",
}

// pmKeywords flag a choice among named alternatives, suited to the
// automated PM's policy-driven resolution.
var pmKeywords = []string{
	"which approach", "option a", "option b", "choose between",
	"prefer", "instead of", "or should",
}

// autoKeywords flag routine, reversible operational questions the
// orchestrator can answer itself from policy.
var autoKeywords = []string{
	"retry", "retrying", "continue", "proceed", "skip", "escalate",
}

// ClassifyDecision assigns a DecisionCategory to a question/context pair
// by keyword pattern, per spec.md §3/§8: human-required signals take
// precedence over pm-decidable, which take precedence over auto-handle;
// an unmatched question defaults to human_required, the safe default.
func ClassifyDecision(question, context string) models.DecisionCategory {
	text := strings.ToLower(question + " " + context)

	for _, kw := range humanKeywords {
		if strings.Contains(text, kw) {
			return models.CategoryHumanRequired
		}
	}
	for _, kw := range pmKeywords {
		if strings.Contains(text, kw) {
			return models.CategoryPMDecidable
		}
	}
	for _, kw := range autoKeywords {
		if strings.Contains(text, kw) {
			return models.CategoryAutoHandle
		}
	}
	return models.CategoryHumanRequired
}

// DecisionTracker raises, resolves, and audits DecisionPoints, enforcing
// that human_required decisions are never auto-resolved.
type DecisionTracker struct {
	store         *persistence.Store
	maxOverrideLog int
}

// NewDecisionTracker constructs a DecisionTracker backed by store.
func NewDecisionTracker(store *persistence.Store, maxOverrideLog int) *DecisionTracker {
	if maxOverrideLog <= 0 {
		maxOverrideLog = models.MaxOverrideLogEntries
	}
	return &DecisionTracker{store: store, maxOverrideLog: maxOverrideLog}
}

// Raise records a new pending decision, classified by question/context.
func (t *DecisionTracker) Raise(ctx context.Context, taskID, question, context string, options []string) (*models.DecisionPoint, error) {
	d := &models.DecisionPoint{
		TaskID:   taskID,
		Category: ClassifyDecision(question, context),
		Status:   models.DecisionPending,
		Question: question,
		Options:  options,
		Context:  context,
	}
	if err := t.store.InsertDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return d, nil
}

// ResolveAuto resolves an auto_handle decision without human or PM
// involvement. Returns an error if the decision is not auto_handle.
func (t *DecisionTracker) ResolveAuto(ctx context.Context, d *models.DecisionPoint, outcome, rationale string) error {
	if d.Category != models.CategoryAutoHandle {
		return fmt.Errorf("decision %d is %s, not auto_handle", d.ID, d.Category)
	}
	d.Resolve(outcome, "auto", rationale)
	return t.store.ResolveDecision(ctx, d)
}

// ResolvePM resolves a pm_decidable decision via the automated PM
// (policy application, optionally backed by an LLM call). Returns an
// error if the decision is human_required.
func (t *DecisionTracker) ResolvePM(ctx context.Context, d *models.DecisionPoint, outcome, rationale string) error {
	if d.Category == models.CategoryHumanRequired {
		return fmt.Errorf("decision %d is human_required, cannot be pm-resolved", d.ID)
	}
	d.Resolve(outcome, "pm", rationale)
	return t.store.ResolveDecision(ctx, d)
}

// ResolveHuman resolves any decision with an operator's explicit answer,
// and records an override if it contradicts a prior automated
// resolution attempt.
func (t *DecisionTracker) ResolveHuman(ctx context.Context, d *models.DecisionPoint, outcome, operator string) error {
	priorOutcome := ""
	wasResolved := d.IsResolved()
	if wasResolved {
		priorOutcome = d.Resolution.Outcome
	}

	d.Resolve(outcome, "human", "operator decision")
	if err := t.store.ResolveDecision(ctx, d); err != nil {
		return fmt.Errorf("resolve decision: %w", err)
	}

	if wasResolved && priorOutcome != outcome {
		entry := models.OverrideEntry{
			DecisionID: d.ID,
			TaskID:     d.TaskID,
			Original:   priorOutcome,
			Override:   outcome,
			Operator:   operator,
			RecordedAt: time.Now(),
		}
		if err := t.store.AppendOverride(ctx, entry, t.maxOverrideLog); err != nil {
			return fmt.Errorf("append override: %w", err)
		}
	}
	return nil
}

// MatchPastResolution looks for a prior resolved decision with the exact
// same question and returns its most recent resolution, if any.
func (t *DecisionTracker) MatchPastResolution(ctx context.Context, question string) (*models.Resolution, bool, error) {
	past, err := t.store.ResolvedDecisionsByQuestion(ctx, question)
	if err != nil {
		return nil, false, fmt.Errorf("match past resolution: %w", err)
	}
	if len(past) == 0 || past[0].Resolution == nil {
		return nil, false, nil
	}
	return past[0].Resolution, true, nil
}

// Pending returns all decisions awaiting resolution for a task, or every
// pending decision if taskID is empty.
func (t *DecisionTracker) Pending(ctx context.Context, taskID string) ([]*models.DecisionPoint, error) {
	all, err := t.store.PendingDecisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending decisions: %w", err)
	}
	if taskID == "" {
		return all, nil
	}

	var filtered []*models.DecisionPoint
	for _, d := range all {
		if d.TaskID == taskID {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

// Overrides returns the human-override audit log, oldest first.
func (t *DecisionTracker) Overrides(ctx context.Context) ([]models.OverrideEntry, error) {
	entries, err := t.store.ListOverrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	return entries, nil
}
