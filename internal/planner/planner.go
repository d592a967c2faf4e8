// Package planner generalizes the teacher's post-hoc quality-control
// review loop (internal/executor/qc.go, qc_intelligent.go: generate,
// validate, iterate-until-approved-or-capped) into a pre-execution
// tiered plan/review loop, per spec.md §4.5.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/undercity-dev/undercity/internal/agent"
	"github.com/undercity-dev/undercity/internal/learning"
	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/router"
)

// MaxPlanIterations bounds the planner<->reviewer revision loop
// (spec.md §4.5: "loop up to MAX_PLAN_ITERATIONS = 3").
const MaxPlanIterations = 3

// Context is the pre-gathered, fast local context injected into the
// planner prompt so the planner need not re-explore the tree itself:
// symbol-index hits, task->file predictions, and compact learnings.
type Context struct {
	SuggestedFiles  []string
	SymbolHints     []string
	CompactLearnings []string
	MissingFiles    []string // listed in the reviewer's pre-validation summary; Plan does not fill it in itself
	UnknownSymbols  []string
}

// AutomatedPM resolves a pm_decidable open question by policy, optionally
// backed by an LLM call, per spec.md §4.5.
type AutomatedPM interface {
	Decide(ctx context.Context, question, context string, options []string) (outcome, rationale string, err error)
}

// PolicyPM is the default AutomatedPM: picks the first offered option
// deterministically. When an Invoker is set, it asks the invoker first
// and falls back to the policy choice if that call fails or returns
// nothing usable.
type PolicyPM struct {
	Invoker agent.Invoker
	Model   string
}

// Decide implements AutomatedPM.
func (p *PolicyPM) Decide(ctx context.Context, question, ctxText string, options []string) (string, string, error) {
	if p.Invoker != nil {
		prompt := fmt.Sprintf("Decide between these options for: %s\nContext: %s\nOptions: %v\nRespond with JSON {\"outcome\":\"...\",\"rationale\":\"...\"}", question, ctxText, options)
		res, err := p.Invoker.Invoke(ctx, agent.Request{Prompt: prompt, Model: p.Model})
		if err == nil && res != nil {
			inner, _ := agent.UnwrapEnvelope(res.RawOutput)
			var decision struct {
				Outcome   string `json:"outcome"`
				Rationale string `json:"rationale"`
			}
			if obj := agent.ExtractJSONObject(inner); obj != "" {
				if json.Unmarshal([]byte(obj), &decision) == nil && decision.Outcome != "" {
					return decision.Outcome, decision.Rationale, nil
				}
			}
		}
	}
	if len(options) == 0 {
		return "", "no options offered; no decision made", nil
	}
	return options[0], "default policy: first offered option", nil
}

// Planner runs a task objective through tiered plan generation,
// specificity validation, inline open-question resolution, and a
// reviewer revision loop, returning a plan the Worker can act on.
type Planner struct {
	Invoker   agent.Invoker
	Router    *router.Router
	Decisions *learning.DecisionTracker
	PM        AutomatedPM

	MaxIterations int
}

// New constructs a Planner with spec.md §4.5's default iteration cap.
func New(invoker agent.Invoker, r *router.Router, decisions *learning.DecisionTracker, pm AutomatedPM) *Planner {
	return &Planner{
		Invoker:       invoker,
		Router:        r,
		Decisions:     decisions,
		PM:            pm,
		MaxIterations: MaxPlanIterations,
	}
}

// PlanTask adapts Plan to worker.Planner's interface: a task plus a
// starting tier, no pre-gathered local context. Callers that have
// symbol-index hits, file predictions, or compact learnings to inject
// should call Plan directly instead.
func (p *Planner) PlanTask(ctx context.Context, task models.Task, startTier router.Tier) (models.ExecutionPlan, error) {
	return p.Plan(ctx, task.Objective, "", startTier, Context{})
}

// Plan produces an approved ExecutionPlan for objective, starting at
// startTier. It escalates the planner tier once on a non-specific plan,
// resolves open questions inline, and runs the reviewer loop until
// approved, rejected, or the iteration cap is hit.
func (p *Planner) Plan(ctx context.Context, objective, workingDir string, startTier router.Tier, pre Context) (models.ExecutionPlan, error) {
	tier := startTier

	plan, err := p.generate(ctx, objective, workingDir, tier, pre)
	if err != nil {
		return models.ExecutionPlan{}, fmt.Errorf("generate plan: %w", err)
	}

	if !plan.IsSpecific() {
		next := p.Router.GetNextModelTier(tier)
		if next.CanEscalate {
			tier = next.NextTier
			plan, err = p.generate(ctx, objective, workingDir, tier, pre)
			if err != nil {
				return models.ExecutionPlan{}, fmt.Errorf("regenerate plan at escalated tier: %w", err)
			}
		}
	}

	if err := p.resolveOpenQuestions(ctx, objective, &plan); err != nil {
		return models.ExecutionPlan{}, fmt.Errorf("resolve open questions: %w", err)
	}

	if plan.AlreadyComplete != nil && plan.AlreadyComplete.Likely {
		return plan, nil
	}
	if plan.NeedsDecomposition != nil && plan.NeedsDecomposition.Needed {
		return p.ensureDecomposition(ctx, objective, workingDir, tier, pre, plan)
	}
	if plan.Blocked() {
		return plan, nil
	}

	return p.review(ctx, objective, workingDir, tier, pre, plan)
}

// ensureDecomposition escalates through tiers until a non-empty subtask
// list is obtained or the top tier has been tried, per spec.md §4.5.
func (p *Planner) ensureDecomposition(ctx context.Context, objective, workingDir string, tier router.Tier, pre Context, plan models.ExecutionPlan) (models.ExecutionPlan, error) {
	for len(plan.NeedsDecomposition.Subtasks) == 0 {
		next := p.Router.GetNextModelTier(tier)
		if !next.CanEscalate {
			break
		}
		tier = next.NextTier
		regenerated, err := p.generate(ctx, objective, workingDir, tier, pre)
		if err != nil {
			return models.ExecutionPlan{}, fmt.Errorf("regenerate decomposition at escalated tier: %w", err)
		}
		plan = regenerated
		if plan.NeedsDecomposition == nil || !plan.NeedsDecomposition.Needed {
			break
		}
	}
	return plan, nil
}

// resolveOpenQuestions consults past resolutions for each open question,
// falling through to the automated PM for pm_decidable questions.
// human_required questions are left unresolved so Blocked() reports true.
func (p *Planner) resolveOpenQuestions(ctx context.Context, objective string, plan *models.ExecutionPlan) error {
	for _, q := range plan.OpenQuestions {
		category := learning.ClassifyDecision(q.Question, q.Context)

		if p.Decisions != nil {
			if resolution, found, err := p.Decisions.MatchPastResolution(ctx, q.Question); err == nil && found {
				plan.ResolvedDecisions = append(plan.ResolvedDecisions, models.ResolvedDecision{
					Question: q.Question, Outcome: resolution.Outcome, ResolvedBy: resolution.ResolvedBy,
				})
				continue
			}
		}

		if category == models.CategoryHumanRequired {
			continue
		}

		if category == models.CategoryPMDecidable && p.PM != nil {
			outcome, rationale, err := p.PM.Decide(ctx, q.Question, q.Context, q.Options)
			if err != nil || outcome == "" {
				continue
			}
			plan.ResolvedDecisions = append(plan.ResolvedDecisions, models.ResolvedDecision{
				Question: q.Question, Outcome: outcome, ResolvedBy: "pm",
			})
			if p.Decisions != nil {
				if d, err := p.Decisions.Raise(ctx, "", q.Question, q.Context, q.Options); err == nil {
					_ = p.Decisions.ResolvePM(ctx, d, outcome, rationale)
				}
			}
		}
	}
	return nil
}

// review runs the reviewer (one tier above the planner, capped at the
// router's configured ceiling) over plan, revising up to MaxIterations
// times.
func (p *Planner) review(ctx context.Context, objective, workingDir string, tier router.Tier, pre Context, plan models.ExecutionPlan) (models.ExecutionPlan, error) {
	reviewerTier := tier
	if next := p.Router.GetNextModelTier(tier); next.CanEscalate {
		reviewerTier = next.NextTier
	}

	emptyRetried := false
	for i := 0; i < p.MaxIterations; i++ {
		result, err := p.invokeReview(ctx, objective, reviewerTier, pre, plan)
		if err != nil {
			return models.ExecutionPlan{}, fmt.Errorf("invoke reviewer: %w", err)
		}

		if result.Empty() {
			if emptyRetried {
				return plan, fmt.Errorf("planner: reviewer returned empty response twice, rejecting for safety")
			}
			emptyRetried = true
			continue
		}

		if result.SkipExecution {
			if plan.AlreadyComplete == nil {
				plan.AlreadyComplete = &models.AlreadyComplete{}
			}
			plan.AlreadyComplete.Likely = true
			plan.AlreadyComplete.Reason = result.Feedback()
			return plan, nil
		}

		if result.Approved {
			return plan, nil
		}

		if result.RevisedPlan != nil {
			plan = *result.RevisedPlan
			continue
		}

		if len(result.Issues) == 0 && len(result.Suggestions) == 0 {
			return plan, fmt.Errorf("planner: plan rejected with no actionable feedback")
		}

		regenerated, err := p.revise(ctx, objective, workingDir, tier, pre, plan, result)
		if err != nil {
			return models.ExecutionPlan{}, fmt.Errorf("revise plan: %w", err)
		}
		plan = regenerated
	}

	return plan, fmt.Errorf("planner: exceeded %d revision iterations without approval", p.MaxIterations)
}

func (p *Planner) generate(ctx context.Context, objective, workingDir string, tier router.Tier, pre Context) (models.ExecutionPlan, error) {
	prompt := buildPlanPrompt(objective, pre)
	res, err := p.Invoker.Invoke(ctx, agent.Request{Prompt: prompt, Model: p.Router.ModelFor(tier), WorkingDir: workingDir})
	if err != nil {
		return models.ExecutionPlan{}, err
	}
	inner, _ := agent.UnwrapEnvelope(res.RawOutput)
	obj := agent.ExtractJSONObject(inner)
	if obj == "" {
		return models.ExecutionPlan{}, fmt.Errorf("no plan JSON found in planner output")
	}
	var plan models.ExecutionPlan
	if err := json.Unmarshal([]byte(obj), &plan); err != nil {
		return models.ExecutionPlan{}, fmt.Errorf("unmarshal plan: %w", err)
	}
	if plan.Objective == "" {
		plan.Objective = objective
	}
	return plan, nil
}

func (p *Planner) revise(ctx context.Context, objective, workingDir string, tier router.Tier, pre Context, plan models.ExecutionPlan, review planReviewPayload) (models.ExecutionPlan, error) {
	prompt := buildRevisionPrompt(plan, review)
	res, err := p.Invoker.Invoke(ctx, agent.Request{Prompt: prompt, Model: p.Router.ModelFor(tier), WorkingDir: workingDir})
	if err != nil {
		return models.ExecutionPlan{}, err
	}
	inner, _ := agent.UnwrapEnvelope(res.RawOutput)
	obj := agent.ExtractJSONObject(inner)
	if obj == "" {
		return models.ExecutionPlan{}, fmt.Errorf("no revised plan JSON found")
	}
	var revised models.ExecutionPlan
	if err := json.Unmarshal([]byte(obj), &revised); err != nil {
		return models.ExecutionPlan{}, fmt.Errorf("unmarshal revised plan: %w", err)
	}
	if revised.Objective == "" {
		revised.Objective = objective
	}
	return revised, nil
}

// planReviewPayload mirrors models.PlanReview plus a Feedback() accessor
// built from Issues/Suggestions, since the wire format has no single
// free-text field the way models.ReviewResponse does.
type planReviewPayload struct {
	models.PlanReview
}

func (r planReviewPayload) Feedback() string {
	if len(r.Issues) > 0 {
		return r.Issues[0]
	}
	if len(r.Suggestions) > 0 {
		return r.Suggestions[0]
	}
	return "reviewer marked the objective already satisfied"
}

func (p *Planner) invokeReview(ctx context.Context, objective string, reviewerTier router.Tier, pre Context, plan models.ExecutionPlan) (planReviewPayload, error) {
	prompt := buildReviewPrompt(plan, pre)
	res, err := p.Invoker.Invoke(ctx, agent.Request{Prompt: prompt, Model: p.Router.ModelFor(reviewerTier)})
	if err != nil {
		return planReviewPayload{}, err
	}
	inner, _ := agent.UnwrapEnvelope(res.RawOutput)
	obj := agent.ExtractJSONObject(inner)
	if obj == "" {
		return planReviewPayload{}, nil
	}
	var review models.PlanReview
	if err := json.Unmarshal([]byte(obj), &review); err != nil {
		return planReviewPayload{}, nil
	}
	return planReviewPayload{review}, nil
}
