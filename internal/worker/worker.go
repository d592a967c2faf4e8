package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/undercity-dev/undercity/internal/agent"
	"github.com/undercity-dev/undercity/internal/budget"
	"github.com/undercity-dev/undercity/internal/complexity"
	"github.com/undercity-dev/undercity/internal/learning"
	"github.com/undercity-dev/undercity/internal/models"
	"github.com/undercity-dev/undercity/internal/router"
	"github.com/undercity-dev/undercity/internal/verifier"
)

// rateLimitPollInterval is how often Worker polls Guard while waiting
// out a rate-limit pause before retrying an attempt.
const rateLimitPollInterval = 30 * time.Second

// Config bounds a Worker's attempt accounting, per spec.md §4.6.
type Config struct {
	MaxAttempts       int // global cap across all tiers before permanent failure
	MaxRetriesPerTier int // same-tier retries before consulting the router for the next tier
	NoOpThreshold     int // consecutive zero-file-change attempts before declaring task already complete
}

// DefaultConfig mirrors the teacher's retryLimit/escalation defaults.
func DefaultConfig() Config {
	return Config{MaxAttempts: 6, MaxRetriesPerTier: 2, NoOpThreshold: 3}
}

// Planner produces an approved plan before execution begins. A minimal
// interface so internal/planner's tiered generate/review loop can be
// substituted without the worker depending on its concrete type or its
// router.Tier vocabulary.
type Planner interface {
	PlanTask(ctx context.Context, task models.Task, startTier router.Tier) (models.ExecutionPlan, error)
}

// Reviewer reviews an agent's completed work after verification passes,
// producing the approve/retry-with-issues verdict of spec.md §4.6's
// "reviewing" phase.
type Reviewer interface {
	Review(ctx context.Context, task models.Task, resp models.AgentResponse, verification verifier.Result, model string) (models.ReviewResponse, error)
}

// Worker drives one task through starting -> planning -> executing ->
// verifying -> reviewing -> complete/failed, persisting a Checkpoint at
// every phase boundary and enriching retry feedback from the learning
// subsystem, per spec.md §4.6.
type Worker struct {
	Invoker     agent.Invoker
	Router      *router.Router
	Verifier    *verifier.Verifier
	Planner     Planner
	Reviewer    Reviewer
	Checkpoints CheckpointStore

	FixAdvisor  *learning.FixAdvisor
	Knowledge   *learning.KnowledgeBase
	Correlation *learning.CorrelationTracker

	// Guard and Tracker intercept every external LLM call: Guard.Check
	// gates dispatch before Invoker.Invoke, and Tracker.RecordUsage
	// accounts for it afterward. Both nil-safe so a Worker can be used
	// without budget enforcement (e.g. in tests).
	Guard   *budget.Guard
	Tracker *budget.Tracker

	Config Config
	Now    func() time.Time
}

// New constructs a Worker with sane defaults for unset fields.
func New(invoker agent.Invoker, r *router.Router, v *verifier.Verifier, checkpoints CheckpointStore) *Worker {
	return &Worker{
		Invoker:     invoker,
		Router:      r,
		Verifier:    v,
		Checkpoints: checkpoints,
		Config:      DefaultConfig(),
		Now:         time.Now,
	}
}

// Outcome is the terminal result of running a task to completion or
// permanent failure.
type Outcome struct {
	Task         models.Task
	Phase        Phase
	Response     *models.AgentResponse
	Verification verifier.Result
	Permanent    *models.PermanentFailure
}

// Run drives task through the state machine until it reaches a
// terminal phase. It resumes from any existing checkpoint.
func (w *Worker) Run(ctx context.Context, task models.Task, assessment complexity.Assessment, commands []verifier.Command, criteria []verifier.Criterion) (Outcome, error) {
	cp := w.resume(task.ID)

	tier := w.Router.DetermineStartingModel(assessment, isTestRelated(task))
	if cp.Model == "" {
		cp.Model = w.Router.ModelFor(tier)
	}

	if cp.Phase == "" {
		cp.Phase = PhaseStarting
	}
	w.save(cp)

	if err := w.transition(&cp, PhasePlanning); err != nil {
		return w.fail(task, cp, err)
	}

	if w.Planner != nil {
		plan, planErr := w.Planner.PlanTask(ctx, task, tier)
		if planErr != nil {
			return w.fail(task, cp, fmt.Errorf("planning failed: %w", planErr))
		}
		if plan.AlreadyComplete != nil && plan.AlreadyComplete.Likely {
			cp.Phase = PhaseComplete
			w.save(cp)
			task.Status = models.StatusComplete
			task.BlockedReason = plan.AlreadyComplete.Reason
			return Outcome{Task: task, Phase: PhaseComplete}, nil
		}
		if plan.NeedsDecomposition != nil && plan.NeedsDecomposition.Needed {
			cp.Phase = PhaseFailed
			w.save(cp)
			task.Status = models.StatusBlocked
			task.BlockedReason = "task needs decomposition into subtasks"
			return Outcome{Task: task, Phase: PhaseFailed}, fmt.Errorf("planning: task needs decomposition")
		}
		if plan.Blocked() {
			cp.Phase = PhaseFailed
			w.save(cp)
			task.Status = models.StatusBlocked
			task.BlockedReason = "plan has unresolved human-required open questions"
			return Outcome{Task: task, Phase: PhaseFailed}, fmt.Errorf("planning blocked: unresolved open questions")
		}
	}

	var lastResp *models.AgentResponse
	var lastVerification verifier.Result
	var noOpStreak int

	for {
		if err := ctx.Err(); err != nil {
			return w.fail(task, cp, err)
		}
		if cp.Attempt >= w.Config.MaxAttempts {
			return w.permanentFailure(task, cp, lastResp, "max attempts exceeded")
		}

		if cp.Phase != PhaseExecuting {
			if err := w.transition(&cp, PhaseExecuting); err != nil {
				return w.fail(task, cp, err)
			}
		}

		if w.Guard != nil {
			if d := w.Guard.Check(cp.Model); !d.Allowed {
				if err := w.Guard.WaitForResume(ctx, cp.Model, rateLimitPollInterval); err != nil {
					return w.fail(task, cp, err)
				}
			}
		}

		cp.Attempt++
		w.save(cp)

		prompt := w.buildPrompt(ctx, task, lastVerification)
		res, invokeErr := w.Invoker.Invoke(ctx, agent.Request{TaskID: task.ID, Prompt: prompt, Model: cp.Model})
		if invokeErr != nil {
			var rlErr *agent.ErrRateLimit
			if errors.As(invokeErr, &rlErr) {
				if w.Guard != nil {
					reason := rlErr.Error()
					w.Guard.PauseForRateLimit(cp.Model, reason, rlErr.Info)
					if err := w.Guard.WaitForResume(ctx, cp.Model, rateLimitPollInterval); err != nil {
						return w.fail(task, cp, err)
					}
				}
				continue
			}
			if w.escalateOrFail(&cp, tier, &task, invokeErr) {
				tier = w.currentTier(cp.Model)
				continue
			}
			return w.permanentFailure(task, cp, lastResp, invokeErr.Error())
		}
		lastResp = res.Response

		if w.Tracker != nil {
			w.Tracker.RecordUsage(cp.Model, estimateTokens(res), 1)
		}

		if len(res.Response.Files) == 0 {
			noOpStreak++
			if noOpStreak >= w.Config.NoOpThreshold {
				task.BlockedReason = ""
				task.Status = models.StatusComplete
				cp.Phase = PhaseComplete
				w.save(cp)
				return Outcome{Task: task, Phase: PhaseComplete, Response: lastResp}, nil
			}
		} else {
			noOpStreak = 0
		}

		if err := w.transition(&cp, PhaseVerifying); err != nil {
			return w.fail(task, cp, err)
		}
		w.save(cp)

		verification, err := w.Verifier.Verify(ctx, commands, criteria, res.Response.Files)
		if err != nil {
			return w.fail(task, cp, err)
		}
		lastVerification = verification
		cp.LastVerification = verification.Feedback

		if !verification.Passed {
			if w.escalateOrFail(&cp, tier, &task, fmt.Errorf("verification failed: %s", verification.Feedback)) {
				tier = w.currentTier(cp.Model)
				continue
			}
			return w.permanentFailure(task, cp, lastResp, verification.Feedback)
		}

		if w.Reviewer == nil {
			cp.Phase = PhaseComplete
			w.save(cp)
			task.Status = models.StatusComplete
			return Outcome{Task: task, Phase: PhaseComplete, Response: lastResp, Verification: verification}, nil
		}

		if err := w.transition(&cp, PhaseReviewing); err != nil {
			return w.fail(task, cp, err)
		}
		w.save(cp)

		review, err := w.Reviewer.Review(ctx, task, *res.Response, verification, cp.Model)
		if err != nil {
			return w.fail(task, cp, err)
		}
		if review.Approved() {
			cp.Phase = PhaseComplete
			w.save(cp)
			task.Status = models.StatusComplete
			return Outcome{Task: task, Phase: PhaseComplete, Response: lastResp, Verification: verification}, nil
		}

		feedback := review.Feedback
		if w.escalateOrFail(&cp, tier, &task, fmt.Errorf("review issues: %s", feedback)) {
			tier = w.currentTier(cp.Model)
			continue
		}
		return w.permanentFailure(task, cp, lastResp, feedback)
	}
}

// escalateOrFail records one failed attempt against the current tier
// and decides whether to retry on the same tier, escalate, or give up.
// Returns true if the caller should loop back to PhaseExecuting.
func (w *Worker) escalateOrFail(cp *Checkpoint, tier router.Tier, task *models.Task, cause error) bool {
	task.HandoffContext.PriorError = cause.Error()
	task.HandoffContext.AttemptCount = cp.Attempt
	task.HandoffContext.LastUpdatedAt = w.now()

	cp.RetriesThisTier++
	if cp.RetriesThisTier <= w.Config.MaxRetriesPerTier {
		cp.Phase = PhaseExecuting
		w.save(*cp)
		return true
	}

	next := w.Router.GetNextModelTier(tier)
	if !next.CanEscalate {
		return false
	}
	cp.Model = w.Router.ModelFor(next.NextTier)
	cp.RetriesThisTier = 0
	cp.Phase = PhaseExecuting
	w.save(*cp)
	return true
}

func (w *Worker) currentTier(model string) router.Tier {
	for _, t := range []router.Tier{router.TierLow, router.TierMid, router.TierTop} {
		if w.Router.ModelFor(t) == model {
			return t
		}
	}
	return router.TierLow
}

// buildPrompt enriches the task objective with verification feedback,
// fix suggestions, co-modification hints, and relevant learnings, per
// spec.md §4.6's feedback-enrichment rule: best-effort, any sub-failure
// is swallowed and the base feedback still flows.
func (w *Worker) buildPrompt(ctx context.Context, task models.Task, lastVerification verifier.Result) string {
	var sb strings.Builder
	sb.WriteString(task.Objective)

	if lastVerification.Feedback != "" {
		sb.WriteString("\n\nPrevious attempt feedback:\n")
		sb.WriteString(lastVerification.Feedback)
		for _, issue := range lastVerification.Issues {
			sb.WriteString("\n- " + issue)
		}
	}

	if w.FixAdvisor != nil && lastVerification.Feedback != "" {
		if sug, err := w.FixAdvisor.Suggest(ctx, lastVerification.Feedback); err == nil && sug.HasHistory {
			sb.WriteString(fmt.Sprintf("\n\nSuggested fix (seen before): %s", sug.Fix.Description))
		}
	}

	if w.Correlation != nil {
		for _, f := range lastVerification.FilesChanged {
			risk, err := w.Correlation.ConflictRisk(ctx, f, 3)
			if err != nil || len(risk) == 0 {
				continue
			}
			sb.WriteString(fmt.Sprintf("\n\nFiles often co-modified with %s:", f))
			for _, r := range risk {
				sb.WriteString(fmt.Sprintf(" %v", r))
			}
		}
	}

	if w.Knowledge != nil {
		if matches, err := w.Knowledge.RelevantLearnings(ctx, models.LearningGotcha, strings.Fields(task.Objective)); err == nil {
			for _, l := range matches {
				sb.WriteString("\n\nLearned: " + l.Content)
			}
		}
	}

	return sb.String()
}

func (w *Worker) transition(cp *Checkpoint, next Phase) error {
	return cp.Advance(next)
}

func (w *Worker) resume(taskID string) Checkpoint {
	if w.Checkpoints == nil {
		return Checkpoint{TaskID: taskID}
	}
	cp, ok, err := w.Checkpoints.Load(taskID)
	if err != nil || !ok {
		return Checkpoint{TaskID: taskID}
	}
	return cp
}

func (w *Worker) save(cp Checkpoint) {
	if w.Checkpoints == nil {
		return
	}
	cp.UpdatedAt = w.now()
	_ = w.Checkpoints.Save(cp)
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Worker) fail(task models.Task, cp Checkpoint, err error) (Outcome, error) {
	cp.Phase = PhaseFailed
	w.save(cp)
	task.Status = models.StatusFailed
	task.BlockedReason = err.Error()
	return Outcome{Task: task, Phase: PhaseFailed}, err
}

func (w *Worker) permanentFailure(task models.Task, cp Checkpoint, resp *models.AgentResponse, message string) (Outcome, error) {
	cp.Phase = PhaseFailed
	w.save(cp)
	task.Status = models.StatusFailed
	task.BlockedReason = message

	pf := &models.PermanentFailure{
		Signature:     models.ErrorSignature(message),
		Category:      models.ErrMaxAttempts,
		SampleMessage: message,
		TaskObjective: task.Objective,
		LastModel:     cp.Model,
		AttemptCount:  cp.Attempt,
	}
	if resp != nil {
		pf.FilesAttempted = resp.Files
	}

	return Outcome{Task: task, Phase: PhaseFailed, Response: resp, Permanent: pf}, fmt.Errorf("permanent failure: %s", message)
}

// estimateTokens extracts a token count for budget accounting from a
// result's response metadata when the agent reports one, falling back
// to a rough chars/4 estimate of the raw output when it doesn't.
func estimateTokens(res *agent.Result) int64 {
	if res == nil {
		return 0
	}
	if res.Response != nil {
		var total int64
		for _, key := range []string{"input_tokens", "output_tokens"} {
			v, ok := res.Response.Metadata[key]
			if !ok {
				continue
			}
			switch n := v.(type) {
			case float64:
				total += int64(n)
			case int64:
				total += n
			case int:
				total += int64(n)
			}
		}
		if total > 0 {
			return total
		}
	}
	return int64(len(res.RawOutput) / 4)
}

func isTestRelated(task models.Task) bool {
	lower := strings.ToLower(task.Objective)
	return strings.Contains(lower, "test") || strings.Contains(lower, "spec")
}
