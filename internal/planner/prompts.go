package planner

import (
	"fmt"
	"strings"

	"github.com/undercity-dev/undercity/internal/models"
)

// buildPlanPrompt assembles the planner prompt: the objective plus
// pre-gathered local context, so the planner need not re-explore the
// tree itself (spec.md §4.5).
func buildPlanPrompt(objective string, pre Context) string {
	var sb strings.Builder
	sb.WriteString("Produce an execution plan for this objective:\n")
	sb.WriteString(objective)
	sb.WriteString("\n\n")

	if len(pre.SuggestedFiles) > 0 {
		sb.WriteString("Files likely relevant (from task->file history):\n")
		for _, f := range pre.SuggestedFiles {
			sb.WriteString("- " + f + "\n")
		}
		sb.WriteString("\n")
	}
	if len(pre.SymbolHints) > 0 {
		sb.WriteString("Known symbols/types:\n")
		for _, s := range pre.SymbolHints {
			sb.WriteString("- " + s + "\n")
		}
		sb.WriteString("\n")
	}
	if len(pre.CompactLearnings) > 0 {
		sb.WriteString("Relevant past learnings:\n")
		for _, l := range pre.CompactLearnings {
			sb.WriteString("- " + l + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`Respond with a single JSON object matching:
{"objective":"...","files_to_read":[...],"files_to_modify":[...],"files_to_create":[...],
"steps":["concrete, no TBD/explore/figure-out language"],"risks":[...],"expected_outcome":"...",
"already_complete":{"likely":false,"reason":""},
"needs_decomposition":{"needed":false,"subtasks":[],"rationale":""},
"open_questions":[{"question":"...","options":[...],"context":"..."}]}`)
	return sb.String()
}

// buildReviewPrompt assembles the reviewer prompt: the plan plus a
// pre-validation summary of anything generation couldn't confirm.
func buildReviewPrompt(plan models.ExecutionPlan, pre Context) string {
	var sb strings.Builder
	sb.WriteString("Review this execution plan before a worker acts on it.\n\n")
	sb.WriteString(fmt.Sprintf("Objective: %s\n", plan.Objective))
	sb.WriteString("Steps:\n")
	for i, s := range plan.Steps {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, s))
	}
	if len(pre.MissingFiles) > 0 {
		sb.WriteString("\nMissing files referenced by the plan:\n")
		for _, f := range pre.MissingFiles {
			sb.WriteString("- " + f + "\n")
		}
	}
	if len(pre.UnknownSymbols) > 0 {
		sb.WriteString("\nUnknown symbols referenced by the plan:\n")
		for _, s := range pre.UnknownSymbols {
			sb.WriteString("- " + s + "\n")
		}
	}
	sb.WriteString(`

Respond with a single JSON object matching:
{"approved":false,"issues":[...],"suggestions":[...],"revised_plan":null,"skip_execution":false}`)
	return sb.String()
}

// buildRevisionPrompt asks the planner tier to revise plan given the
// reviewer's issues and suggestions.
func buildRevisionPrompt(plan models.ExecutionPlan, review planReviewPayload) string {
	var sb strings.Builder
	sb.WriteString("Revise this execution plan based on reviewer feedback.\n\n")
	sb.WriteString(fmt.Sprintf("Objective: %s\n", plan.Objective))
	sb.WriteString("Current steps:\n")
	for i, s := range plan.Steps {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, s))
	}
	if len(review.Issues) > 0 {
		sb.WriteString("\nIssues to address:\n")
		for _, issue := range review.Issues {
			sb.WriteString("- " + issue + "\n")
		}
	}
	if len(review.Suggestions) > 0 {
		sb.WriteString("\nSuggestions:\n")
		for _, s := range review.Suggestions {
			sb.WriteString("- " + s + "\n")
		}
	}
	sb.WriteString(`

Respond with the same JSON shape as before, with an updated plan.`)
	return sb.String()
}
