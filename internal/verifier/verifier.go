package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/undercity-dev/undercity/internal/models"
)

// Command is one configured shell invocation (typecheck, test, lint, or
// build) a task must pass, tagged with the taxonomy category it
// represents so a failure can be classified without parsing output.
type Command struct {
	Kind models.ErrorCategory
	Name string
}

// CommandResult is the outcome of running one Command, grounded on the
// teacher's TestCommandResult.
type CommandResult struct {
	Command  Command
	Output   string
	Err      error
	Passed   bool
	Duration time.Duration
}

// Criterion is one optional, non-blocking verification tied to a
// planner success criterion, grounded on the teacher's
// CriterionVerificationResult input shape.
type Criterion struct {
	Index       int
	Text        string
	Command     string
	Expected    string
	Description string
}

// Result is the unified verification verdict of spec.md §4.7.
type Result struct {
	Passed       bool
	Feedback     string
	Issues       []string
	FilesChanged []string
	HasWarnings  bool
	Category     models.ErrorCategory
}

// Verifier runs a task's configured commands and criteria against a
// CommandRunner and produces a single Result.
type Verifier struct {
	Runner CommandRunner
}

// New constructs a Verifier over the given CommandRunner.
func New(runner CommandRunner) *Verifier {
	return &Verifier{Runner: runner}
}

// Verify runs commands sequentially, stopping at the first failure
// (verification failures block merge), then runs every criterion
// regardless of outcome (criteria never block; they enrich feedback).
// filesChanged is supplied by the caller (the worker knows which files
// its agent touched); an empty list with otherwise-passing commands is
// classified as models.ErrNoChanges per spec.md §4.7.
func (v *Verifier) Verify(ctx context.Context, commands []Command, criteria []Criterion, filesChanged []string) (Result, error) {
	cmdResults, err := v.runCommands(ctx, commands)
	if err != nil {
		return Result{}, err
	}

	criterionResults, err := v.runCriteria(ctx, criteria)
	if err != nil {
		return Result{}, err
	}

	return buildResult(cmdResults, criterionResults, filesChanged), nil
}

func (v *Verifier) runCommands(ctx context.Context, commands []Command) ([]CommandResult, error) {
	results := make([]CommandResult, 0, len(commands))
	for _, cmd := range commands {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		start := time.Now()
		output, err := v.Runner.Run(ctx, cmd.Name)
		results = append(results, CommandResult{
			Command:  cmd,
			Output:   output,
			Err:      err,
			Passed:   err == nil,
			Duration: time.Since(start),
		})

		if err != nil {
			return results, nil
		}
	}
	return results, nil
}

func (v *Verifier) runCriteria(ctx context.Context, criteria []Criterion) ([]models.CriterionResult, error) {
	results := make([]models.CriterionResult, 0, len(criteria))
	for _, c := range criteria {
		if c.Command == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		output, err := v.Runner.Run(ctx, c.Command)
		passed := err == nil
		if passed && c.Expected != "" {
			passed = strings.TrimSpace(output) == strings.TrimSpace(c.Expected)
		}

		result := models.CriterionResult{
			Index:     c.Index,
			Criterion: c.Text,
			Passed:    passed,
			Evidence:  strings.TrimSpace(output),
		}
		if !passed && err != nil {
			result.FailReason = err.Error()
		} else if !passed {
			result.FailReason = fmt.Sprintf("expected %q, got %q", c.Expected, strings.TrimSpace(output))
		}
		results = append(results, result)
	}
	return results, nil
}

func buildResult(cmdResults []CommandResult, criterionResults []models.CriterionResult, filesChanged []string) Result {
	var failed *CommandResult
	for i := range cmdResults {
		if !cmdResults[i].Passed {
			failed = &cmdResults[i]
			break
		}
	}

	if failed != nil {
		return Result{
			Passed:       false,
			Feedback:     formatCommandFailure(*failed),
			Issues:       []string{fmt.Sprintf("%s failed: %s", failed.Command.Name, summarize(failed.Output))},
			FilesChanged: filesChanged,
			Category:     ClassifyCommand(failed.Command.Kind),
		}
	}

	if len(filesChanged) == 0 {
		return Result{
			Passed:   false,
			Feedback: "no files were changed",
			Category: models.ErrNoChanges,
		}
	}

	issues, warnings := formatCriteriaIssues(criterionResults)
	return Result{
		Passed:       true,
		Feedback:     "all verification commands passed",
		Issues:       issues,
		FilesChanged: filesChanged,
		HasWarnings:  warnings,
	}
}

func formatCommandFailure(r CommandResult) string {
	msg := fmt.Sprintf("%q failed after %v", r.Command.Name, r.Duration.Round(time.Millisecond))
	if r.Err != nil {
		msg += fmt.Sprintf(": %v", r.Err)
	}
	if r.Output != "" {
		msg += "\n" + summarize(r.Output)
	}
	return msg
}

func formatCriteriaIssues(results []models.CriterionResult) (issues []string, hasWarnings bool) {
	for _, r := range results {
		if !r.Passed {
			hasWarnings = true
			issues = append(issues, fmt.Sprintf("criterion %q not verified: %s", r.Criterion, r.FailReason))
		}
	}
	return issues, hasWarnings
}

func summarize(output string) string {
	trimmed := strings.TrimSpace(output)
	const maxLen = 2000
	if len(trimmed) > maxLen {
		return trimmed[:maxLen] + "\n... (truncated)"
	}
	return trimmed
}
