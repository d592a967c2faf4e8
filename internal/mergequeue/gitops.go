// Package mergequeue serializes integration of finished task branches
// into the trunk branch. Tasks run concurrently on their own branches;
// the queue drains them one at a time so that rebase, test, and merge
// for one branch never races another's. Grounded on the teacher's
// internal/executor rollback_manager.go and branch_guard.go for its
// git-aware decision style, and graph.go for conflict reasoning over
// file sets (ValidateFileOverlaps' same-wave overlap check, adapted
// from a same-wave invariant into a same-queue conflict signal).
package mergequeue

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/undercity-dev/undercity/internal/models"
)

// GitOps abstracts the git operations the queue drains against a
// branch, grounded on the teacher's GitCheckpointer interface.
type GitOps interface {
	// Rebase rebases branch onto trunk using the given strategy.
	Rebase(ctx context.Context, branch, trunk string, strategy models.ConflictStrategy) error

	// RunTests executes the configured test command against the
	// currently checked-out tree.
	RunTests(ctx context.Context, testCommand string) (string, error)

	// Merge merges branch into trunk. Fast-forwards when possible;
	// falls back to a merge commit resolved with strategy otherwise.
	Merge(ctx context.Context, branch, trunk string, strategy models.ConflictStrategy) error

	// Push pushes trunk to its configured remote.
	Push(ctx context.Context, trunk string) error

	// AbortRebase aborts an in-progress rebase, restoring the branch
	// to its pre-rebase state.
	AbortRebase(ctx context.Context) error
}

// ShellGitOps implements GitOps by shelling out to the git binary,
// grounded on the teacher's DefaultGitCheckpointer.
type ShellGitOps struct {
	WorkDir string
}

// NewShellGitOps creates a GitOps rooted at workDir (empty means the
// current directory).
func NewShellGitOps(workDir string) *ShellGitOps {
	return &ShellGitOps{WorkDir: workDir}
}

func (g *ShellGitOps) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if g.WorkDir != "" {
		cmd.Dir = g.WorkDir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (g *ShellGitOps) Rebase(ctx context.Context, branch, trunk string, strategy models.ConflictStrategy) error {
	if _, err := g.run(ctx, "checkout", branch); err != nil {
		return err
	}
	args := []string{"rebase", trunk}
	switch strategy {
	case models.StrategyOurs:
		args = []string{"rebase", "-X", "ours", trunk}
	case models.StrategyTheirs:
		args = []string{"rebase", "-X", "theirs", trunk}
	}
	_, err := g.run(ctx, args...)
	return err
}

func (g *ShellGitOps) RunTests(ctx context.Context, testCommand string) (string, error) {
	if testCommand == "" {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", testCommand)
	if g.WorkDir != "" {
		cmd.Dir = g.WorkDir
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (g *ShellGitOps) Merge(ctx context.Context, branch, trunk string, strategy models.ConflictStrategy) error {
	if _, err := g.run(ctx, "checkout", trunk); err != nil {
		return err
	}
	if _, err := g.run(ctx, "merge", "--ff-only", branch); err == nil {
		return nil
	}
	args := []string{"merge", "--no-ff", branch}
	switch strategy {
	case models.StrategyOurs:
		args = []string{"merge", "--no-ff", "-X", "ours", branch}
	case models.StrategyTheirs:
		args = []string{"merge", "--no-ff", "-X", "theirs", branch}
	}
	_, err := g.run(ctx, args...)
	return err
}

func (g *ShellGitOps) Push(ctx context.Context, trunk string) error {
	_, err := g.run(ctx, "push", "origin", trunk)
	return err
}

func (g *ShellGitOps) AbortRebase(ctx context.Context) error {
	_, err := g.run(ctx, "rebase", "--abort")
	return err
}
