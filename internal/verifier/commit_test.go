package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitSpec_BuildCommitMessage(t *testing.T) {
	assert.Equal(t, "t-1: fix auth bug", CommitSpec{TaskID: "t-1", Summary: "fix auth bug"}.BuildCommitMessage())
	assert.Equal(t, "", CommitSpec{}.BuildCommitMessage())
}

func TestGitLogVerifier_Found(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		`git log --oneline --grep="t-1: fix auth bug" -n 10`: "abc1234 t-1: fix auth bug",
		"git rev-parse abc1234":                               "abc1234567890",
	}}
	v := NewGitLogVerifierWithRunner(runner)

	res, err := v.Verify(context.Background(), CommitSpec{TaskID: "t-1", Summary: "fix auth bug"}, "")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "abc1234", res.ShortHash)
	assert.Equal(t, "abc1234567890", res.FullHash)
}

func TestGitLogVerifier_NotFound(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{}}
	v := NewGitLogVerifierWithRunner(runner)

	res, err := v.Verify(context.Background(), CommitSpec{TaskID: "t-2", Summary: "nothing"}, "")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Contains(t, res.Mismatch, "no commit found")
}

func TestGitLogVerifier_GitError(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		`git log --oneline --grep="t-3: x" -n 10`: errors.New("not a git repository"),
	}}
	v := NewGitLogVerifierWithRunner(runner)

	res, err := v.Verify(context.Background(), CommitSpec{TaskID: "t-3", Summary: "x"}, "")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Contains(t, res.Mismatch, "git log failed")
}

func TestGitLogVerifier_EmptySpec(t *testing.T) {
	v := NewGitLogVerifierWithRunner(&fakeRunner{})
	res, err := v.Verify(context.Background(), CommitSpec{}, "")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, "commit spec is empty", res.Mismatch)
}
