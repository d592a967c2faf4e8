package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercity-dev/undercity/internal/models"
)

type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, command string) (string, error) {
	f.calls = append(f.calls, command)
	return f.outputs[command], f.errs[command]
}

func TestVerify_AllCommandsPassNoCriteria(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"go build ./...": "ok"}}
	v := New(runner)

	res, err := v.Verify(context.Background(), []Command{{Kind: models.ErrBuild, Name: "go build ./..."}}, nil, []string{"a.go"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.False(t, res.HasWarnings)
}

func TestVerify_CommandFailureClassifiesByKind(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"go vet ./...": errors.New("exit status 1")}}
	v := New(runner)

	res, err := v.Verify(context.Background(), []Command{{Kind: models.ErrTypecheck, Name: "go vet ./..."}}, nil, []string{"a.go"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, models.ErrTypecheck, res.Category)
	require.Len(t, res.Issues, 1)
}

func TestVerify_StopsAtFirstFailingCommand(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"go build": errors.New("boom")}}
	v := New(runner)

	_, err := v.Verify(context.Background(), []Command{
		{Kind: models.ErrBuild, Name: "go build"},
		{Kind: models.ErrTest, Name: "go test"},
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"go build"}, runner.calls)
}

func TestVerify_NoFilesChangedIsNoChanges(t *testing.T) {
	runner := &fakeRunner{}
	v := New(runner)

	res, err := v.Verify(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, models.ErrNoChanges, res.Category)
}

func TestVerify_CriterionFailureIsWarningNotBlocking(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"curl -s localhost:8080/health": errors.New("connection refused")}}
	v := New(runner)

	res, err := v.Verify(context.Background(), nil, []Criterion{
		{Index: 0, Text: "health endpoint responds", Command: "curl -s localhost:8080/health"},
	}, []string{"handler.go"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.True(t, res.HasWarnings)
	require.Len(t, res.Issues, 1)
}

func TestVerify_CriterionExpectedMismatch(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"echo hi": "bye"}}
	v := New(runner)

	res, err := v.Verify(context.Background(), nil, []Criterion{
		{Index: 0, Text: "greets", Command: "echo hi", Expected: "hi"},
	}, []string{"a.go"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.True(t, res.HasWarnings)
}

func TestIsRetryableOutput(t *testing.T) {
	assert.True(t, IsRetryableOutput("dial tcp: ECONNREFUSED"))
	assert.False(t, IsRetryableOutput("undefined: foo"))
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, IsRetryableStatus(429))
	assert.True(t, IsRetryableStatus(503))
	assert.False(t, IsRetryableStatus(404))
}

func TestClassifyCommand(t *testing.T) {
	assert.Equal(t, models.ErrLint, ClassifyCommand(models.ErrLint))
	assert.Equal(t, models.ErrUnknown, ClassifyCommand(models.ErrCrash))
}
