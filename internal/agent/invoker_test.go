package agent

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIInvoker_BuildArgs(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "plain prompt",
			req:  Request{Prompt: "fix the bug"},
			want: []string{"--print", "fix the bug"},
		},
		{
			name: "with model",
			req:  Request{Prompt: "fix the bug", Model: "sonnet"},
			want: []string{"--print", "--model", "sonnet", "fix the bug"},
		},
		{
			name: "with resume id",
			req:  Request{Prompt: "fix the bug", ResumeID: "sess-123"},
			want: []string{"--print", "--resume", "sess-123", "fix the bug"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := NewCLIInvoker("claude", "--print")
			assert.Equal(t, tt.want, inv.buildArgs(tt.req))
		})
	}
}

func TestCLIInvoker_Invoke_ParsesBareJSON(t *testing.T) {
	inv := NewCLIInvoker("echo", `{"status":"success","summary":"done","output":"ok"}`)
	res, err := inv.Invoke(context.Background(), Request{Prompt: ""})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Equal(t, "done", res.Response.Summary)
}

func TestCLIInvoker_Invoke_ParsesWrappedEnvelope(t *testing.T) {
	inv := NewCLIInvoker("echo", `{"content":"{\"status\":\"success\",\"summary\":\"done\"}","session_id":"sess-1"}`)
	res, err := inv.Invoke(context.Background(), Request{})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, "sess-1", res.Response.SessionID)
}

func TestCLIInvoker_Invoke_DetectsRateLimit(t *testing.T) {
	inv := NewCLIInvoker("sh", "-c", "echo 'rate limit exceeded, resets at 1136239445'; exit 1")
	res, err := inv.Invoke(context.Background(), Request{Prompt: ""})
	require.Error(t, err)
	var rl *ErrRateLimit
	require.True(t, errors.As(err, &rl))
	require.NotNil(t, res)
}

func TestCLIInvoker_Invoke_NonRateLimitFailureIsPlainError(t *testing.T) {
	inv := NewCLIInvoker("sh", "-c", "echo 'boom'; exit 1")
	_, err := inv.Invoke(context.Background(), Request{})
	require.Error(t, err)
	var rl *ErrRateLimit
	assert.False(t, errors.As(err, &rl))
}

func TestCLIInvoker_Invoke_InvalidJSONIsError(t *testing.T) {
	inv := NewCLIInvoker("echo", "not json at all")
	_, err := inv.Invoke(context.Background(), Request{})
	assert.Error(t, err)
}

func TestCLIInvoker_Invoke_RespectsContextTimeout(t *testing.T) {
	inv := NewCLIInvoker("sleep", "5")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := inv.Invoke(ctx, Request{})
	require.Error(t, err)
	var exitErr *exec.ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSONObject(`noise before {"a":1} noise after`))
	assert.Equal(t, `{"a":{"b":1}}`, ExtractJSONObject(`{"a":{"b":1}}`))
	assert.Equal(t, "", ExtractJSONObject("no braces here"))
}
