// Package agent defines the boundary between the orchestrator and
// whatever external LLM coding agent actually edits files: a minimal
// Invoker interface any CLI-backed or API-backed implementation can
// satisfy, generalized from the teacher's internal/agent/invoker.go
// (which hard-codes the claude CLI, its --agents flag, and its
// subagent registry) into an arbitrary black box. The agent runtime
// itself is out of scope; only this contract matters.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/undercity-dev/undercity/internal/budget"
	"github.com/undercity-dev/undercity/internal/models"
)

// Request is everything an Invoker needs to run one attempt.
type Request struct {
	TaskID     string
	Prompt     string
	Model      string
	WorkingDir string
	ResumeID   string // prior session id, for rate-limit resume
}

// Result is one invocation's outcome, whether or not the agent itself
// succeeded at the task.
type Result struct {
	Response  *models.AgentResponse
	RawOutput string
	Duration  time.Duration
	SessionID string
}

// ErrRateLimit is returned when an invocation's output indicates a rate
// limit, so callers route it through budget.Guard instead of treating
// it as a task failure.
type ErrRateLimit struct {
	Info *budget.RateLimitInfo
}

func (e *ErrRateLimit) Error() string {
	if e.Info == nil {
		return "rate limit"
	}
	return fmt.Sprintf("rate limit: resets in %s", e.Info.TimeUntilReset())
}

// Invoker runs one task attempt against an external coding agent and
// returns its structured response. Implementations may shell out to a
// CLI (CLIInvoker) or call an API directly; the orchestrator, worker,
// and planner only ever depend on this interface.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// EnvFunc sanitizes or extends a subprocess's environment before it
// runs, mirroring the teacher's claude.SetCleanEnv hook without
// depending on any particular CLI's environment conventions.
type EnvFunc func(cmd *exec.Cmd)

// CLIInvoker runs a configured command-line coding agent as a
// subprocess, parsing its stdout as an AgentResponse. Grounded on the
// teacher's Invoker.Invoke: build args, run under the context's
// deadline, capture stdout/stderr separately, check for a rate-limit
// signal before attempting JSON parsing, then parse the response.
type CLIInvoker struct {
	Command  string
	BaseArgs []string
	Env      EnvFunc
}

// NewCLIInvoker constructs a CLIInvoker for the given command and fixed
// leading arguments (e.g. ["--print", "--output-format", "json"]).
func NewCLIInvoker(command string, baseArgs ...string) *CLIInvoker {
	return &CLIInvoker{Command: command, BaseArgs: baseArgs}
}

// Invoke runs the configured command against req, returning an
// *ErrRateLimit if the failure looks like a rate limit rather than a
// task failure.
func (c *CLIInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Command, c.buildArgs(req)...)
	if c.Env != nil {
		c.Env(cmd)
	}
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)
	rawOutput := stdout.String()

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Result{RawOutput: rawOutput, Duration: duration}, fmt.Errorf("invoke %s: %w", c.Command, ctxErr)
		}
		combined := rawOutput + "\n" + stderr.String()
		if info := budget.ParseRateLimitFromOutput(combined); info != nil {
			return &Result{RawOutput: rawOutput, Duration: duration}, &ErrRateLimit{Info: info}
		}
		return &Result{RawOutput: rawOutput, Duration: duration}, fmt.Errorf("invoke %s: %w", c.Command, runErr)
	}

	resp, sessionID, err := parseAgentOutput(rawOutput)
	if err != nil {
		return &Result{RawOutput: rawOutput, Duration: duration}, fmt.Errorf("parse agent output: %w", err)
	}

	return &Result{Response: resp, RawOutput: rawOutput, Duration: duration, SessionID: sessionID}, nil
}

func (c *CLIInvoker) buildArgs(req Request) []string {
	args := append([]string{}, c.BaseArgs...)
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, req.Prompt)
	return args
}

// wireEnvelope mirrors the teacher's ClaudeOutput: the CLI's own wrapper
// around the agent's JSON response, which may arrive under "content" or
// "result" alongside a session id.
type wireEnvelope struct {
	Content   string `json:"content"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// parseAgentOutput extracts an AgentResponse from raw CLI stdout,
// handling both a wrapped envelope (content/result + session_id) and a
// bare AgentResponse JSON object, adapted from the teacher's two-stage
// ParseClaudeOutput + parseAgentJSON parse.
func parseAgentOutput(output string) (*models.AgentResponse, string, error) {
	inner, sessionID := UnwrapEnvelope(output)

	resp, err := parseAgentJSON(inner)
	if err != nil {
		return nil, "", err
	}
	if resp.SessionID == "" {
		resp.SessionID = sessionID
	}
	return resp, resp.SessionID, nil
}

// parseAgentJSON parses the raw agent-response JSON object out of
// output, skipping any prose that may precede the opening brace.
func parseAgentJSON(output string) (*models.AgentResponse, error) {
	jsonStr := ExtractJSONObject(output)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON object found in output")
	}

	var resp models.AgentResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal agent response: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent response: %w", err)
	}
	return &resp, nil
}

// UnwrapEnvelope strips the CLI's own wire envelope (content/result +
// session_id) from raw output if one is present, returning the inner
// payload and session id. If no envelope is detected, it returns the
// trimmed output as-is with an empty session id. Exported so callers
// that need a JSON shape other than AgentResponse (the planner's
// ExecutionPlan/PlanReview) can reuse the same unwrap step.
func UnwrapEnvelope(output string) (inner, sessionID string) {
	trimmed := strings.TrimSpace(output)
	if obj := ExtractJSONObject(trimmed); obj != "" {
		var envelope wireEnvelope
		if err := json.Unmarshal([]byte(obj), &envelope); err == nil {
			content := envelope.Content
			if content == "" {
				content = envelope.Result
			}
			if content != "" {
				return content, envelope.SessionID
			}
		}
	}
	return trimmed, ""
}

// ExtractJSONObject returns the substring from the first '{' to its
// matching closing '}', tolerating leading prose the agent may have
// printed before the JSON payload.
func ExtractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
