package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercity-dev/undercity/internal/agent"
	"github.com/undercity-dev/undercity/internal/config"
	"github.com/undercity-dev/undercity/internal/router"
)

type scriptedInvoker struct {
	outputs []string
	calls   int
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req agent.Request) (*agent.Result, error) {
	i := s.calls
	s.calls++
	if i >= len(s.outputs) {
		i = len(s.outputs) - 1
	}
	return &agent.Result{RawOutput: s.outputs[i]}, nil
}

func newTestRouter() *router.Router {
	return router.New(config.RouterConfig{LowModel: "haiku", MidModel: "sonnet", TopModel: "opus"})
}

func TestPlanner_Plan_ApprovedOnFirstReview(t *testing.T) {
	inv := &scriptedInvoker{outputs: []string{
		`{"objective":"add a field","steps":["add Foo field to Bar struct"],"expected_outcome":"Bar has Foo"}`,
		`{"approved":true,"issues":[],"suggestions":[]}`,
	}}
	p := New(inv, newTestRouter(), nil, nil)

	plan, err := p.Plan(context.Background(), "add a field", "", router.TierLow, Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"add Foo field to Bar struct"}, plan.Steps)
	assert.Equal(t, 2, inv.calls)
}

func TestPlanner_Plan_NonSpecificEscalatesTierOnce(t *testing.T) {
	inv := &scriptedInvoker{outputs: []string{
		`{"objective":"vague","steps":["explore the codebase"],"expected_outcome":"?"}`,
		`{"objective":"vague","steps":["add Foo field to Bar struct"],"expected_outcome":"Bar has Foo"}`,
		`{"approved":true}`,
	}}
	p := New(inv, newTestRouter(), nil, nil)

	plan, err := p.Plan(context.Background(), "vague", "", router.TierLow, Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"add Foo field to Bar struct"}, plan.Steps)
}

func TestPlanner_Plan_AlreadyCompleteSkipsReview(t *testing.T) {
	inv := &scriptedInvoker{outputs: []string{
		`{"objective":"noop","steps":[],"already_complete":{"likely":true,"reason":"field already exists"}}`,
	}}
	p := New(inv, newTestRouter(), nil, nil)

	plan, err := p.Plan(context.Background(), "noop", "", router.TierLow, Context{})
	require.NoError(t, err)
	assert.True(t, plan.AlreadyComplete.Likely)
	assert.Equal(t, 1, inv.calls)
}

func TestPlanner_Plan_RevisesOnRejectedReview(t *testing.T) {
	inv := &scriptedInvoker{outputs: []string{
		`{"objective":"fix bug","steps":["patch the handler"],"expected_outcome":"bug fixed"}`,
		`{"approved":false,"issues":["missing error handling"],"suggestions":["wrap err"]}`,
		`{"objective":"fix bug","steps":["patch the handler","wrap err in fmt.Errorf"],"expected_outcome":"bug fixed"}`,
		`{"approved":true}`,
	}}
	p := New(inv, newTestRouter(), nil, nil)

	plan, err := p.Plan(context.Background(), "fix bug", "", router.TierLow, Context{})
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 2)
}

func TestPlanner_Plan_RejectsAfterMaxIterations(t *testing.T) {
	rejected := `{"approved":false,"issues":["still wrong"],"suggestions":["try again"]}`
	revised := `{"objective":"fix bug","steps":["patch the handler"],"expected_outcome":"bug fixed"}`
	inv := &scriptedInvoker{outputs: []string{
		revised, rejected, revised, rejected, revised, rejected, revised,
	}}
	p := New(inv, newTestRouter(), nil, nil)
	p.MaxIterations = 3

	_, err := p.Plan(context.Background(), "fix bug", "", router.TierLow, Context{})
	require.Error(t, err)
}

func TestPolicyPM_Decide_DefaultsToFirstOption(t *testing.T) {
	pm := &PolicyPM{}
	outcome, rationale, err := pm.Decide(context.Background(), "which approach?", "", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "A", outcome)
	assert.NotEmpty(t, rationale)
}

func TestPolicyPM_Decide_NoOptions(t *testing.T) {
	pm := &PolicyPM{}
	outcome, _, err := pm.Decide(context.Background(), "which approach?", "", nil)
	require.NoError(t, err)
	assert.Empty(t, outcome)
}
