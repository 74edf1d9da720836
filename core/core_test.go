package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConversational() *AgentDefinition {
	return &AgentDefinition{
		Name: "chat",
		Type: AgentTypeConversational,
		LLM:  &ModelSpec{ModelID: "m1", Parameters: map[string]string{ParamMaxIteration: "5"}},
		Tools: []ToolSpec{
			{Type: "ListIndexTool"},
			{Type: "ConnectorTool", Name: "weather", Parameters: map[string]string{"connector_id": "c1"}},
		},
	}
}

func truncateTemplate(name string) *ContextManagementTemplate {
	return &ContextManagementTemplate{
		Name: name,
		Hooks: map[HookPoint][]HookSpec{
			HookPostTool: {{Type: "ToolsOutputTruncateManager", Config: map[string]any{"max_output_length": 10}}},
		},
	}
}

func TestErrorKinds(t *testing.T) {
	err := NotFoundf("agent", "agent %s not found", "a1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "agent: agent a1 not found", err.Error())

	wrapped := fmt.Errorf("outer: %w", Unavailable("model", context.DeadlineExceeded))
	assert.True(t, errors.Is(wrapped, ErrUpstreamUnavailable))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))

	var ce *Error
	require.True(t, errors.As(wrapped, &ce))
	assert.Equal(t, "model", ce.Op)

	tnf := TemplateNotFound("gone")
	assert.True(t, errors.Is(tnf, ErrTemplateNotFound))
	assert.True(t, errors.Is(tnf, ErrNotFound))

	nsa := NoSuchAction("c1", "predict")
	assert.True(t, errors.Is(nsa, ErrNoSuchAction))
	assert.Contains(t, nsa.Error(), "no predict action found")
}

func TestExecutionErrorUnwraps(t *testing.T) {
	err := &ExecutionError{AgentID: "a", RunID: "r", Iteration: 2, Stage: StageCallModel, Err: Unavailable("model", errors.New("boom"))}
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Contains(t, err.Error(), "CALL_MODEL")
	assert.Contains(t, err.Error(), "iteration 2")
}

func TestAgentDefinition_Validate(t *testing.T) {
	assert.NoError(t, validConversational().Validate())

	tests := []struct {
		name   string
		mutate func(a *AgentDefinition)
		want   string
	}{
		{"missing name", func(a *AgentDefinition) { a.Name = " " }, "agent name is required"},
		{"bad type", func(a *AgentDefinition) { a.Type = "PLAN" }, "unsupported agent type"},
		{"missing llm", func(a *AgentDefinition) { a.LLM = nil }, "requires an llm"},
		{"bad max_iteration", func(a *AgentDefinition) { a.LLM.Parameters[ParamMaxIteration] = "0" }, "max_iteration"},
		{"duplicate tool", func(a *AgentDefinition) { a.Tools = append(a.Tools, ToolSpec{Type: "ListIndexTool"}) }, "duplicate tool name"},
		{"tool without type", func(a *AgentDefinition) { a.Tools[0].Type = "" }, "has no type"},
		{"both context fields", func(a *AgentDefinition) {
			a.ContextManagementName = "t1"
			a.ContextManagement = truncateTemplate("inline")
		}, "cannot specify both"},
		{"bad reference", func(a *AgentDefinition) { a.ContextManagementName = "has space" }, "can only contain"},
		{"inline without hooks", func(a *AgentDefinition) {
			a.ContextManagement = &ContextManagementTemplate{Name: "x"}
		}, "at least one hook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validConversational()
			tt.mutate(a)
			err := a.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFlowAgentNeedsNoModel(t *testing.T) {
	a := &AgentDefinition{Name: "flow", Type: AgentTypeFlow}
	assert.NoError(t, a.Validate())
}

func TestModelSpec_MaxIteration(t *testing.T) {
	var nilSpec *ModelSpec
	n, err := nilSpec.MaxIteration(DefaultMaxIteration)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = (&ModelSpec{Parameters: map[string]string{ParamMaxIteration: " 3 "}}).MaxIteration(5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = (&ModelSpec{Parameters: map[string]string{ParamMaxIteration: "-1"}}).MaxIteration(5)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestContextManagementTemplate_Validate(t *testing.T) {
	assert.NoError(t, truncateTemplate("tool_truncate.v1").Validate())

	bad := []*ContextManagementTemplate{
		truncateTemplate("Upper"),
		truncateTemplate("with space"),
		truncateTemplate(strings.Repeat("a", 50)),
		{Name: "nohooks"},
		{Name: "badpoint", Hooks: map[HookPoint][]HookSpec{"AFTER_ALL": {{Type: "x"}}}},
		{Name: "emptylist", Hooks: map[HookPoint][]HookSpec{HookPreLLM: {}}},
		{Name: "notype", Hooks: map[HookPoint][]HookSpec{HookPreLLM: {{Type: ""}}}},
	}
	for _, tmpl := range bad {
		err := tmpl.Validate()
		assert.Error(t, err, tmpl.Name)
		assert.True(t, errors.Is(err, ErrValidation), tmpl.Name)
	}
}

func TestClone_Isolation(t *testing.T) {
	a := validConversational()
	a.ContextManagement = truncateTemplate("inline")
	c := a.Clone()

	c.LLM.Parameters[ParamMaxIteration] = "9"
	c.Tools[1].Parameters["connector_id"] = "other"
	c.ContextManagement.Hooks[HookPostTool][0].Config["max_output_length"] = 99

	assert.Equal(t, "5", a.LLM.Parameters[ParamMaxIteration])
	assert.Equal(t, "c1", a.Tools[1].Parameters["connector_id"])
	assert.Equal(t, 10, a.ContextManagement.Hooks[HookPostTool][0].Config["max_output_length"])
}

func TestIterationLimiter(t *testing.T) {
	l := NewIterationLimiter(2)
	assert.False(t, l.Increment())
	assert.True(t, l.Increment())
	assert.True(t, l.Increment())
	assert.Equal(t, 2, l.Count())
	assert.Equal(t, 0, l.Remaining())

	assert.Equal(t, DefaultMaxIteration, NewIterationLimiter(0).Max())
}

func TestFeatureGate(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, CheckAgentFramework(ctx, nil))

	g := NewStaticFeatureGate(false)
	err := CheckAgentFramework(ctx, g)
	assert.True(t, errors.Is(err, ErrFeatureDisabled))

	g.Set(true)
	assert.NoError(t, CheckAgentFramework(ctx, g))
}
