package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/mlagent/core"
)

func TestAgentBuilder(t *testing.T) {
	b := NewAgentBuilder("helper").
		Conversational("m1").
		LLMParam(core.ParamMaxIteration, "3").
		Tool("ListIndexTool", "indices", map[string]string{"indices": "*"}).
		IncludeOutput().
		Memory(4).
		Tenant("t1")
	def := b.Build()

	require.NoError(t, def.Validate())
	assert.Equal(t, core.AgentTypeConversational, def.Type)
	assert.Equal(t, "3", def.LLM.Parameters[core.ParamMaxIteration])
	assert.True(t, def.Tools[0].IncludeOutputInAgentResponse)
	assert.Equal(t, 4, def.Memory.WindowSize)

	def.Tools[0].Parameters["indices"] = "changed"
	assert.Equal(t, "*", b.Build().Tools[0].Parameters["indices"], "Build returns independent copies")

	flow := b.Flow().Build()
	assert.Equal(t, core.AgentTypeFlow, flow.Type)
	assert.Nil(t, flow.LLM)
}

func TestTemplateBuilder(t *testing.T) {
	tpl := NewTemplateBuilder("short").
		Hook(core.HookPostTool, "ToolsOutputTruncateManager", map[string]any{"max_output_length": 10}).
		Hook(core.HookPostTool, "ToolsOutputTruncateManager", nil).
		Build()

	require.NoError(t, tpl.Validate())
	assert.Len(t, tpl.Hooks[core.HookPostTool], 2)
}

func TestTranscriptBuilder(t *testing.T) {
	msgs := NewTranscriptBuilder().
		System("be brief").
		Turns(2).
		ToolCall("c1", "search", `{"q":"x"}`).
		ToolResult("c1", "search", "hit").
		Build()

	require.Len(t, msgs, 7)
	assert.Equal(t, "question 1", msgs[3].Content)
	assert.Equal(t, core.RoleAssistant, msgs[5].Role)
	assert.Equal(t, "c1", msgs[6].ToolCallID)
	assert.Equal(t, "search", msgs[6].Name)
}
