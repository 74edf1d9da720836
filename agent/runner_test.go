package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/mlagent/connector"
	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/hook"
	"github.com/opensearch-project/mlagent/model"
	"github.com/opensearch-project/mlagent/tool"
)

const echoToolType = "EchoTool"

func testTools() *tool.Registry {
	r := tool.NewRegistry()
	tool.RegisterBuiltins(r, tool.Dependencies{
		Catalog: tool.NewStaticCatalog(
			tool.IndexInfo{Health: "green", Status: "open", Index: "logs-2024", UUID: "u1", Primaries: 1, Replicas: 1, DocsCount: 10, StoreSize: "1kb", PriStoreSize: "1kb"},
			tool.IndexInfo{Health: "yellow", Status: "open", Index: "metrics", UUID: "u2", Primaries: 2, DocsCount: 5, StoreSize: "2kb", PriStoreSize: "2kb"},
		),
		Connectors: connector.NewMemoryStore(&connector.Connector{
			ID:       "exec-only",
			Name:     "executor",
			Protocol: "http",
			Actions:  []connector.Action{{ActionType: connector.ActionExecute, Method: "POST", URL: "http://127.0.0.1:1/run"}},
		}),
		Invoker: connector.NewHTTPInvoker(),
	})
	r.Register(echoToolType, tool.FunctionFactory(tool.NewFunctionTool("echo", "Echoes its input", nil,
		func(_ context.Context, _ map[string]any, params map[string]string) (any, error) {
			return "echo:" + params["input"] + params["suffix"], nil
		})))
	return r
}

func toolset(t *testing.T, specs ...core.ToolSpec) *tool.Toolset {
	t.Helper()
	ts, err := testTools().Build(specs)
	require.NoError(t, err)
	return ts
}

func truncation(n int) *hook.Pipeline {
	p, _ := hook.NewRegistry().Pipeline(&core.ContextManagementTemplate{
		Name: "trunc",
		Hooks: map[core.HookPoint][]core.HookSpec{
			core.HookPostTool: {{Type: hook.TypeTruncate, Config: map[string]any{"max_output_length": n}}},
		},
	})
	return p
}

func conversationalAgent(maxIter string, tools ...core.ToolSpec) *core.AgentDefinition {
	return &core.AgentDefinition{
		ID:    "agent-1",
		Name:  "helper",
		Type:  core.AgentTypeConversational,
		LLM:   &core.ModelSpec{ModelID: "mock", Parameters: map[string]string{core.ParamMaxIteration: maxIter}},
		Tools: tools,
	}
}

func newRunner(t *testing.T, def *core.AgentDefinition, env Env) Runner {
	t.Helper()
	if env.Tools == nil {
		env.Tools = toolset(t, def.Tools...)
	}
	r, err := New(def.Type, env)
	require.NoError(t, err)
	return r
}

func TestConversationalListIndexWithTruncation(t *testing.T) {
	m := model.NewMockModel("mock", "test").Enqueue(
		`{"thought": "I should list the indices", "action": "ListIndexTool", "action_input": "{\"indices\": \"*\"}"}`,
		`{"thought": "I now know", "final_answer": "There are two indices."}`,
	)
	def := conversationalAgent("5", core.ToolSpec{Type: tool.ListIndexToolType})
	r := newRunner(t, def, Env{Model: m, Hooks: truncation(10)})

	state, err := r.Run(context.Background(), &Run{AgentID: def.ID, RunID: "run-1", Agent: def, Input: "List the indices"})
	require.NoError(t, err)
	assert.Equal(t, TerminationFinalAnswer, state.Termination)
	assert.Equal(t, "There are two indices.", state.Answer)
	assert.LessOrEqual(t, state.Iteration, 5)
	assert.Equal(t, 2, state.Iteration)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	fed := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, core.RoleTool, fed.Role)
	assert.LessOrEqual(t, utf8.RuneCountInString(fed.Content), 10)
	assert.Equal(t, "health,sta", fed.Content)
	assert.Equal(t, tool.ListIndexToolType, state.LastToolCall.Name)
}

func TestConversationalMaxIterations(t *testing.T) {
	m := model.NewMockModel("mock", "test")
	for i := 0; i < 3; i++ {
		m.Enqueue(`{"thought": "step ` + string(rune('a'+i)) + `", "action": "echo", "action_input": "x"}`)
	}
	def := conversationalAgent("3", core.ToolSpec{Type: echoToolType, Name: "echo"})
	r := newRunner(t, def, Env{Model: m})

	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "loop"})
	require.NoError(t, err)
	assert.Equal(t, TerminationMaxIterations, state.Termination)
	assert.Equal(t, 3, state.Iteration)
	assert.Equal(t, "step c", state.Answer)
	assert.Len(t, m.Requests(), 3)
}

func TestConversationalRequestOverridesMaxIteration(t *testing.T) {
	m := model.NewMockModel("mock", "test").Enqueue(
		`{"thought": "one", "action": "echo", "action_input": "x"}`,
		`{"thought": "two", "action": "echo", "action_input": "x"}`,
	)
	def := conversationalAgent("5", core.ToolSpec{Type: echoToolType, Name: "echo"})
	r := newRunner(t, def, Env{Model: m})

	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "loop", Parameters: map[string]string{core.ParamMaxIteration: "1"}})
	require.NoError(t, err)
	assert.Equal(t, TerminationMaxIterations, state.Termination)
	assert.Equal(t, 1, state.Iteration)
	assert.Equal(t, "one", state.Answer)
}

func TestConversationalNoToolFound(t *testing.T) {
	t.Run("stop", func(t *testing.T) {
		m := model.NewMockModel("mock", "test").Enqueue(`{"thought": "nothing to do"}`)
		def := conversationalAgent("5")
		def.LLM.Parameters[core.ParamStopWhenNoToolFound] = "true"
		r := newRunner(t, def, Env{Model: m})

		state, err := r.Run(context.Background(), &Run{Agent: def, Input: "hi"})
		require.NoError(t, err)
		assert.Equal(t, TerminationNoToolFound, state.Termination)
		assert.Equal(t, "nothing to do", state.Answer)
		assert.Equal(t, 1, state.Iteration)
	})

	t.Run("continue", func(t *testing.T) {
		m := model.NewMockModel("mock", "test").Enqueue(
			`{"thought": "nothing to do"}`,
			`{"thought": "ok", "final_answer": "fine"}`,
		)
		def := conversationalAgent("5")
		r := newRunner(t, def, Env{Model: m})

		state, err := r.Run(context.Background(), &Run{Agent: def, Input: "hi"})
		require.NoError(t, err)
		assert.Equal(t, TerminationFinalAnswer, state.Termination)
		msgs := m.Requests()[1].Messages
		assert.Equal(t, ObservationToolNotFound, msgs[len(msgs)-1].Content)
	})
}

func TestConversationalUnknownToolIsRecoverable(t *testing.T) {
	m := model.NewMockModel("mock", "test").Enqueue(
		`{"thought": "try", "action": "DropIndexTool", "action_input": "logs"}`,
		`{"thought": "ok", "final_answer": "cannot"}`,
	)
	def := conversationalAgent("5", core.ToolSpec{Type: echoToolType, Name: "echo"})
	r := newRunner(t, def, Env{Model: m})

	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "drop logs"})
	require.NoError(t, err)
	assert.Equal(t, "cannot", state.Answer)
	msgs := m.Requests()[1].Messages
	assert.Equal(t, "no access to this tool: DropIndexTool", msgs[len(msgs)-1].Content)
}

func TestConversationalNativeToolCalls(t *testing.T) {
	m := model.NewMockModel("mock", "test").
		EnqueueResponse(&model.Response{Message: core.Message{
			Role:      core.RoleAssistant,
			ToolCalls: []core.ToolCall{{ID: "call-1", Name: "echo", Input: `{"text": "hi"}`}},
		}}).
		Enqueue("All done.")
	def := conversationalAgent("5", core.ToolSpec{Type: echoToolType, Name: "echo", IncludeOutputInAgentResponse: true})
	r := newRunner(t, def, Env{Model: m})

	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "say hi"})
	require.NoError(t, err)
	assert.Equal(t, "All done.", state.Answer)
	require.Equal(t, []ToolOutput{{Name: "echo", Result: `echo:{"text": "hi"}`}}, state.Outputs)

	roles := make([]core.Role, len(state.Transcript))
	for i, msg := range state.Transcript {
		roles[i] = msg.Role
	}
	assert.Equal(t, []core.Role{core.RoleUser, core.RoleAssistant, core.RoleTool, core.RoleAssistant}, roles)
	assert.Equal(t, "call-1", state.Transcript[2].ToolCallID)
}

func TestConversationalModelFailureIsTerminal(t *testing.T) {
	m := model.NewMockModel("mock", "test").EnqueueError(errors.New("connection reset"))
	def := conversationalAgent("5")
	r := newRunner(t, def, Env{Model: m})

	state, err := r.Run(context.Background(), &Run{AgentID: "agent-1", RunID: "run-9", Agent: def, Input: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)

	var execErr *core.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, core.StageCallModel, execErr.Stage)
	assert.Equal(t, "run-9", execErr.RunID)
	assert.Equal(t, TerminationError, state.Termination)
}

func TestConversationalCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	def := conversationalAgent("5")
	r := newRunner(t, def, Env{Model: model.NewMockModel("mock", "test")})

	_, err := r.Run(ctx, &Run{Agent: def, Input: "hi"})
	require.Error(t, err)
	assert.True(t, Interrupted(err))
}

type funcHook struct {
	typ string
	fn  func(hook.Buffer) hook.Buffer
}

func (h funcHook) Type() string { return h.typ }

func (h funcHook) Apply(_ context.Context, buf hook.Buffer) (hook.Buffer, error) {
	return h.fn(buf.Clone()), nil
}

func TestConversationalPreToolAndPostLLMHooks(t *testing.T) {
	hooks := hook.NewRegistry()
	hooks.Register("Suffix", func(map[string]any, hook.Dependencies) (hook.Hook, error) {
		return funcHook{typ: "Suffix", fn: func(b hook.Buffer) hook.Buffer {
			b.Params["suffix"] = "!"
			return b
		}}, nil
	})
	hooks.Register("Unfence", func(map[string]any, hook.Dependencies) (hook.Hook, error) {
		return funcHook{typ: "Unfence", fn: func(b hook.Buffer) hook.Buffer {
			b.Text = strings.ReplaceAll(b.Text, "RAW:", "")
			return b
		}}, nil
	})
	p, err := hooks.Pipeline(&core.ContextManagementTemplate{
		Name: "custom",
		Hooks: map[core.HookPoint][]core.HookSpec{
			core.HookPreTool: {{Type: "Suffix"}},
			core.HookPostLLM: {{Type: "Unfence"}},
		},
	})
	require.NoError(t, err)

	m := model.NewMockModel("mock", "test").Enqueue(
		`RAW:{"thought": "t", "action": "echo", "action_input": "hello"}`,
		`{"thought": "t", "final_answer": "RAW:done"}`,
	)
	def := conversationalAgent("5", core.ToolSpec{Type: echoToolType, Name: "echo", IncludeOutputInAgentResponse: true})
	r := newRunner(t, def, Env{Model: m, Hooks: p})

	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", state.Answer)
	assert.Equal(t, "echo:hello!", state.Outputs[0].Result)
}

func TestConversationalNewMessagesSurviveCompaction(t *testing.T) {
	hooks := hook.NewRegistry()
	hooks.Register("KeepLast", func(map[string]any, hook.Dependencies) (hook.Hook, error) {
		return funcHook{typ: "KeepLast", fn: func(b hook.Buffer) hook.Buffer {
			b.Messages = b.Messages[len(b.Messages)-1:]
			return b
		}}, nil
	})
	p, err := hooks.Pipeline(&core.ContextManagementTemplate{
		Name:  "compact",
		Hooks: map[core.HookPoint][]core.HookSpec{core.HookPreLLM: {{Type: "KeepLast"}}},
	})
	require.NoError(t, err)

	m := model.NewMockModel("mock", "test").Enqueue(
		`{"thought": "t", "action": "echo", "action_input": "hello"}`,
		`{"thought": "t", "final_answer": "done"}`,
	)
	def := conversationalAgent("5", core.ToolSpec{Type: echoToolType, Name: "echo"})
	def.LLM.Parameters[core.ParamSystemPrompt] = "Tools: ${parameters.tool_names}"
	r := newRunner(t, def, Env{Model: m, Hooks: p})

	history := []core.Message{
		core.NewTextMessage(core.RoleUser, "q1"), core.NewTextMessage(core.RoleAssistant, "a1"),
		core.NewTextMessage(core.RoleUser, "q2"), core.NewTextMessage(core.RoleAssistant, "a2"),
	}
	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "hi", History: history})
	require.NoError(t, err)
	assert.Equal(t, 4, state.HistoryLen)
	assert.Less(t, len(state.Transcript), state.HistoryLen+len(state.NewMessages()))

	var tools int
	for _, msg := range state.NewMessages() {
		if msg.Role == core.RoleTool {
			tools++
		}
	}
	assert.Equal(t, 1, tools)
	assert.Equal(t, "hi", state.NewMessages()[0].Content)
	assert.Equal(t, "Tools: echo", state.Prompt)
}

func TestFlowZeroToolsSkipsModel(t *testing.T) {
	def := &core.AgentDefinition{Name: "empty", Type: core.AgentTypeFlow}
	r := newRunner(t, def, Env{})

	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "anything"})
	require.NoError(t, err)
	assert.Equal(t, TerminationFinalAnswer, state.Termination)
	assert.NotNil(t, state.Outputs)
	assert.Empty(t, state.Outputs)
	assert.Empty(t, state.Answer)
}

func TestFlowChainsOutputs(t *testing.T) {
	def := &core.AgentDefinition{
		Name: "chain",
		Type: core.AgentTypeFlow,
		Tools: []core.ToolSpec{
			{Type: echoToolType, Name: "first"},
			{Type: echoToolType, Name: "second", Parameters: map[string]string{"input": "${parameters.first.output}"}},
		},
	}
	r := newRunner(t, def, Env{})

	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "q"})
	require.NoError(t, err)
	assert.Equal(t, []ToolOutput{{Name: "second", Result: "echo:echo:q"}}, state.Outputs)
	assert.Equal(t, "echo:echo:q", state.Answer)

	def.Tools[0].IncludeOutputInAgentResponse = true
	r = newRunner(t, def, Env{})
	state, err = r.Run(context.Background(), &Run{Agent: def, Input: "q"})
	require.NoError(t, err)
	assert.Equal(t, []ToolOutput{{Name: "first", Result: "echo:q"}, {Name: "second", Result: "echo:echo:q"}}, state.Outputs)
	assert.Equal(t, "echo:q\necho:echo:q", state.Answer)
}

func TestFlowPostToolHooksApply(t *testing.T) {
	def := &core.AgentDefinition{
		Name:  "index-flow",
		Type:  core.AgentTypeFlow,
		Tools: []core.ToolSpec{{Type: tool.ListIndexToolType}},
	}
	r := newRunner(t, def, Env{Hooks: truncation(6)})

	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "list"})
	require.NoError(t, err)
	assert.Equal(t, "health", state.Answer)
}

func TestFlowConnectorMissingActionIsRecoverable(t *testing.T) {
	def := &core.AgentDefinition{
		Name: "connector-flow",
		Type: core.AgentTypeFlow,
		Tools: []core.ToolSpec{{
			Type: tool.ConnectorToolType,
			Parameters: map[string]string{
				tool.ParamConnectorID:     "exec-only",
				tool.ParamConnectorAction: connector.ActionPredict,
			},
		}},
	}
	r := newRunner(t, def, Env{})

	state, err := r.Run(context.Background(), &Run{Agent: def, Input: "run it"})
	require.NoError(t, err)
	assert.Equal(t, TerminationFinalAnswer, state.Termination)
	require.Len(t, state.Outputs, 1)
	assert.Contains(t, state.Outputs[0].Result, "no such action found")
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New("PLAN", Env{})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = New(core.AgentTypeConversational, Env{})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestIterationBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	ts := toolset(t, core.ToolSpec{Type: echoToolType, Name: "echo"})

	replies := []string{
		`{"thought": "call", "action": "echo", "action_input": "x"}`,
		`{"thought": "wait"}`,
		`{"thought": "known", "final_answer": "done"}`,
		`{"thought": "lost", "action": "nope", "action_input": "x"}`,
	}

	properties.Property("iterations never exceed max_iteration", prop.ForAll(
		func(maxIter int, script []int, stop bool) bool {
			m := model.NewMockModel("mock", "test")
			for _, i := range script {
				m.Enqueue(replies[i])
			}
			def := conversationalAgent(string(rune('0'+maxIter)))
			if stop {
				def.LLM.Parameters[core.ParamStopWhenNoToolFound] = "true"
			}
			r, err := New(def.Type, Env{Model: m, Tools: ts})
			if err != nil {
				return false
			}
			state, err := r.Run(context.Background(), &Run{Agent: def, Input: "go"})
			if err != nil {
				return false
			}
			return state.Iteration >= 1 &&
				state.Iteration <= maxIter &&
				len(m.Requests()) == state.Iteration &&
				state.Termination != TerminationError
		},
		gen.IntRange(1, 9),
		gen.SliceOf(gen.IntRange(0, len(replies)-1)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
