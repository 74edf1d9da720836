package agent

import (
	"context"
	"errors"
	"time"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/hook"
	"github.com/opensearch-project/mlagent/logging"
	"github.com/opensearch-project/mlagent/model"
	"github.com/opensearch-project/mlagent/tool"
)

// Env holds the resolved collaborators of one agent snapshot.
type Env struct {
	// Model is required by conversational agents only.
	Model      model.Model
	Tools      *tool.Toolset
	Dispatcher *tool.Dispatcher
	// Hooks may be nil when the agent has no context management.
	Hooks  *hook.Pipeline
	Logger logging.Logger
	// ModelTimeout bounds one model call; zero disables it.
	ModelTimeout time.Duration
}

// Run is the input of one execution.
type Run struct {
	AgentID string
	RunID   string
	Agent   *core.AgentDefinition
	Input   string
	// Parameters are the request parameters.
	Parameters map[string]string
	// History is the prior conversation loaded from memory.
	History []core.Message
}

// Runner executes one agent type. The returned state is non-nil even when
// the run fails; the error is then a *core.ExecutionError.
type Runner interface {
	Run(ctx context.Context, run *Run) (*ExecutionState, error)
}

// New returns the runner for agentType.
func New(agentType core.AgentType, env Env) (Runner, error) {
	if env.Dispatcher == nil {
		env.Dispatcher = tool.NewDispatcher()
	}
	if env.Tools == nil {
		env.Tools = &tool.Toolset{}
	}
	env.Logger = logging.OrNoOp(env.Logger)

	switch agentType {
	case core.AgentTypeConversational:
		if env.Model == nil {
			return nil, core.Validationf("conversational agent requires a model")
		}
		return &Conversational{env: env}, nil
	case core.AgentTypeFlow:
		return &Flow{env: env}, nil
	default:
		return nil, core.Validationf("unsupported agent type %q", agentType)
	}
}

// Interrupted reports whether err ends a run because its context was
// cancelled by the caller.
func Interrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// runTool prepares and executes one call: PRE_TOOL hooks see the resolved
// parameters, POST_TOOL hooks see the observation. Only errors that end the
// run are returned.
func runTool(ctx context.Context, env Env, state *ExecutionState, tc core.ToolCall, params map[string]string) (tool.Result, string, error) {
	state.enter(core.StageCallTool)
	tc.Name = resolveName(env.Tools, tc.Name)
	state.LastToolCall = &tc

	t, call, terr := env.Dispatcher.Prepare(env.Tools, tc, params)
	var res tool.Result
	if terr != nil {
		env.Logger.Warn("agent.tool.rejected", "tool", tc.Name, "code", terr.Code, "error", terr.Message)
		res = tool.Result{CallID: tc.ID, Tool: tc.Name, Err: terr}
	} else {
		if env.Hooks.Has(core.HookPreTool) {
			buf := env.Hooks.Apply(ctx, core.HookPreTool, hook.Buffer{Params: call.Parameters})
			if buf.Params != nil {
				call.Parameters = buf.Params
			}
		}
		var err error
		res, err = env.Dispatcher.Execute(ctx, t, call)
		logToolCall(env.Logger, res, err)
		if err != nil {
			return res, "", err
		}
	}

	state.enter(core.StagePostToolHooks)
	obs := res.Observation()
	if env.Hooks.Has(core.HookPostTool) {
		obs = env.Hooks.Apply(ctx, core.HookPostTool, hook.Buffer{Text: obs}).Text
	}
	if res.Err == nil || res.Err.Code != tool.CodeUnknownTool {
		state.recordOutput(res.Tool, obs)
	}
	return res, obs, nil
}

// resolveName maps a requested tool name to the declared one so outputs are
// keyed consistently.
func resolveName(ts *tool.Toolset, name string) string {
	if _, spec, ok := ts.Lookup(name); ok {
		return spec.ToolName()
	}
	return name
}

func applyMessages(ctx context.Context, hooks *hook.Pipeline, point core.HookPoint, msgs []core.Message) []core.Message {
	if !hooks.Has(point) {
		return msgs
	}
	out := hooks.Apply(ctx, point, hook.Buffer{Messages: msgs}).Messages
	if out == nil {
		return msgs
	}
	return out
}

func logToolCall(l logging.Logger, res tool.Result, err error) {
	al, ok := l.(*logging.AgentLogger)
	if !ok {
		return
	}
	if err == nil && res.Err != nil {
		err = res.Err
	}
	al.LogToolCall(res.Tool, res.Duration, err == nil, err)
}

func logModelCall(l logging.Logger, m model.Model, dur time.Duration, err error) {
	al, ok := l.(*logging.AgentLogger)
	if !ok {
		return
	}
	al.LogModelCall(m.Info().Name, dur, err == nil, err)
}
