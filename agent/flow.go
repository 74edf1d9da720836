package agent

import (
	"context"
	"strings"

	"github.com/opensearch-project/mlagent/core"
)

// OutputSuffix is appended to a tool name to form the run parameter holding
// its output, e.g. ${parameters.search.output}.
const OutputSuffix = ".output"

// Flow runs the tools of an agent once each, in declaration order, without a
// model. Each output passes the POST_TOOL hooks and is then visible to later
// tools as the parameter "<name>.output".
type Flow struct {
	env Env
}

var _ Runner = (*Flow)(nil)

// Run implements Runner. The answer joins the reported outputs with newlines;
// the last tool is always reported.
func (f *Flow) Run(ctx context.Context, run *Run) (*ExecutionState, error) {
	env := f.env
	state := newState(run)
	params := Parameters(run.Agent, run.Input, run.Parameters)
	if _, ok := params["input"]; !ok {
		params["input"] = run.Input
	}

	state.append(core.NewTextMessage(core.RoleUser, run.Input))
	state.Transcript = applyMessages(ctx, env.Hooks, core.HookPreExecution, state.Transcript)

	specs := env.Tools.Specs()
	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			return state, state.fail(err)
		}
		name := spec.ToolName()
		tc := core.ToolCall{ID: core.NewID(), Name: name}
		state.append(core.Message{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{tc}})

		res, obs, err := runTool(ctx, env, state, tc, params)
		if err != nil {
			return state, state.fail(err)
		}
		if res.Err != nil {
			env.Logger.Warn("agent.flow.tool_failed", "tool", name, "step", i, "code", res.Err.Code)
		}
		params[name+OutputSuffix] = obs
		state.append(core.NewToolResultMessage(tc, obs))
	}

	state.enter(core.StageCheckTermination)
	last := ""
	if len(specs) > 0 {
		last = specs[len(specs)-1].ToolName()
	}
	state.collectOutputs(specs, last)

	answers := make([]string, len(state.Outputs))
	for i, o := range state.Outputs {
		answers[i] = o.Result
	}
	state.finish(TerminationFinalAnswer, strings.Join(answers, "\n"))
	state.Transcript = applyMessages(ctx, env.Hooks, core.HookPostExecution, state.Transcript)
	env.Logger.Info("agent.run.terminated",
		"agent_id", state.AgentID, "run_id", state.RunID, "tools", len(specs), "termination", state.Termination)
	return state, nil
}
