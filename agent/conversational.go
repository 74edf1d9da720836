package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/hook"
	"github.com/opensearch-project/mlagent/model"
)

// Observations fed back to the model when its output cannot be acted on.
const (
	ObservationToolNotFound = "tool not found"
)

// Conversational runs the bounded reasoning loop: build the prompt, call the
// model, interpret its output, run the requested tools and feed their
// observations back until a final answer, the iteration bound or, when
// stop_when_no_tool_found is set, an output without tool call.
type Conversational struct {
	env Env
}

var _ Runner = (*Conversational)(nil)

// Run implements Runner.
func (c *Conversational) Run(ctx context.Context, run *Run) (*ExecutionState, error) {
	env := c.env
	state := newState(run)

	params := Parameters(run.Agent, run.Input, run.Parameters)
	maxIter := core.DefaultMaxIteration
	if v := params[core.ParamMaxIteration]; v != "" {
		n, err := core.ParseMaxIteration(v)
		if err != nil {
			return state, state.fail(err)
		}
		maxIter = n
	}
	stopWhenNoTool := core.ParseBool(params[core.ParamStopWhenNoToolFound])
	limiter := core.NewIterationLimiter(maxIter)

	defs := env.Tools.Definitions()
	system := SystemPrompt(params, defs, env.Model.Info().SupportsTools)
	state.Prompt = system

	state.append(core.NewTextMessage(core.RoleUser, run.Input))
	state.Transcript = applyMessages(ctx, env.Hooks, core.HookPreExecution, state.Transcript)

	for {
		if err := ctx.Err(); err != nil {
			return state, state.fail(err)
		}

		state.enter(core.StageBuildPrompt)
		state.Transcript = applyMessages(ctx, env.Hooks, core.HookPreLLM, state.Transcript)

		state.enter(core.StageCallModel)
		resp, err := c.generate(ctx, model.Request{
			SystemPrompt: system,
			Messages:     core.CloneMessages(state.Transcript),
			Tools:        defs,
			Parameters:   params,
		})
		if err != nil {
			return state, state.fail(err)
		}
		exhausted := limiter.Increment()
		state.Iteration = limiter.Count()

		msg := resp.Message
		msg.Role = core.RoleAssistant
		if env.Hooks.Has(core.HookPostLLM) {
			msg.Content = env.Hooks.Apply(ctx, core.HookPostLLM, hook.Buffer{Text: msg.Content}).Text
		}

		state.enter(core.StageInterpret)
		step := Interpret(msg)
		if step.Thought != "" {
			state.lastThought = step.Thought
		}
		state.append(msg)
		env.Logger.Debug("agent.step.interpreted",
			"iteration", state.Iteration, "tool_calls", len(step.ToolCalls), "final", step.HasFinal)

		if step.HasFinal {
			state.finish(TerminationFinalAnswer, step.FinalAnswer)
			break
		}

		if len(step.ToolCalls) == 0 {
			if stopWhenNoTool {
				state.finish(TerminationNoToolFound, state.lastThought)
				break
			}
			state.enter(core.StagePostToolHooks)
			obs := ObservationToolNotFound
			if env.Hooks.Has(core.HookPostTool) {
				obs = env.Hooks.Apply(ctx, core.HookPostTool, hook.Buffer{Text: obs}).Text
			}
			state.append(core.Message{Role: core.RoleTool, Content: obs})
		}

		for _, tc := range step.ToolCalls {
			_, obs, err := runTool(ctx, env, state, tc, params)
			if err != nil {
				return state, state.fail(err)
			}
			state.append(core.NewToolResultMessage(tc, obs))
		}

		state.enter(core.StageCheckTermination)
		if exhausted {
			state.finish(TerminationMaxIterations, c.maxIterationsAnswer(state, maxIter))
			break
		}
	}

	state.Transcript = applyMessages(ctx, env.Hooks, core.HookPostExecution, state.Transcript)
	state.collectOutputs(env.Tools.Specs(), "")
	env.Logger.Info("agent.run.terminated",
		"agent_id", state.AgentID, "run_id", state.RunID, "iterations", state.Iteration, "termination", state.Termination)
	return state, nil
}

func (c *Conversational) generate(ctx context.Context, req model.Request) (*model.Response, error) {
	callCtx := ctx
	if c.env.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.env.ModelTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.env.Model.Generate(callCtx, req)
	logModelCall(c.env.Logger, c.env.Model, time.Since(start), err)

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err == nil && resp == nil:
		return nil, core.Unavailable("model", errors.New("empty model response"))
	case err == nil:
		return resp, nil
	case errors.Is(err, core.ErrUpstreamUnavailable):
		return nil, err
	default:
		return nil, core.Unavailable("model", err)
	}
}

// maxIterationsAnswer is the last thought, or a notice when the model never
// produced one.
func (c *Conversational) maxIterationsAnswer(state *ExecutionState, maxIter int) string {
	if state.lastThought != "" {
		return state.lastThought
	}
	return fmt.Sprintf("Agent reached maximum iterations (%d) without completing the task", maxIter)
}
