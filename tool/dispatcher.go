package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/internal/util"
	"github.com/opensearch-project/mlagent/logging"
)

// ParamInput carries the raw model input of a call.
const ParamInput = "input"

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Timeout bounds a single tool execution; zero disables it.
	Timeout time.Duration
	Logger  logging.Logger
}

// Dispatcher resolves tool calls against a toolset and executes them.
//
// Every failure the model can react to is reported inside the Result. Only
// the tool timeout (core.ErrUpstreamUnavailable) and cancellation of the
// caller's context are returned as errors; both end the run.
type Dispatcher struct {
	timeout time.Duration
	logger  logging.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{Timeout: 60 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{timeout: opts.Timeout, logger: logging.OrNoOp(opts.Logger)}
}

// Prepare resolves tc within ts and assembles the call parameters. Precedence
// from low to high: run parameters, spec parameters, run parameters prefixed
// with "<tool type>." and decoded model arguments. Parameter values may then
// reference each other through ${parameters.x}.
func (d *Dispatcher) Prepare(ts *Toolset, tc core.ToolCall, runParams map[string]string) (Tool, Call, *ToolError) {
	t, spec, ok := ts.Lookup(tc.Name)
	if !ok {
		return nil, Call{ID: tc.ID, Name: tc.Name}, NewToolError(tc.Name, "no access to this tool: "+tc.Name, CodeUnknownTool)
	}
	name := spec.ToolName()

	params := make(map[string]string, len(runParams)+len(spec.Parameters)+2)
	for k, v := range runParams {
		params[k] = v
	}
	for k, v := range spec.Parameters {
		params[k] = v
	}
	prefix := spec.Type + "."
	for k, v := range runParams {
		if strings.HasPrefix(k, prefix) && len(k) > len(prefix) {
			params[strings.TrimPrefix(k, prefix)] = v
		}
	}

	call := Call{ID: tc.ID, Name: name, Input: tc.Input}
	if in := strings.TrimSpace(tc.Input); strings.HasPrefix(in, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(in), &args); err == nil {
			call.Args = args
			for k, v := range args {
				params[k] = stringify(v)
			}
		}
	}
	if tc.Input != "" {
		params[ParamInput] = tc.Input
	}

	rendered := make(map[string]string, len(params))
	for k, v := range params {
		rendered[k] = util.RenderParameters(v, params)
	}
	call.Parameters = rendered

	if schema := t.Parameters(); len(schema) > 0 && call.Args != nil {
		if err := util.ValidateParameters(call.Args, schema); err != nil {
			return nil, call, wrapToolError(name, CodeValidation, fmt.Errorf("parameter validation failed: %w", err))
		}
	}
	return t, call, nil
}

// Dispatch prepares and executes tc.
func (d *Dispatcher) Dispatch(ctx context.Context, ts *Toolset, tc core.ToolCall, runParams map[string]string) (Result, error) {
	t, call, terr := d.Prepare(ts, tc, runParams)
	if terr != nil {
		d.logger.Warn("tool.call.rejected", "tool", tc.Name, "code", terr.Code, "error", terr.Message)
		return Result{CallID: tc.ID, Tool: tc.Name, Err: terr}, nil
	}
	return d.Execute(ctx, t, call)
}

type outcome struct {
	out string
	err error
}

// Execute runs a prepared call under the dispatcher timeout.
func (d *Dispatcher) Execute(ctx context.Context, t Tool, call Call) (Result, error) {
	start := time.Now()
	res := Result{CallID: call.ID, Tool: call.Name}

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: NewToolError(call.Name, fmt.Sprintf("tool panicked: %v", r), CodeExecution)}
			}
		}()
		out, err := t.Run(runCtx, call)
		done <- outcome{out: out, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-runCtx.Done():
		o = outcome{err: runCtx.Err()}
	}
	res.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if o.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		d.logger.Warn("tool.call.timeout", "tool", call.Name, "timeout", d.timeout)
		return res, core.Unavailable("tool", fmt.Errorf("%s timed out after %s", call.Name, d.timeout))
	}

	if o.err != nil {
		res.Err = classify(call.Name, o.err)
		d.logger.Warn("tool.call.failed", "tool", call.Name, "code", res.Err.Code, "error", res.Err.Message, "duration", res.Duration)
		return res, nil
	}
	res.Output = o.out
	d.logger.Debug("tool.call.completed", "tool", call.Name, "duration", res.Duration)
	return res, nil
}

func classify(name string, err error) *ToolError {
	var te *ToolError
	switch {
	case errors.As(err, &te):
		return te
	case errors.Is(err, core.ErrNoSuchAction):
		return &ToolError{Tool: name, Message: fmt.Sprintf("%s: %v", core.ErrNoSuchAction, err), Code: CodeNoSuchAction, cause: err}
	case errors.Is(err, core.ErrUpstreamUnavailable):
		return wrapToolError(name, CodeUnavailable, err)
	case errors.Is(err, core.ErrValidation):
		return wrapToolError(name, CodeValidation, err)
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return wrapToolError(name, CodeValidation, err)
	}
	return wrapToolError(name, CodeExecution, err)
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
