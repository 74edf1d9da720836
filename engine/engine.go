package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/opensearch-project/mlagent/agent"
	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/hook"
	"github.com/opensearch-project/mlagent/logging"
	"github.com/opensearch-project/mlagent/memory"
	"github.com/opensearch-project/mlagent/model"
	"github.com/opensearch-project/mlagent/registry"
	"github.com/opensearch-project/mlagent/tool"
)

// ParamChatHistory is the run parameter holding the rendered chat history
// of the session, for prompt templates that reference
// ${parameters.chat_history}.
const ParamChatHistory = "chat_history"

const chatHistoryPrefix = "Below is Chat History between Human and AI which sorted by time with asc order:\n"

const (
	tracerName = "github.com/opensearch-project/mlagent/engine"

	attrAgentID     = "mlagent.agent_id"
	attrAgentType   = "mlagent.agent_type"
	attrRunID       = "mlagent.run_id"
	attrSessionID   = "mlagent.session_id"
	attrStage       = "mlagent.stage"
	attrTermination = "mlagent.termination"
	attrIterations  = "mlagent.iterations"
)

// Config holds the executor limits.
//
// The host builds a Config from its own configuration source and passes it
// to New; the engine never reads settings from globals. Zero durations
// disable the corresponding timeout.
type Config struct {
	// MaxConcurrentExecutions bounds the number of executions running at
	// once. Callers beyond the bound wait until a slot frees up or their
	// context is done. Zero means unbounded.
	MaxConcurrentExecutions int64

	// ModelTimeout bounds a single model call. A timeout terminates the run
	// with core.ErrUpstreamUnavailable.
	ModelTimeout time.Duration

	// ToolTimeout bounds a single tool execution. A timeout terminates the
	// run with core.ErrUpstreamUnavailable.
	ToolTimeout time.Duration

	// MemoryTimeout bounds each Memory Store read or write.
	MemoryTimeout time.Duration

	// DefaultMaxIteration applies to conversational agents whose model spec
	// does not set max_iteration.
	DefaultMaxIteration int

	// HistoryWindow is the number of prior interactions loaded when the
	// memory spec does not set a window size.
	HistoryWindow int
}

// DefaultConfig provides sensible defaults for the executor.
var DefaultConfig = Config{
	MaxConcurrentExecutions: 0,
	ModelTimeout:            60 * time.Second,
	ToolTimeout:             60 * time.Second,
	MemoryTimeout:           10 * time.Second,
	DefaultMaxIteration:     core.DefaultMaxIteration,
	HistoryWindow:           10,
}

// Options configures an Engine.
//
// Every collaborator has an in-process default so that an Engine built with
// only a registry is usable, e.g. for FLOW agents in tests.
type Options struct {
	// Config holds the executor limits. Defaults to DefaultConfig.
	Config Config

	// Memory persists sessions and interactions. Defaults to an in-memory
	// store.
	Memory core.MemoryStore

	// Models resolves the model spec of conversational agents.
	Models model.Resolver

	// Tools builds the toolset of an agent snapshot.
	Tools *tool.Registry

	// Hooks resolves context management templates to pipelines. The
	// default registry reports every hook invocation to Metrics.
	Hooks *hook.Registry

	// Gate is checked at the start of every execution.
	Gate core.FeatureGate

	// Callbacks observe the execution lifecycle.
	Callbacks *CallbackManager

	// Metrics receives execution and hook counters. Nil disables metrics.
	Metrics *Metrics

	// TracerProvider creates the execution spans. Defaults to the global
	// provider.
	TracerProvider trace.TracerProvider

	// Logger is used for engine events. An *logging.AgentLogger is scoped
	// per run and handed to the runner.
	Logger logging.Logger
}

// Engine is the Agent Executor. It turns an execution request into one run
// of the agent's state machine:
//
//  1. INIT: check the feature gate, load and snapshot the definition,
//     resolve its template, toolset and model, load chat history
//  2. run the CONVERSATIONAL loop or the FLOW sequence
//  3. TERMINATED: persist the interaction and build the Result
//
// An Engine is safe for concurrent use. Executions share no mutable state
// besides the Memory Store.
type Engine struct {
	registry   *registry.Registry
	memory     core.MemoryStore
	models     model.Resolver
	tools      *tool.Registry
	hooks      *hook.Registry
	dispatcher *tool.Dispatcher
	gate       core.FeatureGate
	callbacks  *CallbackManager
	metrics    *Metrics
	tracer     trace.Tracer
	logger     logging.Logger
	config     Config
	sem        *semaphore.Weighted
}

// New creates an Engine over the agent registry.
//
// Example:
//
//	eng := engine.New(reg, func(o *engine.Options) {
//	    o.Models = models
//	    o.Tools = tools
//	    o.Gate = core.NewStaticFeatureGate(true)
//	})
func New(reg *registry.Registry, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	if opts.Memory == nil {
		opts.Memory = memory.NewInMemoryStore()
	}
	if opts.Models == nil {
		opts.Models = model.NewRegistry("")
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = opts.Logger })
	}
	if opts.Hooks == nil {
		opts.Hooks = hook.NewRegistry(func(o *hook.RegistryOptions) {
			o.Dependencies = hook.Dependencies{Models: opts.Models}
			o.Logger = opts.Logger
			o.Observer = opts.Metrics.ObserveHook
		})
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.Config.HistoryWindow <= 0 {
		opts.Config.HistoryWindow = DefaultConfig.HistoryWindow
	}

	e := &Engine{
		registry:  reg,
		memory:    opts.Memory,
		models:    opts.Models,
		tools:     opts.Tools,
		hooks:     opts.Hooks,
		gate:      opts.Gate,
		callbacks: opts.Callbacks,
		metrics:   opts.Metrics,
		tracer:    opts.TracerProvider.Tracer(tracerName),
		logger:    opts.Logger,
		config:    opts.Config,
	}
	e.dispatcher = tool.NewDispatcher(func(o *tool.DispatcherOptions) {
		o.Timeout = opts.Config.ToolTimeout
		o.Logger = opts.Logger
	})
	if opts.Config.MaxConcurrentExecutions > 0 {
		e.sem = semaphore.NewWeighted(opts.Config.MaxConcurrentExecutions)
	}
	return e
}

// Request is the input of Execute. Exactly one of AgentID and Agent is
// used; an inline Agent wins and is validated like a registration.
type Request struct {
	AgentID    string
	Agent      *core.AgentDefinition
	Input      string
	Parameters map[string]string
	TenantID   string
}

// Result is the outcome of a terminated run.
type Result struct {
	AgentID string `json:"agent_id,omitempty"`
	RunID   string `json:"run_id"`
	// SessionID is the memory session the interaction was stored under.
	SessionID     string `json:"memory_id,omitempty"`
	InteractionID string `json:"parent_interaction_id,omitempty"`
	Answer        string `json:"response"`
	// Outputs are the last outputs of the reported tools, in declaration
	// order.
	Outputs     []agent.ToolOutput `json:"outputs"`
	Termination agent.Termination  `json:"termination"`
	Iterations  int                `json:"iterations"`
	// Transcript is the full conversation, set when the verbose parameter
	// is true.
	Transcript []core.Message `json:"transcript,omitempty"`
}

// execution carries what INIT resolved for one run.
type execution struct {
	runID     string
	def       *core.AgentDefinition
	env       agent.Env
	params    map[string]string
	sessionID string
	history   []core.Message
}

// Execute runs an agent once.
//
// Failures before the run starts (feature gate, validation, unknown agent or
// template) are returned without a run. Terminal failures of the run are
// *core.ExecutionError values carrying the stage and iteration. A cancelled
// or failed run persists nothing.
func (e *Engine) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, core.Validationf("execute request is required")
	}
	if err := core.CheckAgentFramework(ctx, e.gate); err != nil {
		return nil, err
	}
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.sem.Release(1)
	}

	runID := core.NewID()
	ctx, span := e.tracer.Start(ctx, "mlagent.execute", trace.WithAttributes(
		attribute.String(attrRunID, runID),
		attribute.String(attrAgentID, req.AgentID),
	))
	defer span.End()

	start := time.Now()
	e.metrics.started()
	cbCtx := &CallbackContext{Request: req, RunID: runID}

	res, agentType, err := e.execute(ctx, req, runID, cbCtx)
	dur := time.Since(start)

	termination := string(agent.TerminationError)
	iterations := 0
	if res != nil {
		termination = string(res.Termination)
		iterations = res.Iterations
	}
	toolCalls := 0
	if v, ok := cbCtx.Metadata[metaToolCalls].(int); ok {
		toolCalls = v
	}
	e.metrics.finished(string(agentType), termination, iterations, toolCalls, dur)

	if al, ok := e.logger.(*logging.AgentLogger); ok {
		al.WithAgent(cbCtx.AgentID(), runID).LogExecution(string(agentType), iterations, termination, dur, err)
	}

	span.SetAttributes(attribute.String(attrAgentType, string(agentType)), attribute.String(attrTermination, termination))
	if err != nil {
		markSpan(span, err)
		cbCtx.Err = err
		if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cbCtx); cbErr != nil {
			e.logger.Warn("engine.callback.failed", "run_id", runID, "error", cbErr)
		}
		return nil, err
	}
	markSpan(span, nil)
	span.SetAttributes(attribute.Int(attrIterations, iterations))
	return res, nil
}

const metaToolCalls = "tool_calls"

func (e *Engine) execute(ctx context.Context, req *Request, runID string, cbCtx *CallbackContext) (*Result, core.AgentType, error) {
	ex, err := e.prepare(ctx, req, runID)
	if err != nil {
		return nil, "", err
	}
	cbCtx.Agent = ex.def
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeExecute, cbCtx); err != nil {
		return nil, ex.def.Type, e.initError(ex.def.ID, runID, err)
	}

	e.logger.Info("engine.execute.start",
		"agent_id", ex.def.ID, "run_id", runID, "type", ex.def.Type, "tools", ex.env.Tools.Len(), "history", len(ex.history))

	runCtx := ctx
	if ex.env.Model != nil {
		runCtx = hook.ContextWithModel(ctx, ex.env.Model)
	}
	state, err := e.run(runCtx, ex, req.Input)
	if state != nil {
		if cbCtx.Metadata == nil {
			cbCtx.Metadata = make(map[string]any)
		}
		cbCtx.Metadata[metaToolCalls] = countToolResults(state.NewMessages())
	}
	if err != nil {
		if agent.Interrupted(err) {
			e.logger.Info("engine.execute.cancelled", "agent_id", ex.def.ID, "run_id", runID)
		}
		return nil, ex.def.Type, err
	}

	res := &Result{
		AgentID:     ex.def.ID,
		RunID:       runID,
		SessionID:   ex.sessionID,
		Answer:      state.Answer,
		Outputs:     state.Outputs,
		Termination: state.Termination,
		Iterations:  state.Iteration,
	}
	if core.ParseBool(ex.params[core.ParamVerbose]) {
		res.Transcript = core.CloneMessages(state.Transcript)
	}

	if ex.def.Memory != nil {
		if err := ctx.Err(); err != nil {
			return nil, ex.def.Type, &core.ExecutionError{
				AgentID: ex.def.ID, RunID: runID, Iteration: state.Iteration, Stage: core.StageTerminated, Err: err,
			}
		}
		id, err := e.persist(ctx, ex, req, res, state.Prompt)
		if err != nil {
			return nil, ex.def.Type, &core.ExecutionError{
				AgentID: ex.def.ID, RunID: runID, Iteration: state.Iteration, Stage: core.StageTerminated, Err: err,
			}
		}
		res.SessionID = ex.sessionID
		res.InteractionID = id
	}

	cbCtx.Result = res
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterExecute, cbCtx); err != nil {
		e.logger.Warn("engine.callback.failed", "run_id", runID, "error", err)
	}
	return res, ex.def.Type, nil
}

// prepare is the INIT stage.
func (e *Engine) prepare(ctx context.Context, req *Request, runID string) (*execution, error) {
	ctx, span := e.tracer.Start(ctx, "mlagent.init", trace.WithAttributes(attribute.String(attrStage, string(core.StageInit))))
	defer span.End()

	ex, err := e.resolve(ctx, req, runID)
	markSpan(span, err)
	return ex, err
}

func (e *Engine) resolve(ctx context.Context, req *Request, runID string) (*execution, error) {
	def, err := e.loadAgent(ctx, req)
	if err != nil {
		return nil, e.initError(req.AgentID, runID, err)
	}
	fail := func(err error) (*execution, error) {
		return nil, e.initError(def.ID, runID, err)
	}

	if def.Type == core.AgentTypeConversational && e.config.DefaultMaxIteration > 0 {
		if def.LLM.Parameters == nil {
			def.LLM.Parameters = make(map[string]string)
		}
		if def.LLM.Parameters[core.ParamMaxIteration] == "" {
			def.LLM.Parameters[core.ParamMaxIteration] = strconv.Itoa(e.config.DefaultMaxIteration)
		}
	}

	tmpl, err := e.registry.ResolveTemplate(ctx, def)
	if err != nil {
		return fail(err)
	}
	pipeline, err := e.hooks.Pipeline(tmpl)
	if err != nil {
		return fail(err)
	}
	tools, err := e.tools.Toolset(toolsetKey(def), def.Tools)
	if err != nil {
		return fail(err)
	}

	var m model.Model
	if def.Type == core.AgentTypeConversational {
		if m, err = e.models.Resolve(ctx, def.LLM); err != nil {
			return fail(err)
		}
	}

	runLogger := e.logger
	if al, ok := e.logger.(*logging.AgentLogger); ok {
		runLogger = al.WithAgent(def.ID, runID).WithComponent("agent")
	}

	ex := &execution{
		runID:  runID,
		def:    def,
		params: agent.Parameters(def, req.Input, req.Parameters),
		env: agent.Env{
			Model:        m,
			Tools:        tools,
			Dispatcher:   e.dispatcher,
			Hooks:        pipeline,
			Logger:       runLogger,
			ModelTimeout: e.config.ModelTimeout,
		},
	}
	if def.Memory != nil {
		if ex.sessionID, ex.history, err = e.loadHistory(ctx, def, req); err != nil {
			return fail(err)
		}
	}
	return ex, nil
}

// loadAgent returns a snapshot of the requested agent.
func (e *Engine) loadAgent(ctx context.Context, req *Request) (*core.AgentDefinition, error) {
	if req.Agent != nil {
		if err := e.registry.ValidateAgent(ctx, req.Agent); err != nil {
			return nil, err
		}
		def := req.Agent.Clone()
		if def.ID == "" {
			def.ID = req.AgentID
		}
		return def, nil
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, core.Validationf("agent_id or an inline agent is required")
	}
	def, err := e.registry.GetAgent(ctx, req.AgentID, req.TenantID)
	if err != nil {
		return nil, err
	}
	return def.Clone(), nil
}

// toolsetKey identifies a stored snapshot. Inline agents are not cached.
func toolsetKey(def *core.AgentDefinition) string {
	if def.ID == "" || def.LastUpdatedTime.IsZero() {
		return ""
	}
	return def.ID + "@" + strconv.FormatInt(def.LastUpdatedTime.UnixNano(), 10)
}

func (e *Engine) run(ctx context.Context, ex *execution, input string) (*agent.ExecutionState, error) {
	ctx, span := e.tracer.Start(ctx, "mlagent.run", trace.WithAttributes(attribute.String(attrAgentType, string(ex.def.Type))))
	defer span.End()

	runner, err := agent.New(ex.def.Type, ex.env)
	if err != nil {
		err = e.initError(ex.def.ID, ex.runID, err)
		markSpan(span, err)
		return nil, err
	}

	runParams := core.CloneStringMap(ex.params)
	if len(ex.history) > 0 {
		if _, ok := runParams[ParamChatHistory]; !ok {
			runParams[ParamChatHistory] = renderChatHistory(ex.history)
		}
	}
	state, err := runner.Run(ctx, &agent.Run{
		AgentID:    ex.def.ID,
		RunID:      ex.runID,
		Agent:      ex.def,
		Input:      input,
		Parameters: runParams,
		History:    ex.history,
	})
	if state != nil {
		span.SetAttributes(attribute.String(attrStage, string(state.Stage)), attribute.Int(attrIterations, state.Iteration))
	}
	markSpan(span, err)
	return state, err
}

func (e *Engine) initError(agentID, runID string, err error) error {
	return &core.ExecutionError{AgentID: agentID, RunID: runID, Stage: core.StageInit, Err: err}
}

func countToolResults(msgs []core.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == core.RoleTool {
			n++
		}
	}
	return n
}

func markSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var execErr *core.ExecutionError
		if errors.As(err, &execErr) {
			span.SetAttributes(attribute.String(attrStage, string(execErr.Stage)))
		}
		return
	}
	span.SetStatus(codes.Ok, "")
}
