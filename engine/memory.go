package engine

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensearch-project/mlagent/core"
)

// Interaction attributes written by the engine.
const (
	AttrRunID       = "run_id"
	AttrTermination = "termination"
	AttrIterations  = "iterations"
)

func (e *Engine) memoryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.MemoryTimeout > 0 {
		return context.WithTimeout(ctx, e.config.MemoryTimeout)
	}
	return context.WithCancel(ctx)
}

// memoryError keeps caller errors and cancellation as they are and reports
// every other store failure as an unavailable memory.
func memoryError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrUpstreamUnavailable):
		return err
	default:
		return core.Unavailable("memory", err)
	}
}

// loadHistory resolves the session of the run and returns its prior
// exchanges as transcript messages, oldest first. Without a session
// parameter it returns no session; persist creates one once the run
// succeeded.
func (e *Engine) loadHistory(ctx context.Context, def *core.AgentDefinition, req *Request) (string, []core.Message, error) {
	sessionID := req.Parameters[core.ParamSessionID]
	if sessionID == "" {
		sessionID = req.Parameters[core.ParamMemoryID]
	}
	if sessionID == "" {
		return "", nil, nil
	}

	ctx, span := e.tracer.Start(ctx, "mlagent.memory.load")
	defer span.End()
	mctx, cancel := e.memoryContext(ctx)
	defer cancel()

	span.SetAttributes(attribute.String(attrSessionID, sessionID))

	session, err := e.memory.GetSession(mctx, sessionID)
	if err != nil {
		err = memoryError(ctx, err)
		markSpan(span, err)
		return "", nil, err
	}
	if session.TenantID != "" && session.TenantID != req.TenantID {
		err := core.NotFoundf("session", "session %s not found", sessionID)
		markSpan(span, err)
		return "", nil, err
	}

	window := def.Memory.WindowSize
	if window <= 0 {
		window = e.config.HistoryWindow
	}
	interactions, err := e.memory.ListInteractions(mctx, sessionID, window)
	if err != nil {
		err = memoryError(ctx, err)
		markSpan(span, err)
		return "", nil, err
	}

	history := make([]core.Message, 0, 2*len(interactions))
	for _, in := range interactions {
		if strings.TrimSpace(in.Response) == "" {
			continue
		}
		history = append(history,
			core.NewTextMessage(core.RoleUser, in.Input),
			core.NewTextMessage(core.RoleAssistant, in.Response),
		)
	}
	span.SetAttributes(attribute.Int("mlagent.history.messages", len(history)))
	markSpan(span, nil)
	return sessionID, history, nil
}

// persist appends the exchange of a terminated run to its session, creating
// the session titled with the input when the run had none.
func (e *Engine) persist(ctx context.Context, ex *execution, req *Request, res *Result, prompt string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "mlagent.memory.append", trace.WithAttributes(
		attribute.String(attrStage, string(core.StageTerminated)),
	))
	defer span.End()
	mctx, cancel := e.memoryContext(ctx)
	defer cancel()

	if ex.sessionID == "" {
		s := core.NewSession(req.Input)
		s.TenantID = req.TenantID
		created, err := e.memory.CreateSession(mctx, s)
		if err != nil {
			err = memoryError(ctx, err)
			markSpan(span, err)
			return "", err
		}
		ex.sessionID = created.ID
		e.logger.Debug("engine.memory.session_created", "agent_id", ex.def.ID, "session_id", created.ID)
	}
	span.SetAttributes(attribute.String(attrSessionID, ex.sessionID))

	id, err := e.memory.AppendInteraction(mctx, core.Interaction{
		SessionID: ex.sessionID,
		Input:     req.Input,
		Prompt:    prompt,
		Response:  res.Answer,
		Origin:    ex.def.ID,
		Attributes: map[string]any{
			AttrRunID:       ex.runID,
			AttrTermination: string(res.Termination),
			AttrIterations:  res.Iterations,
		},
	})
	if err != nil {
		err = memoryError(ctx, err)
		markSpan(span, err)
		return "", err
	}
	markSpan(span, nil)
	e.logger.Debug("engine.memory.appended", "session_id", ex.sessionID, "interaction_id", id)
	return id, nil
}
