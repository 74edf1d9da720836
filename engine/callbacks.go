package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/logging"
)

// CallbackType names a lifecycle point of an execution.
type CallbackType string

const (
	// CallbackBeforeExecute fires once the agent snapshot is resolved. An
	// error aborts the execution.
	CallbackBeforeExecute CallbackType = "before_execute"
	// CallbackAfterExecute fires after the run terminated and its interaction
	// was persisted.
	CallbackAfterExecute CallbackType = "after_execute"
	// CallbackOnError fires when the execution failed at any stage.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext is the read-only view handed to callbacks.
type CallbackContext struct {
	CallbackType CallbackType
	Request      *Request
	RunID        string
	// Agent is nil when the execution failed before the agent was loaded.
	Agent  *core.AgentDefinition
	Result *Result // after_execute only
	Err    error   // on_error only
	// Metadata is shared by the callbacks of one execution.
	Metadata map[string]any
}

// AgentID returns the id of the executing agent, if known.
func (c *CallbackContext) AgentID() string {
	switch {
	case c.Agent != nil && c.Agent.ID != "":
		return c.Agent.ID
	case c.Request != nil:
		return c.Request.AgentID
	}
	return ""
}

// Callback observes one lifecycle point. Callbacks run synchronously on the
// executing goroutine.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cc *CallbackContext) error
}

type funcCallback struct {
	point CallbackType
	fn    func(context.Context, *CallbackContext) error
}

func (f funcCallback) Type() CallbackType { return f.point }

func (f funcCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return f.fn(ctx, cc)
}

// NewFunctionCallback binds fn to a lifecycle point.
//
//	deny := engine.NewFunctionCallback(engine.CallbackBeforeExecute,
//		func(_ context.Context, cc *engine.CallbackContext) error {
//			if cc.Agent.Type == core.AgentTypeFlow {
//				return core.Validationf("flow agents are disabled")
//			}
//			return nil
//		})
func NewFunctionCallback(point CallbackType, fn func(context.Context, *CallbackContext) error) Callback {
	return funcCallback{point: point, fn: fn}
}

// NewLoggingCallback logs one structured line per event of point.
func NewLoggingCallback(point CallbackType, logger logging.Logger) Callback {
	logger = logging.OrNoOp(logger)
	msg := "engine.callback." + string(point)
	return NewFunctionCallback(point, func(_ context.Context, cc *CallbackContext) error {
		args := []any{"agent_id", cc.AgentID(), "run_id", cc.RunID}
		if cc.Err != nil {
			logger.Error(msg, append(args, "error", cc.Err)...)
			return nil
		}
		if cc.Result != nil {
			args = append(args, "termination", cc.Result.Termination, "iterations", cc.Result.Iterations)
		}
		logger.Info(msg, args...)
		return nil
	})
}

// CallbackManager keeps the callbacks of an Engine. A nil manager fires
// nothing.
type CallbackManager struct {
	mu     sync.RWMutex
	byType map[CallbackType][]Callback
}

// NewCallbackManager returns an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{byType: map[CallbackType][]Callback{}}
}

// RegisterCallback appends cb to the chain of its type.
func (cm *CallbackManager) RegisterCallback(cb Callback) {
	cm.mu.Lock()
	cm.byType[cb.Type()] = append(cm.byType[cb.Type()], cb)
	cm.mu.Unlock()
}

// ExecuteCallbacks runs the chain of point in registration order and stops
// at the first error.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, point CallbackType, cc *CallbackContext) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	chain := cm.byType[point]
	cm.mu.RUnlock()

	cc.CallbackType = point
	if cc.Metadata == nil {
		cc.Metadata = map[string]any{}
	}
	for _, cb := range chain {
		if err := cb.Execute(ctx, cc); err != nil {
			return fmt.Errorf("%s callback: %w", point, err)
		}
	}
	return nil
}
