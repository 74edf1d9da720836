package tool

import (
	"context"
	"fmt"

	"github.com/opensearch-project/mlagent/connector"
	"github.com/opensearch-project/mlagent/core"
)

// ConnectorToolType is the registered type of ConnectorTool.
const ConnectorToolType = "ConnectorTool"

// ConnectorTool parameters.
const (
	ParamConnectorID     = "connector_id"
	ParamConnectorAction = "connector_action"
	ParamResponseFilter  = "response_filter"
)

// ConnectorTool invokes an action of a connector with the call parameters.
type ConnectorTool struct {
	name    string
	desc    string
	store   connector.Store
	invoker connector.Invoker
}

var _ Tool = (*ConnectorTool)(nil)

// ConnectorFactory returns the Factory for ConnectorTool. The ToolSpec must carry
// a connector_id parameter.
func ConnectorFactory(store connector.Store, invoker connector.Invoker) Factory {
	return func(spec core.ToolSpec) (Tool, error) {
		if spec.Parameters[ParamConnectorID] == "" {
			return nil, core.Validationf("tool %s: %s is required", spec.ToolName(), ParamConnectorID)
		}
		return &ConnectorTool{name: spec.ToolName(), desc: spec.Description, store: store, invoker: invoker}, nil
	}
}

// Name implements Tool.
func (t *ConnectorTool) Name() string { return t.name }

// Description implements Tool.
func (t *ConnectorTool) Description() string {
	if t.desc != "" {
		return t.desc
	}
	return "Invokes a remote service through a connector. The input is passed to the connector request template."
}

// Parameters implements Tool.
func (t *ConnectorTool) Parameters() map[string]any { return nil }

// Run implements Tool. The action defaults to execute; a response_filter
// parameter re-filters the raw response body.
func (t *ConnectorTool) Run(ctx context.Context, call Call) (string, error) {
	id := call.Parameters[ParamConnectorID]
	conn, err := t.store.GetConnector(ctx, id)
	if err != nil {
		return "", err
	}
	action := call.Parameters[ParamConnectorAction]
	if action == "" {
		action = connector.ActionExecute
	}
	resp, err := t.invoker.Invoke(ctx, conn, action, call.Parameters)
	if err != nil {
		return "", err
	}
	if f := call.Parameters[ParamResponseFilter]; f != "" {
		out, err := connector.ApplyFilter(resp.Body, f)
		if err != nil {
			return "", fmt.Errorf("connector %s: %w", id, err)
		}
		return out, nil
	}
	return resp.Output, nil
}
