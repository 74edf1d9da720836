// Package remote provides a model.Model backed by a connector predict action.
//
// The transcript is exposed to the connector request template through these
// parameters. The invoker escapes them when they sit inside quoted template
// fields; messages is meant to be spliced in unquoted.
//
//	prompt             the flattened transcript
//	messages           the transcript as a JSON array of {role, content}
//	system_prompt      the system prompt
//	tool_descriptions  one "name: description" line per tool
//	tool_names         comma separated tool names
package remote

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/opensearch-project/mlagent/connector"
	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/model"
)

// ParamConnectorID selects the connector; it defaults to the model id.
const ParamConnectorID = "connector_id"

// Model calls a connector's predict action.
type Model struct {
	conn    *connector.Connector
	invoker connector.Invoker
	params  map[string]string
	name    string
}

var _ model.Model = (*Model)(nil)

// New creates a Model for conn. Spec parameters are passed to every call and
// spec credentials overlay the connector's.
func New(conn *connector.Connector, invoker connector.Invoker, spec *core.ModelSpec) *Model {
	c := conn.Clone()
	var params map[string]string
	name := conn.ID
	if spec != nil {
		if len(spec.Credential) > 0 {
			if c.Credential == nil {
				c.Credential = map[string]string{}
			}
			for k, v := range spec.Credential {
				c.Credential[k] = v
			}
		}
		params = core.CloneStringMap(spec.Parameters)
		if spec.ModelID != "" {
			name = spec.ModelID
		}
	}
	return &Model{conn: c, invoker: invoker, params: params, name: name}
}

// Factory returns a model.Factory resolving the connector from store.
func Factory(store connector.Store, invoker connector.Invoker) model.Factory {
	return func(ctx context.Context, spec *core.ModelSpec) (model.Model, error) {
		id := spec.ModelID
		if v := spec.Parameters[ParamConnectorID]; v != "" {
			id = v
		}
		conn, err := store.GetConnector(ctx, id)
		if err != nil {
			return nil, err
		}
		return New(conn, invoker, spec), nil
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := core.CloneStringMap(m.params)
	if params == nil {
		params = map[string]string{}
	}
	for k, v := range req.Parameters {
		params[k] = v
	}

	wire := make([]wireMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		wire = append(wire, wireMessage{Role: string(core.RoleSystem), Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		role := msg.Role
		if role == core.RoleTool {
			// most completion endpoints reject tool messages without native calls
			role = core.RoleUser
		}
		wire = append(wire, wireMessage{Role: string(role), Content: msg.Content})
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(req.Tools))
	var desc strings.Builder
	for _, t := range req.Tools {
		names = append(names, t.Name)
		desc.WriteString(t.Name + ": " + t.Description + "\n")
	}

	params["prompt"] = model.RenderTranscript(req.SystemPrompt, req.Messages)
	params["messages"] = string(encoded)
	params["system_prompt"] = req.SystemPrompt
	params["tool_descriptions"] = desc.String()
	params["tool_names"] = strings.Join(names, ", ")

	resp, err := m.invoker.Invoke(ctx, m.conn, connector.ActionPredict, params)
	if err != nil {
		return nil, err
	}
	return model.TextResponse(resp.Output), nil
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name, Provider: "remote"}
}
