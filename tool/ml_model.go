package tool

import (
	"context"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/internal/util"
	"github.com/opensearch-project/mlagent/model"
)

// MLModelToolType is the registered type of MLModelTool.
const MLModelToolType = "MLModelTool"

// MLModelTool parameters.
const (
	ParamModelID = "model_id"
	ParamPrompt  = "prompt"
)

const defaultModelPrompt = "${parameters.question}"

// MLModelTool sends a rendered prompt to a model and returns its answer.
type MLModelTool struct {
	name     string
	desc     string
	resolver model.Resolver
}

var _ Tool = (*MLModelTool)(nil)

// MLModelFactory returns the Factory for MLModelTool. The ToolSpec must carry a
// model_id parameter.
func MLModelFactory(resolver model.Resolver) Factory {
	return func(spec core.ToolSpec) (Tool, error) {
		if spec.Parameters[ParamModelID] == "" {
			return nil, core.Validationf("tool %s: %s is required", spec.ToolName(), ParamModelID)
		}
		return &MLModelTool{name: spec.ToolName(), desc: spec.Description, resolver: resolver}, nil
	}
}

// Name implements Tool.
func (t *MLModelTool) Name() string { return t.name }

// Description implements Tool.
func (t *MLModelTool) Description() string {
	if t.desc != "" {
		return t.desc
	}
	return "A general tool to answer any question by asking a language model."
}

// Parameters implements Tool.
func (t *MLModelTool) Parameters() map[string]any { return nil }

// Run implements Tool. The prompt parameter defaults to ${parameters.question}
// and falls back to the raw input when that is unresolved.
func (t *MLModelTool) Run(ctx context.Context, call Call) (string, error) {
	params := call.Parameters
	if _, ok := params[core.ParamQuestion]; !ok && params[ParamInput] != "" {
		params = core.CloneStringMap(params)
		params[core.ParamQuestion] = params[ParamInput]
	}
	tmpl := params[ParamPrompt]
	if tmpl == "" {
		tmpl = defaultModelPrompt
	}
	prompt := util.RenderParameters(tmpl, params)

	m, err := t.resolver.Resolve(ctx, &core.ModelSpec{ModelID: params[ParamModelID], Parameters: params})
	if err != nil {
		return "", err
	}
	resp, err := m.Generate(ctx, model.Request{
		Messages:   []core.Message{core.NewTextMessage(core.RoleUser, prompt)},
		Parameters: params,
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}
