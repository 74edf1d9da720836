// Package openai adapts the OpenAI Chat Completions API, with native tool
// calling, to model.Model.
package openai

import (
	"context"
	"errors"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/model"
)

// Options configure the adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
}

// Model is a model.Model backed by Chat Completions.
type Model struct {
	client openai.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

// NewModel builds a client from the options. An empty APIKey falls back to
// the OPENAI_API_KEY environment variable read by the SDK.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var ro []option.RequestOption
	if opts.APIKey != "" {
		ro = append(ro, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	return &Model{client: openai.NewClient(ro...), opts: opts}
}

// Factory creates models from a ModelSpec: ModelID names the OpenAI model,
// credential api_key authenticates, parameters temperature and max_tokens
// override the defaults. optFns apply first.
func Factory(optFns ...func(o *Options)) model.Factory {
	return func(_ context.Context, spec *core.ModelSpec) (model.Model, error) {
		fromSpec := func(o *Options) {
			o.Model = spec.ModelID
			if k := spec.Credential["api_key"]; k != "" {
				o.APIKey = k
			}
			if t, err := strconv.ParseFloat(spec.Parameters["temperature"], 64); err == nil {
				o.Temperature = t
			}
			if n, err := strconv.ParseInt(spec.Parameters["max_tokens"], 10, 64); err == nil && n > 0 {
				o.MaxCompletionTokens = n
			}
		}
		return NewModel(append(append([]func(o *Options){}, optFns...), fromSpec)...), nil
	}
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "openai", SupportsTools: true}
}

// Generate implements model.Model. Transport failures are reported as
// unavailable.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	completion, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               m.opts.Model,
		Messages:            buildMessages(req),
		Tools:               buildTools(req.Tools),
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	})
	if err != nil {
		return nil, core.Unavailable("model", err)
	}
	if len(completion.Choices) == 0 {
		return nil, core.Unavailable("model", errors.New("openai returned no choices"))
	}

	choice := completion.Choices[0]
	out := core.Message{Role: core.RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}
	u := completion.Usage
	return &model.Response{
		ID:           completion.ID,
		Message:      out,
		FinishReason: choice.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		out = append(out, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		if p, ok := messageParam(msg); ok {
			out = append(out, p)
		}
	}
	return out
}

// messageParam maps one transcript message. Tool results without a call id
// come from text (ReAct) turns and go back as user observations.
func messageParam(msg core.Message) (openai.ChatCompletionMessageParamUnion, bool) {
	switch msg.Role {
	case core.RoleSystem:
		return openai.SystemMessage(msg.Content), true
	case core.RoleUser:
		return openai.UserMessage(msg.Content), true
	case core.RoleTool:
		if msg.ToolCallID == "" {
			return openai.UserMessage("Observation: " + msg.Content), true
		}
		return openai.ToolMessage(msg.Content, msg.ToolCallID), true
	case core.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content), true
		}
		am := &openai.ChatCompletionAssistantMessageParam{Role: "assistant"}
		for _, c := range msg.ToolCalls {
			am.ToolCalls = append(am.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:       c.ID,
				Type:     "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{Name: c.Name, Arguments: c.Input},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: am}, true
	}
	return openai.ChatCompletionMessageParamUnion{}, false
}

func buildTools(defs []model.ToolDefinition) []openai.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		params := openai.FunctionParameters(d.Parameters)
		if params == nil {
			params = openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  params,
			},
		})
	}
	return out
}
