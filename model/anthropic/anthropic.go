// Package anthropic adapts the Anthropic Messages API to model.Model.
package anthropic

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/model"
)

// Options configure the adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model is a model.Model backed by the Messages API.
type Model struct {
	client anthropic.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

// NewModel builds a client from the options. An empty APIKey falls back to
// the ANTHROPIC_API_KEY environment variable read by the SDK.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
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
	return &Model{client: anthropic.NewClient(ro...), opts: opts}
}

// Factory creates models from a ModelSpec the same way the openai package
// does: ModelID, credential api_key, parameters temperature and max_tokens.
func Factory(optFns ...func(o *Options)) model.Factory {
	return func(_ context.Context, spec *core.ModelSpec) (model.Model, error) {
		fromSpec := func(o *Options) {
			o.Model = anthropic.Model(spec.ModelID)
			if k := spec.Credential["api_key"]; k != "" {
				o.APIKey = k
			}
			if t, err := strconv.ParseFloat(spec.Parameters["temperature"], 64); err == nil {
				o.Temperature = t
			}
			if n, err := strconv.ParseInt(spec.Parameters["max_tokens"], 10, 64); err == nil && n > 0 {
				o.MaxTokens = n
			}
		}
		return NewModel(append(append([]func(o *Options){}, optFns...), fromSpec)...), nil
	}
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: "anthropic", SupportsTools: true}
}

// Generate implements model.Model. Text blocks are concatenated and tool_use
// blocks become tool calls with their input re-encoded as JSON.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
		Messages:    buildMessages(req.Messages),
		System:      systemBlocks(req),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	reply, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, core.Unavailable("model", err)
	}

	out := core.Message{Role: core.RoleAssistant}
	for _, block := range reply.Content {
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{ID: tu.ID, Name: tu.Name, Input: encodeInput(tu.Input)})
		}
	}

	reason := string(reply.StopReason)
	if reason == "" {
		reason = "stop"
	}
	in, gen := int(reply.Usage.InputTokens), int(reply.Usage.OutputTokens)
	return &model.Response{
		ID:           reply.ID,
		Message:      out,
		FinishReason: reason,
		Usage:        &model.TokenUsage{PromptTokens: in, CompletionTokens: gen, TotalTokens: in + gen},
	}, nil
}

func encodeInput(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return ""
	}
	return string(b)
}

func systemBlocks(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.SystemPrompt != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

// buildMessages converts the transcript to Anthropic messages. Tool results
// travel in user turns and adjacent turns of the same role are merged.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var (
		out     []anthropic.MessageParam
		role    core.Role
		pending []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if role == core.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(pending...))
		} else {
			out = append(out, anthropic.NewUserMessage(pending...))
		}
		pending = nil
	}
	push := func(r core.Role, blocks ...anthropic.ContentBlockParamUnion) {
		if r != role {
			flush()
			role = r
		}
		pending = append(pending, blocks...)
	}

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, c := range msg.ToolCalls {
				var input any = map[string]any{}
				if c.Input != "" {
					if err := json.Unmarshal([]byte(c.Input), &input); err != nil {
						input = map[string]any{"input": c.Input}
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, input, c.Name))
			}
			if len(blocks) > 0 {
				push(core.RoleAssistant, blocks...)
			}
		case core.RoleTool:
			if msg.ToolCallID == "" {
				push(core.RoleUser, anthropic.NewTextBlock("Observation: "+msg.Content))
				continue
			}
			push(core.RoleUser, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		default:
			if msg.Content != "" {
				push(core.RoleUser, anthropic.NewTextBlock(msg.Content))
			}
		}
	}
	flush()
	return out
}

func buildTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{
			Properties: d.Parameters["properties"],
			Required:   requiredFields(d.Parameters["required"]),
		}
		u := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if d.Description != "" {
			u.OfTool.Description = anthropic.String(d.Description)
		}
		out = append(out, u)
	}
	return out
}

func requiredFields(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		names := make([]string, 0, len(r))
		for _, x := range r {
			if s, ok := x.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}
