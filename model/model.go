package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opensearch-project/mlagent/core"
)

// ToolDefinition exposes a callable tool to the model. Parameters is a JSON
// Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request captures the normalized model input built by the executor.
type Request struct {
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	// Parameters are the model spec parameters overlaid with run parameters.
	// Connector backed models use them to render their request template.
	Parameters map[string]string `json:"parameters,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a complete model answer. Message has the assistant role and
// carries text and, for providers with native tool calling, tool calls.
type Response struct {
	ID           string       `json:"id,omitempty"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the executor needs to drive generation.
// Generate is a single attempt; retries are the implementation's concern.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Info() Info
}

// Func adapts a function to Model.
type Func func(ctx context.Context, req Request) (*Response, error)

// Generate implements Model.
func (f Func) Generate(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }

// Info implements Model.
func (f Func) Info() Info { return Info{Name: "func", Provider: "func"} }

// TextResponse builds an assistant response carrying text only.
func TextResponse(text string) *Response {
	return &Response{Message: core.NewTextMessage(core.RoleAssistant, text), FinishReason: "stop"}
}

// LastUserText returns the content of the last user message in msgs.
func LastUserText(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// RenderTranscript flattens a system prompt and messages into a single text
// prompt for completion style endpoints.
func RenderTranscript(system string, msgs []core.Message) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			b.WriteString("System: ")
		case core.RoleUser:
			b.WriteString("Human: ")
		case core.RoleAssistant:
			b.WriteString("Assistant: ")
		case core.RoleTool:
			b.WriteString("Observation")
			if m.Name != "" {
				b.WriteString(" (" + m.Name + ")")
			}
			b.WriteString(": ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// MockModel is a scripted in-memory Model useful for tests and examples.
// Queued replies are returned in order; afterwards canned responses keyed by
// the last user message apply, falling back to an echo.
type MockModel struct {
	info Info

	mu        sync.Mutex
	queue     []mockReply
	responses map[string]string
	requests  []Request
}

type mockReply struct {
	resp *Response
	err  error
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider, SupportsTools: true},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends text replies returned by the next Generate calls.
func (m *MockModel) Enqueue(texts ...string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range texts {
		m.queue = append(m.queue, mockReply{resp: TextResponse(t)})
	}
	return m
}

// EnqueueResponse appends a full response.
func (m *MockModel) EnqueueResponse(resp *Response) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{resp: resp})
	return m
}

// EnqueueError makes the next Generate call fail with err.
func (m *MockModel) EnqueueError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
	return m
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	req.Messages = core.CloneMessages(req.Messages)
	m.requests = append(m.requests, req)

	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		if next.err != nil {
			return nil, next.err
		}
		cp := *next.resp
		return &cp, nil
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	input := LastUserText(req.Messages)
	if full, ok := m.responses[input]; ok {
		return TextResponse(full), nil
	}
	return TextResponse(fmt.Sprintf("Mock response to: %s", input)), nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
