package testutil

import (
	"strconv"

	"github.com/opensearch-project/mlagent/core"
)

// TranscriptBuilder provides a fluent helper for constructing transcripts.
// Example:
//
//	msgs := NewTranscriptBuilder().User("hi").ToolCall("c1", "search", `{}`).ToolResult("c1", "search", "ok").Build()
type TranscriptBuilder struct {
	msgs []core.Message
}

// NewTranscriptBuilder creates an empty builder.
func NewTranscriptBuilder() *TranscriptBuilder { return &TranscriptBuilder{} }

// System appends a system message (chainable).
func (b *TranscriptBuilder) System(text string) *TranscriptBuilder {
	return b.add(core.NewTextMessage(core.RoleSystem, text))
}

// User appends a user message (chainable).
func (b *TranscriptBuilder) User(text string) *TranscriptBuilder {
	return b.add(core.NewTextMessage(core.RoleUser, text))
}

// Assistant appends an assistant text message (chainable).
func (b *TranscriptBuilder) Assistant(text string) *TranscriptBuilder {
	return b.add(core.NewTextMessage(core.RoleAssistant, text))
}

// ToolCall appends an assistant message requesting one tool call (chainable).
func (b *TranscriptBuilder) ToolCall(id, name, input string) *TranscriptBuilder {
	return b.add(core.Message{
		Role:      core.RoleAssistant,
		ToolCalls: []core.ToolCall{{ID: id, Name: name, Input: input}},
	})
}

// ToolResult appends the tool message answering call id (chainable).
func (b *TranscriptBuilder) ToolResult(id, name, output string) *TranscriptBuilder {
	return b.add(core.NewToolResultMessage(core.ToolCall{ID: id, Name: name}, output))
}

// Turns appends n user/assistant pairs with numbered contents (chainable).
func (b *TranscriptBuilder) Turns(n int) *TranscriptBuilder {
	for i := 0; i < n; i++ {
		b.User("question " + strconv.Itoa(i)).Assistant("answer " + strconv.Itoa(i))
	}
	return b
}

func (b *TranscriptBuilder) add(m core.Message) *TranscriptBuilder {
	b.msgs = append(b.msgs, m)
	return b
}

// Build returns a copy of the transcript.
func (b *TranscriptBuilder) Build() []core.Message {
	return core.CloneMessages(b.msgs)
}

