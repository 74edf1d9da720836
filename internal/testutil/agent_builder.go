package testutil

import (
	"github.com/opensearch-project/mlagent/core"
)

// AgentBuilder helps construct agent definitions with fluent chaining.
// Example:
//
//	def := NewAgentBuilder("helper").Conversational("mock").Tool("ListIndexTool", "", nil).Build()
type AgentBuilder struct {
	def core.AgentDefinition
}

// NewAgentBuilder creates a builder for a FLOW agent named name.
func NewAgentBuilder(name string) *AgentBuilder {
	return &AgentBuilder{def: core.AgentDefinition{Name: name, Type: core.AgentTypeFlow}}
}

// Flow makes the agent a FLOW agent and drops its model (chainable).
func (b *AgentBuilder) Flow() *AgentBuilder {
	b.def.Type = core.AgentTypeFlow
	b.def.LLM = nil
	return b
}

// Conversational makes the agent a CONVERSATIONAL agent over modelID (chainable).
func (b *AgentBuilder) Conversational(modelID string) *AgentBuilder {
	b.def.Type = core.AgentTypeConversational
	if b.def.LLM == nil {
		b.def.LLM = &core.ModelSpec{}
	}
	b.def.LLM.ModelID = modelID
	return b
}

// Provider sets the model provider (chainable).
func (b *AgentBuilder) Provider(p string) *AgentBuilder {
	if b.def.LLM == nil {
		b.def.LLM = &core.ModelSpec{}
	}
	b.def.LLM.Provider = p
	return b
}

// LLMParam sets a model parameter such as max_iteration (chainable).
func (b *AgentBuilder) LLMParam(key, val string) *AgentBuilder {
	if b.def.LLM == nil {
		b.def.LLM = &core.ModelSpec{}
	}
	if b.def.LLM.Parameters == nil {
		b.def.LLM.Parameters = map[string]string{}
	}
	b.def.LLM.Parameters[key] = val
	return b
}

// Tool appends a tool spec (chainable). An empty name keeps the type as name.
func (b *AgentBuilder) Tool(toolType, name string, params map[string]string) *AgentBuilder {
	b.def.Tools = append(b.def.Tools, core.ToolSpec{Type: toolType, Name: name, Parameters: params})
	return b
}

// IncludeOutput flags the last added tool for the agent response (chainable).
func (b *AgentBuilder) IncludeOutput() *AgentBuilder {
	if n := len(b.def.Tools); n > 0 {
		b.def.Tools[n-1].IncludeOutputInAgentResponse = true
	}
	return b
}

// Param sets an agent parameter (chainable).
func (b *AgentBuilder) Param(key, val string) *AgentBuilder {
	if b.def.Parameters == nil {
		b.def.Parameters = map[string]string{}
	}
	b.def.Parameters[key] = val
	return b
}

// Memory enables conversation memory with the given window (chainable).
func (b *AgentBuilder) Memory(window int) *AgentBuilder {
	b.def.Memory = &core.MemorySpec{Type: "conversation_index", WindowSize: window}
	return b
}

// Template references a stored context management template (chainable).
func (b *AgentBuilder) Template(name string) *AgentBuilder {
	b.def.ContextManagementName = name
	return b
}

// InlineTemplate embeds a context management template (chainable).
func (b *AgentBuilder) InlineTemplate(t *core.ContextManagementTemplate) *AgentBuilder {
	b.def.ContextManagement = t
	return b
}

// Tenant sets the owning tenant (chainable).
func (b *AgentBuilder) Tenant(id string) *AgentBuilder {
	b.def.TenantID = id
	return b
}

// Build returns an independent copy of the definition.
func (b *AgentBuilder) Build() *core.AgentDefinition {
	return b.def.Clone()
}

// TemplateBuilder helps construct context management templates.
// Example:
//
//	tpl := NewTemplateBuilder("short").Hook(core.HookPostTool, "ToolsOutputTruncateManager", map[string]any{"max_output_length": 10}).Build()
type TemplateBuilder struct {
	t core.ContextManagementTemplate
}

// NewTemplateBuilder creates a builder for a template named name.
func NewTemplateBuilder(name string) *TemplateBuilder {
	return &TemplateBuilder{t: core.ContextManagementTemplate{Name: name, Hooks: map[core.HookPoint][]core.HookSpec{}}}
}

// Description sets the description (chainable).
func (b *TemplateBuilder) Description(d string) *TemplateBuilder {
	b.t.Description = d
	return b
}

// Hook appends a hook to point (chainable).
func (b *TemplateBuilder) Hook(point core.HookPoint, hookType string, cfg map[string]any) *TemplateBuilder {
	b.t.Hooks[point] = append(b.t.Hooks[point], core.HookSpec{Type: hookType, Config: cfg})
	return b
}

// Build returns an independent copy of the template.
func (b *TemplateBuilder) Build() *core.ContextManagementTemplate {
	return b.t.Clone()
}
