package core

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AgentType discriminates execution behavior.
type AgentType string

// Supported agent types.
const (
	AgentTypeFlow           AgentType = "FLOW"
	AgentTypeConversational AgentType = "CONVERSATIONAL"
)

// Well-known model parameters.
const (
	ParamMaxIteration        = "max_iteration"
	ParamStopWhenNoToolFound = "stop_when_no_tool_found"
	ParamSystemPrompt        = "system_prompt"
	ParamSessionID           = "session_id"
	ParamMemoryID            = "memory_id"
	ParamVerbose             = "verbose"
	ParamQuestion            = "question"
)

// DefaultMaxIteration bounds the reasoning loop when the model spec does not
// set max_iteration.
const DefaultMaxIteration = 5

// AgentDefinition is the registered configuration of an agent.
type AgentDefinition struct {
	ID          string            `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Type        AgentType         `json:"type" yaml:"type"`
	TenantID    string            `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	LLM         *ModelSpec        `json:"llm,omitempty" yaml:"llm,omitempty"`
	Tools       []ToolSpec        `json:"tools,omitempty" yaml:"tools,omitempty"`
	Memory      *MemorySpec       `json:"memory,omitempty" yaml:"memory,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Exactly one of the two may be set.
	ContextManagementName string                     `json:"context_management_name,omitempty" yaml:"context_management_name,omitempty"`
	ContextManagement     *ContextManagementTemplate `json:"context_management,omitempty" yaml:"context_management,omitempty"`

	CreatedTime     time.Time `json:"created_time,omitempty" yaml:"-"`
	LastUpdatedTime time.Time `json:"last_updated_time,omitempty" yaml:"-"`
}

// ModelSpec selects the model an agent talks to.
type ModelSpec struct {
	// Provider selects the model implementation, e.g. "remote", "openai", "anthropic".
	Provider   string            `json:"provider,omitempty" yaml:"provider,omitempty"`
	ModelID    string            `json:"model_id" yaml:"model_id"`
	Credential map[string]string `json:"credential,omitempty" yaml:"credential,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ToolSpec configures one tool of an agent.
type ToolSpec struct {
	Type                         string            `json:"type" yaml:"type"`
	Name                         string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description                  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters                   map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Attributes                   map[string]any    `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	IncludeOutputInAgentResponse bool              `json:"include_output_in_agent_response,omitempty" yaml:"include_output_in_agent_response,omitempty"`
}

// MemorySpec enables conversation memory for an agent.
type MemorySpec struct {
	Type       string `json:"type" yaml:"type"`
	WindowSize int    `json:"window_size,omitempty" yaml:"window_size,omitempty"`
}

// ToolName is the identifier the model must emit to call this tool.
func (s ToolSpec) ToolName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

// MaxIteration returns the configured loop bound, falling back to def.
func (m *ModelSpec) MaxIteration(def int) (int, error) {
	if m == nil || m.Parameters[ParamMaxIteration] == "" {
		return def, nil
	}
	return ParseMaxIteration(m.Parameters[ParamMaxIteration])
}

// ParseMaxIteration parses a positive max_iteration value.
func ParseMaxIteration(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, Validationf("max_iteration must be a positive integer, got %q", raw)
	}
	return n, nil
}

// ParseBool reads boolean flags the way request parameters carry them.
func ParseBool(raw string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(raw))
	return b
}

var templateRefPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+$`)

// Validate checks the structural invariants of a definition that do not
// require I/O. Template existence is checked by the registry.
func (a *AgentDefinition) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return Validationf("agent name is required")
	}
	switch a.Type {
	case AgentTypeFlow:
	case AgentTypeConversational:
		if a.LLM == nil || a.LLM.ModelID == "" {
			return Validationf("conversational agent %s requires an llm with a model_id", a.Name)
		}
	default:
		return Validationf("unsupported agent type %q", a.Type)
	}
	if a.LLM != nil {
		if _, err := a.LLM.MaxIteration(DefaultMaxIteration); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(a.Tools))
	for i, t := range a.Tools {
		if strings.TrimSpace(t.Type) == "" {
			return Validationf("tool at index %d has no type", i)
		}
		name := t.ToolName()
		if _, dup := seen[name]; dup {
			return Validationf("duplicate tool name %q", name)
		}
		seen[name] = struct{}{}
	}

	return a.ValidateContextManagement()
}

// ValidateContextManagement enforces that at most one of the template
// reference and the inline template is set and that whichever is set is
// well formed.
func (a *AgentDefinition) ValidateContextManagement() error {
	if a.ContextManagementName != "" && a.ContextManagement != nil {
		return Validationf("cannot specify both context_management_name and context_management")
	}
	if name := a.ContextManagementName; name != "" {
		if len(name) > 256 {
			return Validationf("context management template name cannot exceed 256 characters")
		}
		if !templateRefPattern.MatchString(name) {
			return Validationf("context management template name can only contain letters, numbers, underscores, hyphens, and dots")
		}
	}
	if a.ContextManagement != nil {
		if err := a.ContextManagement.validateInline(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy. Executions run against clones so registry
// updates never leak into an in-flight run.
func (a *AgentDefinition) Clone() *AgentDefinition {
	if a == nil {
		return nil
	}
	c := *a
	c.Parameters = CloneStringMap(a.Parameters)
	if a.LLM != nil {
		llm := *a.LLM
		llm.Credential = CloneStringMap(a.LLM.Credential)
		llm.Parameters = CloneStringMap(a.LLM.Parameters)
		c.LLM = &llm
	}
	if a.Tools != nil {
		c.Tools = make([]ToolSpec, len(a.Tools))
		for i, t := range a.Tools {
			t.Parameters = CloneStringMap(t.Parameters)
			t.Attributes = CloneAnyMap(t.Attributes)
			c.Tools[i] = t
		}
	}
	if a.Memory != nil {
		m := *a.Memory
		c.Memory = &m
	}
	c.ContextManagement = a.ContextManagement.Clone()
	return &c
}
