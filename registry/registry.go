package registry

import (
	"context"
	"errors"
	"time"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/logging"
)

// Pagination bounds of ListTemplates.
const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

// ToolValidator checks that tool specs name known tool types.
// *tool.Registry implements it.
type ToolValidator interface {
	Validate(specs []core.ToolSpec) error
}

// Options configures a Registry.
type Options struct {
	// Tools rejects agents with unknown tool types when set.
	Tools ToolValidator
	// Gate is checked before every agent registration.
	Gate   core.FeatureGate
	Logger logging.Logger
	Now    func() time.Time
}

// Registry validates and stores agent definitions and context management
// templates. Reads return snapshots: callers own the returned values.
type Registry struct {
	agents    AgentStore
	templates TemplateStore
	tools     ToolValidator
	gate      core.FeatureGate
	logger    logging.Logger
	now       func() time.Time
}

// New creates a Registry over the given stores.
func New(agents AgentStore, templates TemplateStore, optFns ...func(o *Options)) *Registry {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		agents:    agents,
		templates: templates,
		tools:     opts.Tools,
		gate:      opts.Gate,
		logger:    logging.OrNoOp(opts.Logger),
		now:       opts.Now,
	}
}

// NewInMemory creates a Registry over in-memory stores.
func NewInMemory(optFns ...func(o *Options)) *Registry {
	return New(NewMemoryAgentStore(), NewMemoryTemplateStore(), optFns...)
}

// ValidateAgent applies every registration rule to def without storing it:
// structural checks, known tool types and existence of a referenced
// template.
func (r *Registry) ValidateAgent(ctx context.Context, def *core.AgentDefinition) error {
	if def == nil {
		return core.Validationf("agent definition is required")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if r.tools != nil {
		if err := r.tools.Validate(def.Tools); err != nil {
			return err
		}
	}
	if name := def.ContextManagementName; name != "" {
		if _, err := r.templates.GetTemplate(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAgent validates and stores def and returns its id. An empty id is
// assigned.
func (r *Registry) RegisterAgent(ctx context.Context, def *core.AgentDefinition) (string, error) {
	if err := core.CheckAgentFramework(ctx, r.gate); err != nil {
		return "", err
	}
	if err := r.ValidateAgent(ctx, def); err != nil {
		return "", err
	}
	stored := def.Clone()
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	now := r.now()
	stored.CreatedTime = now
	stored.LastUpdatedTime = now
	if err := r.agents.PutAgent(ctx, stored); err != nil {
		return "", err
	}
	r.logger.Info("registry.agent.registered", "agent_id", stored.ID, "name", stored.Name, "type", stored.Type)
	return stored.ID, nil
}

// UpdateAgent replaces a registered agent, keeping its creation time and
// tenant.
func (r *Registry) UpdateAgent(ctx context.Context, def *core.AgentDefinition, tenantID string) error {
	if err := core.CheckAgentFramework(ctx, r.gate); err != nil {
		return err
	}
	current, err := r.GetAgent(ctx, def.ID, tenantID)
	if err != nil {
		return err
	}
	if err := r.ValidateAgent(ctx, def); err != nil {
		return err
	}
	stored := def.Clone()
	stored.TenantID = current.TenantID
	stored.CreatedTime = current.CreatedTime
	stored.LastUpdatedTime = r.now()
	if !stored.LastUpdatedTime.After(current.LastUpdatedTime) {
		stored.LastUpdatedTime = current.LastUpdatedTime.Add(time.Nanosecond)
	}
	if err := r.agents.PutAgent(ctx, stored); err != nil {
		return err
	}
	r.logger.Info("registry.agent.updated", "agent_id", stored.ID)
	return nil
}

// GetAgent returns a snapshot of the agent. Agents registered under a tenant
// are invisible to other tenants.
func (r *Registry) GetAgent(ctx context.Context, id, tenantID string) (*core.AgentDefinition, error) {
	def, err := r.agents.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.TenantID != "" && def.TenantID != tenantID {
		return nil, core.NotFoundf("agent", "agent %s not found", id)
	}
	return def, nil
}

// DeleteAgent removes the agent and reports whether it existed.
func (r *Registry) DeleteAgent(ctx context.Context, id, tenantID string) (bool, error) {
	if _, err := r.GetAgent(ctx, id, tenantID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return r.agents.DeleteAgent(ctx, id)
}

// ResolveTemplate returns the template governing def: the inline template
// when present, otherwise the referenced one. It returns nil when def has
// no context management. A missing reference fails with
// core.ErrTemplateNotFound.
func (r *Registry) ResolveTemplate(ctx context.Context, def *core.AgentDefinition) (*core.ContextManagementTemplate, error) {
	if def.ContextManagement != nil {
		return def.ContextManagement.Clone(), nil
	}
	if def.ContextManagementName == "" {
		return nil, nil
	}
	return r.templates.GetTemplate(ctx, def.ContextManagementName)
}

// CreateTemplate validates and stores t.
func (r *Registry) CreateTemplate(ctx context.Context, t *core.ContextManagementTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	stored := t.Clone()
	now := r.now()
	stored.CreatedTime = now
	stored.LastModified = now
	if err := r.templates.CreateTemplate(ctx, stored); err != nil {
		return err
	}
	r.logger.Info("registry.template.created", "name", stored.Name)
	return nil
}

// UpdateTemplate replaces the hooks and description of an existing
// template. The creation time is kept and the modification time advances.
func (r *Registry) UpdateTemplate(ctx context.Context, t *core.ContextManagementTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	current, err := r.templates.GetTemplate(ctx, t.Name)
	if err != nil {
		return err
	}
	stored := t.Clone()
	stored.CreatedBy = current.CreatedBy
	stored.CreatedTime = current.CreatedTime
	stored.LastModified = r.now()
	if !stored.LastModified.After(current.LastModified) {
		stored.LastModified = current.LastModified.Add(time.Nanosecond)
	}
	if err := r.templates.UpdateTemplate(ctx, stored); err != nil {
		return err
	}
	r.logger.Info("registry.template.updated", "name", stored.Name)
	return nil
}

// GetTemplate returns a snapshot of the named template.
func (r *Registry) GetTemplate(ctx context.Context, name string) (*core.ContextManagementTemplate, error) {
	return r.templates.GetTemplate(ctx, name)
}

// ListTemplates pages through templates ordered by name. A size of zero
// selects DefaultPageSize; otherwise size must lie in [1, MaxPageSize].
func (r *Registry) ListTemplates(ctx context.Context, from, size int) ([]*core.ContextManagementTemplate, error) {
	if from < 0 {
		return nil, core.Validationf("from must not be negative, got %d", from)
	}
	if size == 0 {
		size = DefaultPageSize
	}
	if size < 1 || size > MaxPageSize {
		return nil, core.Validationf("size must be between 1 and %d, got %d", MaxPageSize, size)
	}
	return r.templates.ListTemplates(ctx, from, size)
}

// DeleteTemplate removes the named template and reports whether it existed.
// Agents still referencing it fail at their next execution.
func (r *Registry) DeleteTemplate(ctx context.Context, name string) (bool, error) {
	ok, err := r.templates.DeleteTemplate(ctx, name)
	if err != nil {
		return false, err
	}
	if ok {
		r.logger.Info("registry.template.deleted", "name", name)
	}
	return ok, nil
}
