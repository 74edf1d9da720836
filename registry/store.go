package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/opensearch-project/mlagent/core"
)

// AgentStore persists agent definitions.
type AgentStore interface {
	// PutAgent inserts or replaces def under def.ID.
	PutAgent(ctx context.Context, def *core.AgentDefinition) error
	GetAgent(ctx context.Context, id string) (*core.AgentDefinition, error)
	DeleteAgent(ctx context.Context, id string) (bool, error)
}

// TemplateStore persists context management templates by name.
type TemplateStore interface {
	// CreateTemplate fails with core.ErrAlreadyExists when the name is taken.
	CreateTemplate(ctx context.Context, t *core.ContextManagementTemplate) error
	// UpdateTemplate fails with core.ErrNotFound when the name is unknown.
	UpdateTemplate(ctx context.Context, t *core.ContextManagementTemplate) error
	GetTemplate(ctx context.Context, name string) (*core.ContextManagementTemplate, error)
	// ListTemplates returns templates ordered by name.
	ListTemplates(ctx context.Context, from, size int) ([]*core.ContextManagementTemplate, error)
	DeleteTemplate(ctx context.Context, name string) (bool, error)
}

// MemoryAgentStore is an in-process AgentStore.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*core.AgentDefinition
}

var _ AgentStore = (*MemoryAgentStore)(nil)

// NewMemoryAgentStore creates an empty store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]*core.AgentDefinition)}
}

// PutAgent implements AgentStore.
func (s *MemoryAgentStore) PutAgent(ctx context.Context, def *core.AgentDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[def.ID] = def.Clone()
	return nil
}

// GetAgent implements AgentStore.
func (s *MemoryAgentStore) GetAgent(ctx context.Context, id string) (*core.AgentDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.agents[id]
	if !ok {
		return nil, core.NotFoundf("agent", "agent %s not found", id)
	}
	return def.Clone(), nil
}

// DeleteAgent implements AgentStore.
func (s *MemoryAgentStore) DeleteAgent(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.agents[id]
	delete(s.agents, id)
	return ok, nil
}

// MemoryTemplateStore is an in-process TemplateStore.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*core.ContextManagementTemplate
}

var _ TemplateStore = (*MemoryTemplateStore)(nil)

// NewMemoryTemplateStore creates an empty store.
func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]*core.ContextManagementTemplate)}
}

// CreateTemplate implements TemplateStore.
func (s *MemoryTemplateStore) CreateTemplate(ctx context.Context, t *core.ContextManagementTemplate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.Name]; ok {
		return core.AlreadyExistsf("template", "context management template %s already exists", t.Name)
	}
	s.templates[t.Name] = t.Clone()
	return nil
}

// UpdateTemplate implements TemplateStore.
func (s *MemoryTemplateStore) UpdateTemplate(ctx context.Context, t *core.ContextManagementTemplate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.Name]; !ok {
		return core.TemplateNotFound(t.Name)
	}
	s.templates[t.Name] = t.Clone()
	return nil
}

// GetTemplate implements TemplateStore.
func (s *MemoryTemplateStore) GetTemplate(ctx context.Context, name string) (*core.ContextManagementTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	if !ok {
		return nil, core.TemplateNotFound(name)
	}
	return t.Clone(), nil
}

// ListTemplates implements TemplateStore.
func (s *MemoryTemplateStore) ListTemplates(ctx context.Context, from, size int) ([]*core.ContextManagementTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.templates))
	for n := range s.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*core.ContextManagementTemplate, 0, size)
	for i := from; i < len(names) && len(out) < size; i++ {
		out = append(out, s.templates[names[i]].Clone())
	}
	s.mu.RUnlock()
	return out, nil
}

// DeleteTemplate implements TemplateStore.
func (s *MemoryTemplateStore) DeleteTemplate(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.templates[name]
	delete(s.templates, name)
	return ok, nil
}
