package tool

import (
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/logging"
	"github.com/opensearch-project/mlagent/model"
)

// Factory builds a tool instance for a spec.
type Factory func(spec core.ToolSpec) (Tool, error)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// CacheSize bounds the number of cached toolsets.
	CacheSize int
	Logger    logging.Logger
}

// Registry maps tool type strings to factories and caches built toolsets per
// agent snapshot.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	cache     *lru.Cache[string, *Toolset]
	logger    logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{CacheSize: 256, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	cache, _ := lru.New[string, *Toolset](opts.CacheSize)
	return &Registry{
		factories: make(map[string]Factory),
		cache:     cache,
		logger:    logging.OrNoOp(opts.Logger),
	}
}

// Register installs the factory for a tool type, replacing any previous one.
func (r *Registry) Register(toolType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[toolType] = f
	r.cache.Purge()
}

// Types returns the registered tool types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every spec names a registered tool type.
func (r *Registry) Validate(specs []core.ToolSpec) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range specs {
		if _, ok := r.factories[s.Type]; !ok {
			return core.Validationf("unsupported tool type %q", s.Type)
		}
	}
	return nil
}

// Build instantiates a toolset for specs in declaration order.
func (r *Registry) Build(specs []core.ToolSpec) (*Toolset, error) {
	ts := &Toolset{entries: make([]entry, 0, len(specs))}
	for _, s := range specs {
		r.mu.RLock()
		f, ok := r.factories[s.Type]
		r.mu.RUnlock()
		if !ok {
			return nil, core.NotFoundf("tool", "tool type %q is not registered", s.Type)
		}
		t, err := f(s)
		if err != nil {
			return nil, err
		}
		ts.entries = append(ts.entries, entry{spec: s, tool: t})
	}
	return ts, nil
}

// Toolset returns the cached toolset for key, building it on a miss. An empty
// key disables caching.
func (r *Registry) Toolset(key string, specs []core.ToolSpec) (*Toolset, error) {
	if key != "" {
		if ts, ok := r.cache.Get(key); ok {
			return ts, nil
		}
	}
	ts, err := r.Build(specs)
	if err != nil {
		return nil, err
	}
	if key != "" {
		r.cache.Add(key, ts)
		r.logger.Debug("tool.toolset.cached", "key", key, "tools", len(specs))
	}
	return ts, nil
}

type entry struct {
	spec core.ToolSpec
	tool Tool
}

// Toolset is the immutable set of tools of one agent snapshot.
type Toolset struct {
	entries []entry
}

// Len returns the number of tools.
func (ts *Toolset) Len() int { return len(ts.entries) }

// Names returns the tool names in declaration order.
func (ts *Toolset) Names() []string {
	out := make([]string, len(ts.entries))
	for i, e := range ts.entries {
		out[i] = e.spec.ToolName()
	}
	return out
}

// Specs returns the tool specs in declaration order.
func (ts *Toolset) Specs() []core.ToolSpec {
	out := make([]core.ToolSpec, len(ts.entries))
	for i, e := range ts.entries {
		out[i] = e.spec
	}
	return out
}

// Lookup resolves a tool by exact name, falling back to the first tool whose
// name is contained in the requested one, ignoring case.
func (ts *Toolset) Lookup(name string) (Tool, core.ToolSpec, bool) {
	for _, e := range ts.entries {
		if e.spec.ToolName() == name {
			return e.tool, e.spec, true
		}
	}
	lower := strings.ToLower(name)
	for _, e := range ts.entries {
		if n := strings.ToLower(e.spec.ToolName()); n != "" && strings.Contains(lower, n) {
			return e.tool, e.spec, true
		}
	}
	return nil, core.ToolSpec{}, false
}

// Definitions describes the tools to the model.
func (ts *Toolset) Definitions() []model.ToolDefinition {
	out := make([]model.ToolDefinition, len(ts.entries))
	for i, e := range ts.entries {
		desc := e.spec.Description
		if desc == "" {
			desc = e.tool.Description()
		}
		out[i] = model.ToolDefinition{Name: e.spec.ToolName(), Description: desc, Parameters: e.tool.Parameters()}
	}
	return out
}
