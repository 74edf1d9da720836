package hook

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/logging"
)

// Event describes one hook invocation.
type Event struct {
	Point    core.HookPoint
	Type     string
	Applied  bool
	Duration time.Duration
	Err      error
}

// Observer receives an Event after every hook invocation.
type Observer func(Event)

type bound struct {
	hook       Hook
	activation *Activation
}

// Pipeline is the resolved set of hooks of one template. Hooks of a point run
// in order, each one receiving the previous one's output. A nil Pipeline
// passes every buffer through.
type Pipeline struct {
	name     string
	hooks    map[core.HookPoint][]bound
	logger   logging.Logger
	observer Observer
}

// Name returns the template name.
func (p *Pipeline) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Has reports whether any hook is bound to point.
func (p *Pipeline) Has(point core.HookPoint) bool {
	return p != nil && len(p.hooks[point]) > 0
}

// Apply runs the hooks of point over buf. A failing hook is logged and its
// input is passed on unchanged.
func (p *Pipeline) Apply(ctx context.Context, point core.HookPoint, buf Buffer) Buffer {
	if p == nil {
		return buf
	}
	for _, b := range p.hooks[point] {
		if ctx.Err() != nil {
			return buf
		}
		ev := Event{Point: point, Type: b.hook.Type()}
		start := time.Now()
		if b.activation.Active(buf) {
			out, err := b.hook.Apply(ctx, buf)
			ev.Err = err
			if err != nil {
				p.logger.Warn("hook.apply.fallback", "template", p.name, "point", point, "type", ev.Type, "error", err)
			} else {
				buf = out
				ev.Applied = true
			}
		}
		ev.Duration = time.Since(start)
		if al, ok := p.logger.(*logging.AgentLogger); ok {
			al.LogHook(string(point), ev.Type, ev.Duration, ev.Applied)
		}
		if p.observer != nil {
			p.observer(ev)
		}
	}
	return buf
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// CacheSize bounds the number of cached pipelines.
	CacheSize    int
	Dependencies Dependencies
	Logger       logging.Logger
	Observer     Observer
}

// Registry maps hook types to factories and caches resolved pipelines per
// template revision. The built-in hook types are pre-registered.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	cache     *lru.Cache[string, *Pipeline]
	deps      Dependencies
	logger    logging.Logger
	observer  Observer
}

// NewRegistry creates a registry with the built-in hooks.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{CacheSize: 128, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	cache, _ := lru.New[string, *Pipeline](opts.CacheSize)
	r := &Registry{
		factories: make(map[string]Factory),
		cache:     cache,
		deps:      opts.Dependencies,
		logger:    logging.OrNoOp(opts.Logger),
		observer:  opts.Observer,
	}
	r.Register(TypeTruncate, truncateFactory)
	r.Register(TypeSummarize, summarizeFactory)
	return r
}

// Register installs the factory for a hook type.
func (r *Registry) Register(hookType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[hookType] = f
	r.cache.Purge()
}

// Types returns the registered hook types, sorted.
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

// Pipeline resolves t. Stored templates are cached by revision; inline
// templates, which carry no modification time, are built on every call.
// Unknown hook types are skipped with a warning; an invalid hook config is a
// validation error.
func (r *Registry) Pipeline(t *core.ContextManagementTemplate) (*Pipeline, error) {
	if t == nil {
		return nil, nil
	}
	cacheable := !t.LastModified.IsZero()
	key := t.Version()
	if cacheable {
		if p, ok := r.cache.Get(key); ok {
			return p, nil
		}
	}

	p := &Pipeline{
		name:     t.Name,
		hooks:    make(map[core.HookPoint][]bound, len(t.Hooks)),
		logger:   r.logger,
		observer: r.observer,
	}
	for point, specs := range t.Hooks {
		for _, spec := range specs {
			r.mu.RLock()
			f, ok := r.factories[spec.Type]
			r.mu.RUnlock()
			if !ok {
				r.logger.Warn("hook.type.unknown", "template", t.Name, "point", point, "type", spec.Type)
				continue
			}
			h, err := f(spec.Config, r.deps)
			if err != nil {
				return nil, err
			}
			act, err := parseActivation(spec.Config)
			if err != nil {
				return nil, err
			}
			p.hooks[point] = append(p.hooks[point], bound{hook: h, activation: act})
		}
	}

	if cacheable {
		r.cache.Add(key, p)
		r.logger.Debug("hook.pipeline.cached", "template", key)
	}
	return p, nil
}
