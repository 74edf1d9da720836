// Package mlagent provides a high-level façade that assembles the agent
// execution stack from a config.Config: stores, registries, built-in tools,
// model providers, the Engine and the HTTP server.
//
// Most applications interact with this package by:
//  1. Loading a configuration via config.Load (or config.Default)
//  2. Creating a Mesh via New, optionally overriding stores or collaborators
//  3. Registering agents through Mesh.Registry and calling Mesh.Execute, or
//     serving the REST API via Mesh.Serve
//
// All defaults are in-process and safe for local development and testing;
// production deployments select the Redis memory store and the MongoDB
// registry through the configuration.
package mlagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/opensearch-project/mlagent/api"
	"github.com/opensearch-project/mlagent/config"
	"github.com/opensearch-project/mlagent/connector"
	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/engine"
	"github.com/opensearch-project/mlagent/hook"
	"github.com/opensearch-project/mlagent/logging"
	"github.com/opensearch-project/mlagent/memory"
	redismemory "github.com/opensearch-project/mlagent/memory/redis"
	"github.com/opensearch-project/mlagent/model"
	"github.com/opensearch-project/mlagent/model/anthropic"
	"github.com/opensearch-project/mlagent/model/openai"
	"github.com/opensearch-project/mlagent/model/remote"
	"github.com/opensearch-project/mlagent/registry"
	mongoregistry "github.com/opensearch-project/mlagent/registry/mongo"
	"github.com/opensearch-project/mlagent/tool"
)

// Model providers registered by New.
const (
	ProviderRemote    = "remote"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Options configures the Mesh instance.
type Options struct {
	// Config selects backends and limits. Defaults to config.Default().
	Config *config.Config

	// Stores override the configured backends when set.
	MemoryStore   core.MemoryStore
	AgentStore    registry.AgentStore
	TemplateStore registry.TemplateStore

	// Connectors are added to the connector store next to the ones loaded
	// from the configured connector file.
	Connectors []*connector.Connector

	// Catalog backs ListIndexTool. Defaults to an empty static catalog.
	Catalog tool.IndexCatalog

	// Models are bound by model id and take precedence over providers.
	Models map[string]model.Model

	// Callbacks observe every execution.
	Callbacks *engine.CallbackManager

	// Registerer receives the engine metrics; Gatherer is exposed on
	// /metrics. Both default to the Prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	TracerProvider trace.TracerProvider

	// Logger defaults to a slog logger built from the log section.
	Logger logging.Logger
}

// Mesh aggregates the assembled components.
type Mesh struct {
	Config     *config.Config
	Gate       *core.StaticFeatureGate
	Registry   *registry.Registry
	Engine     *engine.Engine
	Memory     core.MemoryStore
	Tools      *tool.Registry
	Models     *model.Registry
	Connectors *connector.MemoryStore

	gatherer prometheus.Gatherer
	logger   logging.Logger
	closers  []func(context.Context) error
}

// New assembles a Mesh. It connects to the configured Redis and MongoDB
// backends; call Close to release them.
func New(ctx context.Context, optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(cfg.LoggerConfig())
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Catalog == nil {
		opts.Catalog = tool.NewStaticCatalog()
	}

	m := &Mesh{
		Config:   cfg,
		Gate:     core.NewStaticFeatureGate(cfg.Features.AgentFrameworkEnabled),
		gatherer: opts.Gatherer,
		logger:   opts.Logger,
	}

	if err := m.openMemory(ctx, opts); err != nil {
		return nil, m.closeOnError(ctx, err)
	}
	agents, templates, err := m.openRegistry(ctx, opts)
	if err != nil {
		return nil, m.closeOnError(ctx, err)
	}
	if err := m.loadConnectors(opts); err != nil {
		return nil, m.closeOnError(ctx, err)
	}

	invoker := connector.NewHTTPInvoker(func(o *connector.Options) {
		o.Timeout = cfg.Connector.HTTPTimeout
		o.RateLimit = rate.Limit(cfg.Connector.RateLimit.RPS)
		o.Burst = cfg.Connector.RateLimit.Burst
		o.Logger = opts.Logger
	})

	m.Models = model.NewRegistry(cfg.Models.DefaultProvider)
	m.Models.RegisterProvider(ProviderRemote, remote.Factory(m.Connectors, invoker))
	m.Models.RegisterProvider(ProviderOpenAI, openai.Factory(func(o *openai.Options) {
		o.APIKey = cfg.Models.OpenAI.APIKey
		o.BaseURL = cfg.Models.OpenAI.BaseURL
	}))
	m.Models.RegisterProvider(ProviderAnthropic, anthropic.Factory(func(o *anthropic.Options) {
		o.APIKey = cfg.Models.Anthropic.APIKey
		o.BaseURL = cfg.Models.Anthropic.BaseURL
	}))
	m.Models.RegisterProvider(ProviderMock, func(_ context.Context, spec *core.ModelSpec) (model.Model, error) {
		return model.NewMockModel(spec.ModelID, ProviderMock), nil
	})
	for id, mdl := range opts.Models {
		m.Models.Register(id, mdl)
	}

	m.Tools = tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.CacheSize = cfg.Cache.Size
		o.Logger = opts.Logger
	})
	tool.RegisterBuiltins(m.Tools, tool.Dependencies{
		Catalog:    opts.Catalog,
		Connectors: m.Connectors,
		Invoker:    invoker,
		Models:     m.Models,
	})

	m.Registry = registry.New(agents, templates, func(o *registry.Options) {
		o.Tools = m.Tools
		o.Gate = m.Gate
		o.Logger = opts.Logger
	})

	metrics := engine.MustNewMetrics(opts.Registerer)
	hooks := hook.NewRegistry(func(o *hook.RegistryOptions) {
		o.CacheSize = cfg.Cache.Size
		o.Dependencies = hook.Dependencies{Models: m.Models}
		o.Logger = opts.Logger
		o.Observer = metrics.ObserveHook
	})

	m.Engine = engine.New(m.Registry, func(o *engine.Options) {
		o.Config = cfg.EngineConfig()
		o.Memory = m.Memory
		o.Models = m.Models
		o.Tools = m.Tools
		o.Hooks = hooks
		o.Gate = m.Gate
		o.Callbacks = opts.Callbacks
		o.Metrics = metrics
		o.TracerProvider = opts.TracerProvider
		o.Logger = opts.Logger
	})

	opts.Logger.Info("mlagent.started",
		"memory.backend", cfg.Memory.Backend,
		"registry.backend", cfg.Registry.Backend,
		"tools", m.Tools.Types(),
	)
	return m, nil
}

func (m *Mesh) openMemory(ctx context.Context, opts Options) error {
	if opts.MemoryStore != nil {
		m.Memory = opts.MemoryStore
		return nil
	}
	cfg := m.Config.Memory
	if cfg.Backend != config.BackendRedis {
		m.Memory = memory.NewInMemoryStore()
		return nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	m.closers = append(m.closers, func(context.Context) error { return rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	m.Memory = redismemory.New(rdb, func(o *redismemory.Options) {
		o.Prefix = cfg.Redis.Prefix
		o.TTL = cfg.Redis.TTL
		o.Logger = opts.Logger
	})
	return nil
}

func (m *Mesh) openRegistry(ctx context.Context, opts Options) (registry.AgentStore, registry.TemplateStore, error) {
	agents, templates := opts.AgentStore, opts.TemplateStore
	if agents != nil && templates != nil {
		return agents, templates, nil
	}
	cfg := m.Config.Registry
	if cfg.Backend == config.BackendMongo {
		client, err := mongoregistry.Connect(cfg.Mongo.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		m.closers = append(m.closers, client.Disconnect)
		store, err := mongoregistry.New(ctx, mongoregistry.Options{
			Client:   client,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		if agents == nil {
			agents = store
		}
		if templates == nil {
			templates = store
		}
		return agents, templates, nil
	}
	if agents == nil {
		agents = registry.NewMemoryAgentStore()
	}
	if templates == nil {
		templates = registry.NewMemoryTemplateStore()
	}
	return agents, templates, nil
}

func (m *Mesh) loadConnectors(opts Options) error {
	m.Connectors = connector.NewMemoryStore()
	conns := opts.Connectors
	if path := m.Config.Connector.File; path != "" {
		loaded, err := connector.LoadFile(path)
		if err != nil {
			return err
		}
		conns = append(loaded, conns...)
	}
	for _, c := range conns {
		if err := m.Connectors.Put(c); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs one agent execution.
func (m *Mesh) Execute(ctx context.Context, req *engine.Request) (*engine.Result, error) {
	return m.Engine.Execute(ctx, req)
}

// Server builds the HTTP surface over the mesh.
func (m *Mesh) Server() *api.Server {
	return api.New(m.Engine, m.Registry, func(o *api.Options) {
		o.Memory = m.Memory
		o.Gate = m.Gate
		o.Gatherer = m.gatherer
		o.Logger = m.logger
		o.ReadTimeout = m.Config.Server.ReadTimeout
	})
}

// Serve serves the HTTP surface on the configured address until ctx is done.
func (m *Mesh) Serve(ctx context.Context) error {
	return m.Server().ListenAndServe(ctx, m.Config.Server.Addr)
}

// Close releases backend connections.
func (m *Mesh) Close(ctx context.Context) error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func (m *Mesh) closeOnError(ctx context.Context, err error) error {
	if cerr := m.Close(ctx); cerr != nil {
		m.logger.Warn("mlagent.close.failed", "error", cerr)
	}
	return err
}
