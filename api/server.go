// Package api exposes the registry, the engine and the memory store over the
// /_plugins/_ml REST routes.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/engine"
	"github.com/opensearch-project/mlagent/logging"
	"github.com/opensearch-project/mlagent/registry"
)

// TenantHeader carries the caller's tenant id.
const TenantHeader = "X-Tenant-ID"

const basePath = "/_plugins/_ml"

// Options configures a Server.
type Options struct {
	// Memory backs the memory routes. It should be the store the engine
	// persists to.
	Memory core.MemoryStore
	// Gate guards the memory routes. The agent routes are guarded by the
	// registry and the engine.
	Gate core.FeatureGate
	// Gatherer is exposed on /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
	// ReadTimeout bounds reading a request. Defaults to 30s.
	ReadTimeout time.Duration
}

// Server is the REST surface over the registry, the engine and the memory
// store.
type Server struct {
	engine   *engine.Engine
	registry *registry.Registry
	memory   core.MemoryStore
	gate     core.FeatureGate
	logger   logging.Logger
	router   *gin.Engine
	timeout  time.Duration
}

// New builds the router.
func New(eng *engine.Engine, reg *registry.Registry, optFns ...func(o *Options)) *Server {
	opts := Options{
		Gatherer:    prometheus.DefaultGatherer,
		Logger:      logging.NoOpLogger{},
		ReadTimeout: 30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		engine:   eng,
		registry: reg,
		memory:   opts.Memory,
		gate:     opts.Gate,
		logger:   logging.OrNoOp(opts.Logger),
		timeout:  opts.ReadTimeout,
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(s.recover), s.requestLogger())

	ml := r.Group(basePath)
	agents := ml.Group("/agents")
	agents.POST("/_register", s.registerAgent)
	agents.POST("/_execute", s.executeInline)
	agents.GET("/:agent_id", s.getAgent)
	agents.PUT("/:agent_id", s.updateAgent)
	agents.DELETE("/:agent_id", s.deleteAgent)
	agents.POST("/:agent_id/_execute", s.executeAgent)

	ml.GET("/context_management", s.listTemplates)
	templates := ml.Group("/context_management")
	templates.POST("/:name", s.createTemplate)
	templates.PUT("/:name", s.updateTemplate)
	templates.GET("/:name", s.getTemplate)
	templates.DELETE("/:name", s.deleteTemplate)

	if s.memory != nil {
		mem := ml.Group("/memory")
		mem.GET("/:session_id/_search", s.searchMemory)
		mem.DELETE("/:session_id", s.deleteMemory)
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	s.router = r
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.timeout,
		ReadTimeout:       s.timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api.server.listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("api.server.shutdown", "addr", addr)
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.logger.Error("api.request.panic", "path", c.Request.URL.Path, "panic", recovered)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(http.StatusInternalServerError, "internal_error", "internal server error"))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("api.request.completed",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func tenant(c *gin.Context) string {
	return c.GetHeader(TenantHeader)
}
