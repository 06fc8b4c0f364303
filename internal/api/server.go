// Package api is the HTTP frontend: caller authentication, the protocol
// routes, the request pipeline driving converter and upstream, the SSE
// writer, and the single place errors become HTTP responses.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/router"
	"github.com/aigate-dev/aigate/internal/upstream"
	"github.com/aigate-dev/aigate/internal/usage"
)

// Server owns the gin engine and the listener lifecycle.
type Server struct {
	cfg      *config.Config
	router   *router.Router
	registry *upstream.Registry
	prompts  *logging.PromptLogger
	recorder *usage.Recorder
	engine   *gin.Engine
	srv      *http.Server
}

// New assembles the engine: middleware in order (request log, panic
// recovery, CORS, caller auth), then the protocol table once at the root and
// once under each provider prefix.
func New(cfg *config.Config, rt *router.Router, registry *upstream.Registry, prompts *logging.PromptLogger, recorder *usage.Recorder) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:      cfg,
		router:   rt,
		registry: registry,
		prompts:  prompts,
		recorder: recorder,
		engine:   gin.New(),
	}

	s.engine.Use(logging.GinLogrusLogger())
	s.engine.Use(logging.GinLogrusRecovery())
	s.engine.Use(corsMiddleware())
	s.engine.Use(authMiddleware(cfg.AllAPIKeys()))

	s.registerRoutes()
	return s
}

// Handler exposes the route tree; tests drive it through httptest.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	// The same table serves the root and every provider prefix; the prefix
	// pins the provider before the header or the default gets a say.
	s.registerTable(&s.engine.RouterGroup, "")
	for _, p := range config.KnownProviders() {
		s.registerTable(s.engine.Group("/"+string(p)), p)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody("not found"))
	})
}

func (s *Server) registerTable(g *gin.RouterGroup, pinned config.Provider) {
	for _, def := range router.Table() {
		var h gin.HandlerFunc
		switch def.Endpoint {
		case router.EndpointOpenAIChat, router.EndpointClaudeMessages:
			h = s.chatHandler(pinned, def.Family)
		case router.EndpointGeminiGenerate:
			h = s.geminiGenerateHandler(pinned)
		case router.EndpointOpenAIModels, router.EndpointGeminiModels:
			h = s.modelsHandler(pinned, def.Family)
		}
		g.Handle(def.Method, def.Pattern, h)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"provider":  s.cfg.ModelProvider,
	})
}

// Run serves until ctx is canceled, then drains in-flight requests before
// returning. A listener failure surfaces immediately.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logging.Infof("listening on http://%s (default provider: %s)", addr, s.cfg.ModelProvider)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutCtx)
}

// modelsHandler serves the model list in the endpoint's native shape.
func (s *Server) modelsHandler(pinned config.Provider, family converter.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.router.Resolve(pinned, c.Request.Header)
		adapter, err := s.registry.Get(snap.Provider())
		if err != nil {
			writeError(c, &badRequestError{err})
			return
		}
		models, err := adapter.ListModels(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		payload, err := converter.EmitModels(family, models)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", payload)
	}
}
