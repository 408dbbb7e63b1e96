package server

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/api/http"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/api/middleware"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/api/ws"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/registry"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/tracing"
)

// Server wraps the HTTP server and the sandbox runtime behind it
type Server struct {
	router  *gin.Engine
	http    *stdhttp.Server
	runtime *Runtime
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.FromConfig(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing plugin sandbox",
		zap.String("port", cfg.Server.Port),
		zap.String("plugin_dir", cfg.Sandbox.PluginDir),
		zap.Int("workers", cfg.Sandbox.Workers),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("sandbox", logger.Logger)

	rt := NewRuntime(cfg, logger.Logger, metrics)

	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Warmup(warmCtx); err != nil {
		logger.Warn("Context pool warmup incomplete", zap.Error(err))
	}

	if cfg.Sandbox.PluginDir != "" {
		report, err := registry.NewLoader(rt.Registry, cfg.Sandbox.PluginDir, logger.Component("loader")).Load()
		if err != nil {
			rt.Close()
			tracer.Close()
			return nil, fmt.Errorf("load plugins: %w", err)
		}
		logger.Info("Plugins loaded",
			zap.Int("loaded", report.Loaded),
			zap.Int("failed", report.Failed),
		)
	}

	s := &Server{
		runtime: rt,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.router = s.routes()
	s.http = &stdhttp.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	cfg := s.config

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	rt := s.runtime
	handlers := http.NewHandlers(rt.Registry, rt.Coordinator, http.NewHandlerMetrics(s.metrics), s.logger.Component("api"))
	aggregator := http.NewMetricsAggregator(s.metrics, rt.Coordinator, rt.Registry, rt.Bridge.Breakers())
	wsHandler := ws.NewHandler(rt.Registry, rt.Coordinator, s.metrics, s.logger.Component("ws"))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v2 := router.Group("/v2")
	{
		v2.GET("/stats", aggregator.GetAggregatedMetrics)
		v2.GET("/pool/stats", aggregator.GetPoolStats)

		v2.GET("/plugins", handlers.ListPlugins)
		v2.POST("/plugins", handlers.RegisterPlugin)
		v2.GET("/plugins/:type", handlers.GetPlugin)
		v2.DELETE("/plugins/:type", handlers.DeletePlugin)
		v2.POST("/plugins/:type/run", handlers.RunPlugin)

		v2.POST("/resolve", handlers.Resolve)

		playground := v2.Group("/playground", middleware.GlobalRateLimit(middleware.PlaygroundRateLimitConfig()))
		playground.POST("/test", handlers.Playground)
		playground.GET("/ws", wsHandler.HandleConnection)
	}

	return router
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() stdhttp.Handler {
	return s.router
}

// Runtime returns the sandbox runtime behind the server
func (s *Server) Runtime() *Runtime {
	return s.runtime
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones, then
// releases the sandbox
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.runtime.Close(); err != nil {
		s.logger.Error("Sandbox shutdown failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("sandbox shutdown: %w", err))
	}
	s.tracer.Close()
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
