package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"coordmutex/pkg/api/middleware"
	"coordmutex/pkg/auth"
	"coordmutex/pkg/logger"
	"coordmutex/pkg/mutex"
	tracing "coordmutex/pkg/observability"
	"coordmutex/pkg/storage"
)

// Controller creates and kills processes on behalf of the API.
type Controller interface {
	Spawn(ctx context.Context) (*mutex.Process, error)
	KillCoordinator(ctx context.Context) (*mutex.Process, error)
}

// ClusterView exposes the externally mirrored membership, when there is one.
type ClusterView interface {
	Nodes(ctx context.Context) ([]string, error)
	Leader(ctx context.Context) (string, error)
}

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	registry     mutex.Registry
	controller   Controller
	usage        storage.UsageReader
	cluster      ClusterView
	dependencies map[string]bool
}

// Config holds API server configuration.
type Config struct {
	Port       string
	Registry   mutex.Registry
	Controller Controller
	// Usage serves /api/v1/usage; nil answers 501.
	Usage storage.UsageReader
	// Cluster serves /api/v1/cluster/nodes; nil answers 501.
	Cluster ClusterView
	// JWT protects mutating routes; nil disables authentication.
	JWT *auth.JWTService
	// Dependencies are reported by /health; any false marks it degraded.
	Dependencies map[string]bool
	RateLimit    middleware.RateLimiterConfig
	Logger       *zap.Logger
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	log := cfg.Logger
	if log == nil {
		log = logger.For("api")
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit = middleware.DefaultRateLimiterConfig()
	}

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware("coordmutex-api"))
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger(log))
	router.Use(middleware.NewRateLimiter(cfg.RateLimit).Middleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	s := &Server{
		router:       router,
		log:          log,
		registry:     cfg.Registry,
		controller:   cfg.Controller,
		usage:        cfg.Usage,
		cluster:      cfg.Cluster,
		dependencies: cfg.Dependencies,
	}

	s.registerRoutes(cfg.JWT)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(jwt *auth.JWTService) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// operator prefixes handlers with authentication and the operator role.
	operator := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		return append([]gin.HandlerFunc{
			middleware.AuthMiddleware(jwt),
			middleware.RequireRole(auth.RoleOperator),
		}, handlers...)
	}
	byID := middleware.ProcessIDParam()

	v1 := s.router.Group("/api/v1")
	{
		processes := v1.Group("/processes")
		{
			processes.GET("", s.listProcesses)
			processes.POST("", operator(s.createProcess)...)
			processes.GET("/:id", byID, s.getProcess)
			processes.DELETE("/:id", operator(byID, s.destroyProcess)...)
			processes.POST("/:id/request", operator(byID, s.requestResource)...)
			processes.POST("/:id/release", operator(byID, s.releaseResource)...)
		}

		cluster := v1.Group("/cluster")
		{
			cluster.GET("/coordinator", s.getCoordinator)
			cluster.DELETE("/coordinator", operator(s.killCoordinator)...)
			cluster.GET("/nodes", s.listNodes)
		}

		v1.GET("/usage", s.listUsage)
	}
}

// requestLogger logs every HTTP request through zap.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
			zap.String("trace_id", tracing.TraceID(c.Request.Context())))
	}
}

// healthCheck returns server health status with dependency checks.
func (s *Server) healthCheck(c *gin.Context) {
	healthy := true
	for _, ok := range s.dependencies {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":       status,
		"dependencies": s.dependencies,
		"timestamp":    time.Now().UTC(),
	}
	if s.registry != nil {
		body["processes"] = len(s.registry.Processes())
	}
	if v, err := mem.VirtualMemory(); err == nil {
		body["memory"] = gin.H{
			"total_mb":     v.Total / 1024 / 1024,
			"available_mb": v.Available / 1024 / 1024,
			"used_percent": v.UsedPercent,
		}
	}

	c.JSON(httpStatus, body)
}
