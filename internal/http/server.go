// Package http provides the operational HTTP surface of waypointd: health,
// Prometheus metrics and the process catalogue.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/process"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProcessLister lists registered processes.
type ProcessLister interface {
	Processes() []process.Descriptor
}

// Server provides the ops endpoints.
type Server struct {
	echo      *echo.Echo
	db        Pinger
	processes ProcessLister
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Version is reported by /health.
	Version string
	// Gatherer serves /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// NewServer creates a new HTTP server.
func NewServer(db Pinger, processes ProcessLister, logger *zap.Logger, cfg *Config) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("database pinger cannot be nil")
	}
	if processes == nil {
		return nil, fmt.Errorf("process lister cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)

			logger.Debug("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		db:        db,
		processes: processes,
		gatherer:  gatherer,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.echo.GET("/processes", s.handleProcesses)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
}

// ProcessesResponse is the response body for GET /processes.
type ProcessesResponse struct {
	Processes []process.Descriptor `json:"processes"`
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Services: map[string]string{"database": "ok"},
	}
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Services["database"] = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProcesses(c echo.Context) error {
	list := s.processes.Processes()
	if list == nil {
		list = []process.Descriptor{}
	}
	return c.JSON(http.StatusOK, ProcessesResponse{Processes: list})
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
