// Package http exposes the proxied MCP server over a JSON HTTP API and
// serves the bundled web client.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/proxy"
)

// Caller forwards JSON-RPC requests to the supervised server.
// *proxy.Supervisor implements it.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Status() proxy.Status
}

// Server provides the proxy HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	caller  Caller
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// StaticDir serves the web client from disk instead of the embedded copy.
	StaticDir string

	// Gatherer backs GET /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	// Meter records HTTP instruments (default: global meter).
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(caller Caller, logger *logging.Logger, cfg *Config) (*Server, error) {
	if caller == nil {
		return nil, fmt.Errorf("caller cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 3000,
		}
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		echo:    e,
		caller:  caller,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(cfg.Meter, logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(middleware.CORS())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestLogger())

	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			s.logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() error {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api/mcp")
	api.GET("/status", s.handleStatus)
	api.GET("/tools", s.handleListTools)
	api.POST("/tools/call", s.handleCallTool)
	api.GET("/resources", s.handleListResources)
	api.POST("/resources/read", s.handleReadResource)

	return s.registerStatic()
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.caller.Status())
}

func (s *Server) handleListTools(c echo.Context) error {
	return s.forward(c, "tools/list", nil)
}

func (s *Server) handleCallTool(c echo.Context) error {
	var req CallToolRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid tool call request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool name is required")
	}

	args := bytes.TrimSpace(req.Arguments)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		args = json.RawMessage("{}")
	}
	return s.forward(c, "tools/call", callToolParams{Name: req.Name, Arguments: args})
}

func (s *Server) handleListResources(c echo.Context) error {
	return s.forward(c, "resources/list", nil)
}

func (s *Server) handleReadResource(c echo.Context) error {
	var req ReadResourceRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid resource read request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource URI is required")
	}
	return s.forward(c, "resources/read", readResourceParams{URI: req.URI})
}

// forward relays one request and writes the child's result verbatim.
func (s *Server) forward(c echo.Context, method string, params any) error {
	ctx := c.Request().Context()
	res, err := s.caller.Call(ctx, method, params)
	if err != nil {
		s.logger.Warn(ctx, "proxied request failed", zap.String("method", method), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	if len(res) == 0 {
		res = json.RawMessage("null")
	}
	return c.JSONBlob(http.StatusOK, res)
}

// errorHandler writes every error as {"error": message}.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ErrorResponse{Error: msg})
		}
		if err != nil {
			logger.Warn(c.Request().Context(), "failed to write error response", zap.Error(err))
		}
	}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on the configured address until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
