package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/dashscope"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/secrets"
)

// Server is the MCP server exposing ai_chat and file:// resources.
type Server struct {
	mcp          *mcp.Server
	chat         dashscope.Chatter
	defaultModel string
	scrubber     secrets.Scrubber
	scrubFiles   bool
	metrics      *Metrics
	logger       *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "dashscope-mcp")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// DefaultModel is used when ai_chat is called without a model
	// (default: "qwen-turbo")
	DefaultModel string

	// Logger for structured logging. Must not write to stdout when the
	// server runs on the stdio transport.
	Logger *logging.Logger

	// Meter for tool metrics (default: the global meter provider)
	Meter metric.Meter

	// ScrubFileSecrets redacts credentials from file resource text.
	ScrubFileSecrets bool

	// Scrubber used when ScrubFileSecrets is set (default: secrets.DefaultConfig)
	Scrubber secrets.Scrubber
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:         "dashscope-mcp",
		Version:      "1.0.0",
		DefaultModel: dashscope.DefaultModel,
		Logger:       logging.NewNop(),
	}
}

// NewServer creates a new MCP server backed by chat.
func NewServer(cfg *Config, chat dashscope.Chatter) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if chat == nil {
		return nil, errors.New("chat client is required")
	}

	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter(instrumentationName)
	}

	scrubber := cfg.Scrubber
	if cfg.ScrubFileSecrets && scrubber == nil {
		var err error
		scrubber, err = secrets.New(secrets.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create scrubber: %w", err)
		}
	}
	if scrubber == nil {
		scrubber = secrets.Noop{}
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:          mcpServer,
		chat:         chat,
		defaultModel: cfg.DefaultModel,
		scrubber:     scrubber,
		scrubFiles:   cfg.ScrubFileSecrets,
		metrics:      NewMetrics(cfg.Meter, cfg.Logger),
		logger:       cfg.Logger.Named("mcp"),
	}

	s.registerTools()
	s.registerResources()
	s.mcp.AddReceivingMiddleware(s.foldErrors)

	return s, nil
}

// Run serves the MCP protocol on stdin/stdout until ctx is done or the
// client closes the stream.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves the protocol on an arbitrary transport and returns the
// session without blocking.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.mcp.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect transport: %w", err)
	}
	s.logger.Debug(ctx, "session connected", zap.String("session_id", session.ID()))
	return session, nil
}
