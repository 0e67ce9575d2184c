// Dashscope-mcp is an MCP server that speaks JSON-RPC on stdin/stdout.
//
// It exposes the ai_chat tool, backed by the DashScope text-generation API,
// and read access to local files through file:// resources. Logs go to
// stderr because stdout carries the protocol.
//
// Usage:
//
//	DASHSCOPE_API_KEY=sk-... dashscope-mcp
//	dashscope-mcp version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/app"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/config"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/dashscope"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
	mcpserver "github.com/fyrsmithlabs/dashscope-mcp/internal/mcp"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/secrets"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "dashscope-mcp",
		Short:         "MCP stdio server for DashScope chat and local files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, configPath); err != nil {
				fmt.Fprintf(os.Stderr, "dashscope-mcp: %v\n", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/dashscope-mcp/config.yaml)")
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	})
	return cmd
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "dashscope-mcp by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// run serves MCP on stdio until stdin closes or ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	rt, err := app.Init(ctx, app.Options{
		ConfigPath: configPath,
		LogWriter:  logging.WriterStderr,
		Version:    version,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close(context.Background())
	}()

	cfg := rt.Config
	logger := rt.Logger

	if err := cfg.RequireAPIKey(); err != nil {
		logger.Error(ctx, "cannot start without an API key", zap.Error(err))
		return err
	}

	client, err := dashscope.New(cfg.DashScope, dashscope.WithLogger(logger.Named("dashscope")))
	if err != nil {
		return fmt.Errorf("failed to create dashscope client: %w", err)
	}

	scrubber, err := fileScrubber(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	server, err := mcpserver.NewServer(&mcpserver.Config{
		Name:             cfg.Server.Name,
		Version:          cfg.Server.Version,
		DefaultModel:     cfg.DashScope.Model,
		Logger:           logger.Named("mcp"),
		Meter:            rt.Telemetry.Meter("github.com/fyrsmithlabs/dashscope-mcp/internal/mcp"),
		ScrubFileSecrets: cfg.Server.ScrubFileSecrets,
		Scrubber:         scrubber,
	}, client)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Info(ctx, "dashscope-mcp server running on stdio",
		zap.String("name", cfg.Server.Name),
		zap.String("version", cfg.Server.Version),
		zap.String("model", cfg.DashScope.Model),
	)

	err = server.Run(ctx)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		logger.Info(context.Background(), "dashscope-mcp server stopped")
		return nil
	default:
		return fmt.Errorf("stdio server error: %w", err)
	}
}

// fileScrubber builds the scanner applied to file resource text. It returns
// nil when scrubbing is off.
func fileScrubber(cfg config.ServerConfig) (secrets.Scrubber, error) {
	switch {
	case !cfg.ScrubFileSecrets:
		return nil, nil
	case cfg.SecretScanner == config.ScannerGitleaks:
		return secrets.NewGitleaks(secrets.GitleaksOptions{AllowlistPath: cfg.SecretAllowlist})
	default:
		return secrets.New(secrets.DefaultConfig())
	}
}
