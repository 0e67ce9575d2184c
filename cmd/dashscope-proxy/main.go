// Dashscope-proxy exposes the dashscope-mcp stdio server over HTTP.
//
// It spawns the server as a child process, restarts it when it exits and
// forwards JSON requests from /api/mcp/* to it. A small web client is
// served at /, Prometheus metrics at /metrics.
//
// Usage:
//
//	DASHSCOPE_API_KEY=sk-... dashscope-proxy
//	PORT=8080 PROXY_COMMAND=/usr/local/bin/dashscope-mcp dashscope-proxy
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/app"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/config"
	httpapi "github.com/fyrsmithlabs/dashscope-mcp/internal/http"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/proxy"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/secrets"
)

var version = "dev"

type flags struct {
	configPath string
	port       int
	command    string
	staticDir  string
	watch      bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:          "dashscope-proxy",
		Short:        "HTTP proxy and supervisor for the dashscope-mcp stdio server",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "", "config file (default ~/.config/dashscope-mcp/config.yaml)")
	cmd.Flags().IntVar(&f.port, "port", 0, "listen port (overrides PORT)")
	cmd.Flags().StringVar(&f.command, "command", "", "stdio server executable (overrides proxy.command)")
	cmd.Flags().StringVar(&f.staticDir, "static-dir", "", "serve the web client from this directory")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "restart the server when its executable changes")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, f flags) error {
	rt, err := app.Init(ctx, app.Options{
		ConfigPath: f.configPath,
		LogWriter:  logging.WriterStdout,
		Version:    version,
		Mutate: func(c *config.Config) {
			if cmd.Flags().Changed("port") {
				c.Proxy.Port = f.port
			}
			if f.command != "" {
				c.Proxy.Command = f.command
			}
			if f.staticDir != "" {
				c.Proxy.StaticDir = f.staticDir
			}
			if f.watch {
				c.Proxy.WatchBinary = true
			}
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close(context.Background())
	}()

	cfg := rt.Config
	logger := rt.Logger

	if !cfg.DashScope.APIKey.IsSet() {
		logger.Warn(ctx, "DASHSCOPE_API_KEY is not set; the server process will refuse to start")
	}

	command, err := resolveServerCommand(cfg.Proxy.Command)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := proxy.NewMetrics(registry)

	scrubber, err := secrets.New(secrets.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create scrubber: %w", err)
	}

	session := proxy.NewSession(proxy.SessionOptions{
		RequestTimeout: cfg.Proxy.RequestTimeout,
		Logger:         logger.Named("session"),
		Metrics:        metrics,
	})
	sup, err := proxy.NewSupervisor(proxy.SupervisorConfig{
		Command:       command,
		Args:          cfg.Proxy.Args,
		APIKey:        cfg.DashScope.APIKey,
		RestartDelay:  cfg.Proxy.RestartDelay,
		StopTimeout:   cfg.Proxy.ShutdownTimeout,
		ClientVersion: version,
		Logger:        logger.Named("supervisor"),
		Scrubber:      scrubber,
		Metrics:       metrics,
	}, session)
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(sup, logger.Named("http"), &httpapi.Config{
		Host:      cfg.Proxy.Host,
		Port:      cfg.Proxy.Port,
		StaticDir: cfg.Proxy.StaticDir,
		Gatherer:  registry,
		Meter:     rt.Telemetry.Meter("github.com/fyrsmithlabs/dashscope-mcp/internal/http"),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server process %s: %w", command, err)
	}
	if cfg.Proxy.WatchBinary {
		if err := sup.WatchBinary(ctx, command); err != nil {
			logger.Warn(ctx, "cannot watch server binary", zap.String("path", command), zap.Error(err))
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	logger.Info(ctx, "dashscope proxy listening",
		zap.String("addr", cfg.Proxy.Addr()),
		zap.String("command", command),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-sup.Done():
		runErr = errors.New("supervisor stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Proxy.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown incomplete", zap.Error(err))
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "server process shutdown incomplete", zap.Error(err))
	}

	logger.Info(shutdownCtx, "dashscope proxy stopped")
	return runErr
}

// resolveServerCommand finds the stdio server. A bare name that is not on
// PATH is also looked up next to the proxy's own executable.
func resolveServerCommand(command string) (string, error) {
	path, err := proxy.ResolveCommand(command)
	if err == nil {
		return path, nil
	}
	if strings.ContainsRune(command, filepath.Separator) {
		return "", err
	}

	self, selfErr := os.Executable()
	if selfErr != nil {
		return "", err
	}
	if sibling, sibErr := proxy.ResolveCommand(filepath.Join(filepath.Dir(self), command)); sibErr == nil {
		return sibling, nil
	}
	return "", err
}
