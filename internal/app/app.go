// Package app assembles the shared runtime of the dashscope-mcp binaries:
// configuration, logging and telemetry.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/config"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/telemetry"
)

// Runtime holds the initialized ambient services of one process.
type Runtime struct {
	Config    *config.Config
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
}

// Options selects how a binary initializes its runtime.
type Options struct {
	// ConfigPath is the YAML file to load ("" uses config.DefaultPath).
	ConfigPath string

	// LogWriter is logging.WriterStdout or logging.WriterStderr.
	LogWriter string

	// Version is reported to telemetry as the service version.
	Version string

	// Mutate adjusts the loaded configuration before it is validated again,
	// e.g. to apply command-line flags.
	Mutate func(*config.Config)
}

// Init loads configuration and starts telemetry and logging.
// Callers must Close the returned Runtime.
func Init(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.LoadWithFile(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Mutate != nil {
		opts.Mutate(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, opts.Version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging, opts.LogWriter)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", health.Reason))
	}

	return &Runtime{Config: cfg, Logger: logger, Telemetry: tel}, nil
}

// Close flushes telemetry and the logger.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.Logger.Sync(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
