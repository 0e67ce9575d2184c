// Package logging provides structured logging for the dashscope-mcp binaries.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug) for wire-level JSON-RPC dumps
//   - A selectable writer (stdout or stderr) plus optional OpenTelemetry output
//   - Automatic context field injection (trace_id, request.id, session.id, rpc.id)
//   - Secret redaction by field name and value pattern
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging, logging.WriterStderr)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRPCID(ctx, 42)
//	logger.Info(ctx, "request sent", zap.String("method", "tools/call"))
//
// The stdio server must log to stderr: stdout carries the protocol stream.
//
// # Secret Redaction
//
// Secrets are redacted at two layers:
//  1. Type level: config.Secret prints as [REDACTED]; use logging.Secret for fields.
//  2. Encoder level: RedactingEncoder masks sensitive keys (api_key,
//     authorization, ...) and values matching bearer or sk- key patterns.
//
// # Testing
//
// NewTestLogger captures every entry through zaptest/observer:
//
//	logger := logging.NewTestLogger()
//	doWork(logger.Logger)
//	logger.AssertLogged(t, zapcore.InfoLevel, "child started")
package logging
