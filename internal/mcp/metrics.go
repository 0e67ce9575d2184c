package mcp

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/dashscope"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/filesystem"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/dashscope-mcp/internal/mcp"

// Metrics holds all MCP-related metrics.
type Metrics struct {
	logger         *logging.Logger
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
	resourceReads  metric.Int64Counter
	tokens         metric.Int64Counter
}

// NewMetrics creates the MCP instruments on meter. Instruments that fail to
// register are logged and skipped.
func NewMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	m := &Metrics{logger: logger}
	m.init(meter)
	return m
}

func (m *Metrics) init(meter metric.Meter) {
	ctx := context.Background()
	var err error

	m.invocations, err = meter.Int64Counter(
		"dashscope_mcp.tool.invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create invocations counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"dashscope_mcp.tool.duration_seconds",
		metric.WithDescription("Duration of MCP tool invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"dashscope_mcp.tool.errors_total",
		metric.WithDescription("Total number of MCP tool errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create errors counter", zap.Error(err))
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"dashscope_mcp.tool.active_requests",
		metric.WithDescription("Number of currently active MCP tool requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create active requests gauge", zap.Error(err))
	}

	m.resourceReads, err = meter.Int64Counter(
		"dashscope_mcp.resource.reads_total",
		metric.WithDescription("Total number of resource reads by outcome"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create resource reads counter", zap.Error(err))
	}

	m.tokens, err = meter.Int64Counter(
		"dashscope_mcp.chat.tokens_total",
		metric.WithDescription("Tokens reported by DashScope, by model and direction"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create tokens counter", zap.Error(err))
	}
}

// RecordInvocation records a tool invocation metric.
func (m *Metrics) RecordInvocation(ctx context.Context, toolName string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("tool", toolName),
	}

	if m.invocations != nil {
		m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		errorAttrs := append(attrs, attribute.String("reason", categorizeError(err)))
		m.errors.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
	}
}

// RecordUsage adds provider-reported token counts.
func (m *Metrics) RecordUsage(ctx context.Context, model string, usage dashscope.Usage) {
	if m.tokens == nil {
		return
	}
	m.tokens.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		attribute.String("model", model), attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		attribute.String("model", model), attribute.String("direction", "output")))
}

// RecordResourceRead records one resources/read by outcome.
func (m *Metrics) RecordResourceRead(ctx context.Context, mimeType string, err error) {
	if m.resourceReads == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = categorizeError(err)
	}
	m.resourceReads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("mime_type", mimeType),
	))
}

// IncrementActive increments the active requests counter.
func (m *Metrics) IncrementActive(ctx context.Context, toolName string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", toolName),
		))
	}
}

// DecrementActive decrements the active requests counter.
func (m *Metrics) DecrementActive(ctx context.Context, toolName string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, -1, metric.WithAttributes(
			attribute.String("tool", toolName),
		))
	}
}

// categorizeError maps an error to a low-cardinality reason label.
func categorizeError(err error) string {
	if err == nil {
		return ""
	}

	var validationErr *ValidationError
	var apiErr *dashscope.RemoteAPIError
	switch {
	case errors.As(err, &validationErr):
		return "validation_error"
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return "auth_error"
		}
		return "upstream_error"
	case errors.Is(err, filesystem.ErrUnsupportedURI):
		return "unsupported_uri"
	case errors.Is(err, fs.ErrNotExist):
		return "not_found"
	case errors.Is(err, fs.ErrPermission):
		return "permission_denied"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal_error"
	}
}
