// Package dashscope is a minimal client for the DashScope text-generation API.
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/config"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL     = "https://dashscope.aliyuncs.com/api/v1"
	DefaultModel       = "qwen-turbo"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
	DefaultTopP        = 0.8

	generationPath = "/services/aigc/text-generation/generation"
	defaultTimeout = 60 * time.Second

	// maxErrorBody bounds how much of a failed response is kept in RemoteAPIError.
	maxErrorBody = 64 * 1024
)

// Chatter is the chat capability consumed by the ai_chat tool.
type Chatter interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Client sends chat requests to DashScope. It performs exactly one HTTP
// request per call: no retries.
type Client struct {
	apiKey     config.Secret
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client from the dashscope config section.
// A zero RateLimit disables client-side rate limiting.
func New(cfg config.DashScopeConfig, opts ...Option) (*Client, error) {
	if !cfg.APIKey.IsSet() {
		return nil, config.ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DefaultModelName returns the model used when a request names none.
func (c *Client) DefaultModelName() string {
	return c.model
}

// ChatCompletion sends one blocking generation request.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}

	body := c.buildRequest(req)

	ctx, span := otel.Tracer("dashscope").Start(ctx, "dashscope.ChatCompletion")
	defer span.End()
	span.SetAttributes(
		attribute.String("dashscope.model", body.Model),
		attribute.Int("dashscope.messages", len(body.Input.Messages)),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.doRequest(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("dashscope.request_id", resp.RequestID),
		attribute.Int("dashscope.usage.total_tokens", resp.Usage.TotalTokens),
	)
	c.logger.Debug(ctx, "chat completion finished",
		zap.String("model", body.Model),
		zap.String("request_id", resp.RequestID),
		zap.String("finish_reason", resp.FinishReason),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

// ChatCompletionStream performs the same blocking call as ChatCompletion.
// When onChunk is non-nil it receives the whole content once.
func (c *Client) ChatCompletionStream(ctx context.Context, req ChatRequest, onChunk func(string)) (*ChatResponse, error) {
	resp, err := c.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(resp.Content)
	}
	return resp, nil
}

func (c *Client) buildRequest(req ChatRequest) generationRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := generationParameters{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		TopP:        DefaultTopP,
	}
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		params.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		params.TopP = *req.TopP
	}
	return generationRequest{
		Model:      model,
		Input:      generationInput{Messages: req.Messages},
		Parameters: params,
	}
}

func (c *Client) doRequest(ctx context.Context, body generationRequest) (*ChatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generationPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey.Value())
	httpReq.Header.Set("X-DashScope-SSE", "disable")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dashscope request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RemoteAPIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var gen generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return gen.normalize(), nil
}
