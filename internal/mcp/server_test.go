package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/dashscope"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/telemetry"
)

// fakeChat records requests and answers with resp or err.
type fakeChat struct {
	mu   sync.Mutex
	reqs []dashscope.ChatRequest
	resp *dashscope.ChatResponse
	err  error
}

func (f *fakeChat) ChatCompletion(_ context.Context, req dashscope.ChatRequest) (*dashscope.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeChat) last(t *testing.T) dashscope.ChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.reqs, "chat client was not called")
	return f.reqs[len(f.reqs)-1]
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type harness struct {
	client *mcp.ClientSession
	chat   *fakeChat
	logger *logging.TestLogger
	tel    *telemetry.TestTelemetry
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		chat: &fakeChat{resp: &dashscope.ChatResponse{
			Content:      "Hello there",
			FinishReason: "stop",
			Usage:        dashscope.Usage{InputTokens: 3, OutputTokens: 5, TotalTokens: 8},
			RequestID:    "req-1",
		}},
		logger: logging.NewTestLogger(),
		tel:    telemetry.NewTestTelemetry(),
	}

	cfg := DefaultConfig()
	cfg.Logger = h.logger.Logger
	cfg.Meter = h.tel.Meter(instrumentationName)
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := NewServer(cfg, h.chat)
	require.NoError(t, err)

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	h.client, err = client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.client.Close() })

	return h
}

func (h *harness) call(t *testing.T, name string, args any) (*mcp.CallToolResult, string) {
	t.Helper()
	res, err := h.client.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err, "tool failures must not surface as protocol errors")
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return res, text.Text
}

func (h *harness) read(t *testing.T, uri string) *mcp.ResourceContents {
	t.Helper()
	res, err := h.client.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: uri})
	require.NoError(t, err, "resource failures must not surface as protocol errors")
	require.Len(t, res.Contents, 1)
	return res.Contents[0]
}

func TestNewServer_RequiresChatClient(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestListTools(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.client.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Tools, 1)

	tool := res.Tools[0]
	assert.Equal(t, ChatToolName, tool.Name)

	raw, err := json.Marshal(tool.InputSchema)
	require.NoError(t, err)
	var schema struct {
		Type       string                     `json:"type"`
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"message"}, schema.Required)
	assert.Contains(t, schema.Properties, "system_prompt")
	assert.Contains(t, schema.Properties, "model")
	assert.JSONEq(t, `{"type":"number","description":"Sampling temperature","minimum":0,"maximum":1,"default":0.7}`,
		string(schema.Properties["temperature"]))
}

func TestAIChat_FormatsReply(t *testing.T) {
	h := newHarness(t, nil)

	res, text := h.call(t, ChatToolName, map[string]any{
		"message":       "hi",
		"system_prompt": "be brief",
	})
	assert.False(t, res.IsError)
	assert.Equal(t,
		"AI reply (model: qwen-turbo):\n\nHello there\n\n---\nToken usage: input 3, output 5, total 8",
		text)

	req := h.chat.last(t)
	assert.Equal(t, "qwen-turbo", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, dashscope.Message{Role: dashscope.RoleSystem, Content: "be brief"}, req.Messages[0])
	assert.Equal(t, dashscope.Message{Role: dashscope.RoleUser, Content: "hi"}, req.Messages[1])
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.7, *req.Temperature)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 2000, *req.MaxTokens)
	assert.Nil(t, req.TopP)

	h.logger.AssertLogged(t, zapcore.InfoLevel, "ai_chat completed")
}

func TestAIChat_ExplicitModelAndZeroTemperature(t *testing.T) {
	h := newHarness(t, nil)

	_, text := h.call(t, ChatToolName, map[string]any{
		"message":     "hi",
		"model":       "qwen-max",
		"temperature": 0,
	})
	assert.True(t, strings.HasPrefix(text, "AI reply (model: qwen-max):"))

	req := h.chat.last(t)
	assert.Equal(t, "qwen-max", req.Model)
	require.Len(t, req.Messages, 1, "no system message without system_prompt")
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.0, *req.Temperature)
}

func TestAIChat_ConfiguredDefaultModel(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DefaultModel = "qwen-plus" })

	_, text := h.call(t, ChatToolName, map[string]any{"message": "hi"})
	assert.Contains(t, text, "(model: qwen-plus)")
}

func TestAIChat_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		args  any
		field string
	}{
		{"missing message", map[string]any{}, `"message"`},
		{"nil arguments", nil, `"message"`},
		{"blank message", map[string]any{"message": "  "}, `"message"`},
		{"message wrong type", map[string]any{"message": 42}, `"message": must be a string`},
		{"temperature too high", map[string]any{"message": "hi", "temperature": 1.5}, `"temperature"`},
		{"temperature negative", map[string]any{"message": "hi", "temperature": -0.1}, `"temperature"`},
		{"temperature wrong type", map[string]any{"message": "hi", "temperature": "hot"}, `"temperature": must be a number`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)

			res, text := h.call(t, ChatToolName, tt.args)
			assert.True(t, res.IsError)
			assert.True(t, strings.HasPrefix(text, "error: invalid argument "), text)
			assert.Contains(t, text, tt.field)
			assert.Zero(t, h.chat.calls(), "invalid input must not reach the chat client")
		})
	}
}

func TestAIChat_RemoteFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.chat.err = &dashscope.RemoteAPIError{StatusCode: 500, Body: "boom"}

	res, text := h.call(t, ChatToolName, map[string]any{"message": "hi"})
	assert.True(t, res.IsError)
	assert.Equal(t, "error: AI call failed: dashscope API error: 500 boom", text)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "ai_chat failed")
}

func TestCallTool_UnknownToolKeepsServing(t *testing.T) {
	h := newHarness(t, nil)

	res, text := h.call(t, "no_such_tool", map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, text, `unknown tool "no_such_tool"`)

	// The session is still usable.
	tools, err := h.client.ListTools(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 1)

	_, text = h.call(t, ChatToolName, map[string]any{"message": "still there?"})
	assert.Contains(t, text, "Hello there")
}

func TestListResources(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.client.ListResources(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Resources, 1)
	assert.Equal(t, "file://", res.Resources[0].URI)
	assert.Equal(t, "filesystem", res.Resources[0].Name)
	assert.Equal(t, "Local file system access", res.Resources[0].Description)
	assert.Equal(t, "text/plain", res.Resources[0].MIMEType)

	templates, err := h.client.ListResourceTemplates(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, templates.ResourceTemplates, 1)
	assert.Equal(t, "file://{+path}", templates.ResourceTemplates[0].URITemplate)
}

func TestReadResource_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o600))

	h := newHarness(t, nil)
	c := h.read(t, "file://"+path)
	assert.Equal(t, "file://"+path, c.URI)
	assert.Equal(t, "text/plain", c.MIMEType)
	assert.Equal(t, "line one\nline two\n", c.Text)
}

func TestReadResource_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))

	h := newHarness(t, nil)
	c := h.read(t, "file://"+dir)
	assert.Equal(t, "application/json", c.MIMEType)
	assert.JSONEq(t, `{"files":["a.txt","sub"]}`, c.Text)
}

func TestReadResource_PathOutsideTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "my notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("spaced"), 0o600))

	h := newHarness(t, nil)
	c := h.read(t, "file://"+path)
	assert.Equal(t, "spaced", c.Text)
}

func TestReadResource_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.txt")

	h := newHarness(t, nil)
	c := h.read(t, "file://"+missing)
	assert.Equal(t, "text/plain", c.MIMEType)
	assert.Equal(t, "error: filesystem error: stat "+missing+": no such file or directory", c.Text)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "resource read failed")

	// Later reads on the same session still work.
	dir := t.TempDir()
	c = h.read(t, "file://"+dir)
	assert.JSONEq(t, `{"files":[]}`, c.Text)
}

func TestReadResource_UnsupportedScheme(t *testing.T) {
	h := newHarness(t, nil)
	c := h.read(t, "https://example.com/x")
	assert.Equal(t, "error: unsupported resource URI: https://example.com/x", c.Text)
}

func TestReadResource_ScrubsSecretsWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DASHSCOPE_API_KEY=sk-0123456789abcdefghij\nPORT=3000\n"), 0o600))

	plain := newHarness(t, nil)
	assert.Contains(t, plain.read(t, "file://"+path).Text, "sk-0123456789abcdefghij")

	scrubbed := newHarness(t, func(c *Config) { c.ScrubFileSecrets = true })
	text := scrubbed.read(t, "file://"+path).Text
	assert.NotContains(t, text, "sk-0123456789abcdefghij")
	assert.Contains(t, text, "[REDACTED]")
	assert.Contains(t, text, "PORT=3000")
}

func TestMetrics_RecordsInvocationsAndErrors(t *testing.T) {
	h := newHarness(t, nil)

	h.call(t, ChatToolName, map[string]any{"message": "hi"})
	h.call(t, ChatToolName, map[string]any{})

	rm, err := h.tel.Collect(context.Background())
	require.NoError(t, err)

	_, ok := telemetry.FindMetric(rm, "dashscope_mcp.tool.invocations_total")
	assert.True(t, ok)
	_, ok = telemetry.FindMetric(rm, "dashscope_mcp.tool.errors_total")
	assert.True(t, ok)
	_, ok = telemetry.FindMetric(rm, "dashscope_mcp.chat.tokens_total")
	assert.True(t, ok)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ValidationError{Field: "message", Reason: "is required"}, "validation_error"},
		{&dashscope.RemoteAPIError{StatusCode: 401}, "auth_error"},
		{&dashscope.RemoteAPIError{StatusCode: 503}, "upstream_error"},
		{os.ErrNotExist, "not_found"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("other"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), tt.err.Error())
	}
}
