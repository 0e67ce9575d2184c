package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/proxy"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/telemetry"
)

type call struct {
	method string
	params json.RawMessage
}

// fakeCaller answers from canned results keyed by method.
type fakeCaller struct {
	mu      sync.Mutex
	results map[string]string
	errs    map[string]error
	status  proxy.Status
	calls   []call
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		results: map[string]string{},
		errs:    map[string]error{},
		status:  proxy.Status{Status: proxy.StatusConnected, PID: 4242},
	}
}

func (f *fakeCaller) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	raw, _ := json.Marshal(params)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: method, params: raw})
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	return json.RawMessage(f.results[method]), nil
}

func (f *fakeCaller) Status() proxy.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeCaller) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

type testServer struct {
	*Server
	caller *fakeCaller
	logger *logging.TestLogger
	tel    *telemetry.TestTelemetry
}

func setupTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()

	ts := &testServer{
		caller: newFakeCaller(),
		logger: logging.NewTestLogger(),
		tel:    telemetry.NewTestTelemetry(),
	}
	cfg := &Config{
		Host:     "localhost",
		Port:     3000,
		Gatherer: prometheus.NewRegistry(),
		Meter:    ts.tel.Meter(httpInstrumentationName),
	}
	for _, m := range mutate {
		m(cfg)
	}

	var err error
	ts.Server, err = NewServer(ts.caller, ts.logger.Logger, cfg)
	require.NoError(t, err)
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestNewServer(t *testing.T) {
	t.Run("requires a caller", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("requires a logger", func(t *testing.T) {
		_, err := NewServer(newFakeCaller(), nil, nil)
		assert.Error(t, err)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(newFakeCaller(), logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 3000, server.config.Port)
		assert.NotNil(t, server.config.Gatherer)
	})

	t.Run("rejects a missing static dir", func(t *testing.T) {
		_, err := NewServer(newFakeCaller(), logging.NewNop(), &Config{
			StaticDir: filepath.Join(t.TempDir(), "missing"),
		})
		assert.Error(t, err)
	})
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/api/mcp/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"connected","pid":4242}`, rec.Body.String())

	ts.caller.status = proxy.Status{Status: proxy.StatusDisconnected}
	rec = ts.do(http.MethodGet, "/api/mcp/status", "")
	assert.JSONEq(t, `{"status":"disconnected"}`, rec.Body.String())
}

func TestListTools(t *testing.T) {
	ts := setupTestServer(t)
	ts.caller.results["tools/list"] = `{"tools":[{"name":"ai_chat"}]}`

	rec := ts.do(http.MethodGet, "/api/mcp/tools", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tools":[{"name":"ai_chat"}]}`, rec.Body.String())
	assert.Equal(t, "tools/list", ts.caller.last().method)
}

func TestCallTool(t *testing.T) {
	t.Run("forwards name and arguments", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.caller.results["tools/call"] = `{"content":[{"type":"text","text":"hi"}]}`

		rec := ts.do(http.MethodPost, "/api/mcp/tools/call", `{"name":"ai_chat","arguments":{"message":"hello"}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"content":[{"type":"text","text":"hi"}]}`, rec.Body.String())
		got := ts.caller.last()
		assert.Equal(t, "tools/call", got.method)
		assert.JSONEq(t, `{"name":"ai_chat","arguments":{"message":"hello"}}`, string(got.params))
	})

	t.Run("arguments default to an empty object", func(t *testing.T) {
		for _, body := range []string{`{"name":"ai_chat"}`, `{"name":"ai_chat","arguments":null}`} {
			ts := setupTestServer(t)
			rec := ts.do(http.MethodPost, "/api/mcp/tools/call", body)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"name":"ai_chat","arguments":{}}`, string(ts.caller.last().params))
		}
	})

	t.Run("missing name is a bad request", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodPost, "/api/mcp/tools/call", `{"arguments":{}}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "tool name is required", errorBody(t, rec))
		assert.Empty(t, ts.caller.calls)
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodPost, "/api/mcp/tools/call", `not json`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid request body", errorBody(t, rec))
	})

	t.Run("proxy failure is a server error", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.caller.errs["tools/call"] = &proxy.TimeoutError{ID: 7, Method: "tools/call", After: 30 * time.Second}

		rec := ts.do(http.MethodPost, "/api/mcp/tools/call", `{"name":"ai_chat"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "request 7 (tools/call) timed out after 30s", errorBody(t, rec))
		ts.logger.AssertLogged(t, zapcore.WarnLevel, "proxied request failed")
	})

	t.Run("child not running is a server error", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.caller.errs["tools/call"] = &proxy.TransportError{Op: "send tools/call", Err: proxy.ErrNotRunning}

		rec := ts.do(http.MethodPost, "/api/mcp/tools/call", `{"name":"ai_chat"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, errorBody(t, rec), "transport error")
	})
}

func TestResources(t *testing.T) {
	t.Run("lists resources", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.caller.results["resources/list"] = `{"resources":[{"uri":"file://","name":"filesystem"}]}`

		rec := ts.do(http.MethodGet, "/api/mcp/resources", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"resources":[{"uri":"file://","name":"filesystem"}]}`, rec.Body.String())
	})

	t.Run("reads a resource", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.caller.results["resources/read"] = `{"contents":[{"uri":"file:///tmp/a","text":"x"}]}`

		rec := ts.do(http.MethodPost, "/api/mcp/resources/read", `{"uri":"file:///tmp/a"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"uri":"file:///tmp/a"}`, string(ts.caller.last().params))
	})

	t.Run("missing uri is a bad request", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodPost, "/api/mcp/resources/read", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "resource URI is required", errorBody(t, rec))
	})

	t.Run("rpc error is a server error", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.caller.errs["resources/read"] = &proxy.RPCError{Code: -32002, Message: "Resource not found"}

		rec := ts.do(http.MethodPost, "/api/mcp/resources/read", `{"uri":"http://x"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "rpc error -32002: Resource not found", errorBody(t, rec))
	})
}

func TestUnknownRoute(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(http.MethodGet, "/api/mcp/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, errorBody(t, rec))
}

func TestWebClient(t *testing.T) {
	t.Run("serves the embedded client", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodGet, "/", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "/api/mcp")
	})

	t.Run("serves a static dir override", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("custom client"), 0o644))

		ts := setupTestServer(t, func(c *Config) { c.StaticDir = dir })
		rec := ts.do(http.MethodGet, "/", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "custom client", rec.Body.String())
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("allows any origin", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodGet, "/api/mcp/status", nil)
		req.Header.Set(echo.HeaderOrigin, "http://example.test")
		rec := httptest.NewRecorder()
		ts.echo.ServeHTTP(rec, req)

		assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	})

	t.Run("logs requests with their request id", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodGet, "/health", "")

		id := rec.Header().Get(echo.HeaderXRequestID)
		require.NotEmpty(t, id)
		ts.logger.AssertField(t, "http request", "request.id", id)
		ts.logger.AssertField(t, "http request", "status", int64(http.StatusOK))
	})

	t.Run("logs the status of failed requests", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.do(http.MethodPost, "/api/mcp/tools/call", `{}`)

		ts.logger.AssertField(t, "http request", "status", int64(http.StatusBadRequest))
	})
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "dashscope_proxy_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	ts := setupTestServer(t, func(c *Config) { c.Gatherer = reg })
	rec := ts.do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dashscope_proxy_test_total 1")
}
