package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProxyClient calls the dashscope-proxy JSON API.
type ProxyClient struct {
	baseURL string
	client  *http.Client
}

// NewProxyClient creates a client for the proxy at baseURL.
func NewProxyClient(baseURL string, timeout time.Duration) *ProxyClient {
	return &ProxyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ProxyError is a non-200 answer from the proxy.
type ProxyError struct {
	StatusCode int
	Message    string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy returned status %d: %s", e.StatusCode, e.Message)
}

// Status mirrors GET /api/mcp/status.
type Status struct {
	Status string `json:"status"`
	PID    int    `json:"pid,omitempty"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the result of tools/call.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text joins the text items of r.
func (r ToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ResourceContents is one item of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ReadResult is the result of resources/read.
type ReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

// Tool describes one listed tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource describes one listed resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

func (c *ProxyClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &ProxyError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Status returns the supervised server's status.
func (c *ProxyClient) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, http.MethodGet, "/api/mcp/status", nil, &s)
	return s, err
}

// Tools lists the server's tools.
func (c *ProxyClient) Tools(ctx context.Context) ([]Tool, error) {
	var res struct {
		Tools []Tool `json:"tools"`
	}
	err := c.do(ctx, http.MethodGet, "/api/mcp/tools", nil, &res)
	return res.Tools, err
}

// Resources lists the server's resources.
func (c *ProxyClient) Resources(ctx context.Context) ([]Resource, error) {
	var res struct {
		Resources []Resource `json:"resources"`
	}
	err := c.do(ctx, http.MethodGet, "/api/mcp/resources", nil, &res)
	return res.Resources, err
}

// CallTool invokes a tool by name.
func (c *ProxyClient) CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	var res ToolResult
	err := c.do(ctx, http.MethodPost, "/api/mcp/tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}, &res)
	return res, err
}

// Read reads a resource by URI.
func (c *ProxyClient) Read(ctx context.Context, uri string) (ReadResult, error) {
	var res ReadResult
	err := c.do(ctx, http.MethodPost, "/api/mcp/resources/read", map[string]string{"uri": uri}, &res)
	return res, err
}
