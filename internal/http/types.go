package http

import "encoding/json"

// CallToolRequest is the request body for POST /api/mcp/tools/call.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ReadResourceRequest is the request body for POST /api/mcp/resources/read.
type ReadResourceRequest struct {
	URI string `json:"uri"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// callToolParams is forwarded as tools/call params.
type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// readResourceParams is forwarded as resources/read params.
type readResourceParams struct {
	URI string `json:"uri"`
}
