// Package mcp implements the dashscope-mcp protocol server.
//
// The server is built on the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers a single tool, ai_chat, backed by the DashScope chat client,
// and a single resource scheme, file://, backed by the local file system.
//
// Tool and resource failures never surface as protocol errors. Handler
// failures, unknown tool names and unresolvable URIs are folded into
// error-shaped results (isError for tools, an "error: ..." text content for
// resources) by a receiving middleware, so a client always gets a
// well-formed response and the server keeps serving.
package mcp
