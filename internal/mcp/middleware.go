package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/filesystem"
)

const (
	methodCallTool     = "tools/call"
	methodReadResource = "resources/read"
)

// foldErrors turns protocol errors raised by the SDK for tools/call and
// resources/read (unknown tool, unmatched URI) into error-shaped results.
func (s *Server) foldErrors(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		res, err := next(ctx, method, req)
		if err == nil {
			return res, nil
		}

		switch method {
		case methodCallTool:
			name := ""
			if r, ok := req.(*mcp.CallToolRequest); ok && r.Params != nil {
				name = r.Params.Name
			}
			s.logger.Warn(ctx, "tool call rejected", zap.String("tool", name), zap.Error(err))
			s.metrics.RecordInvocation(ctx, name, 0, err)
			return errorResult(err), nil

		case methodReadResource:
			r, ok := req.(*mcp.ReadResourceRequest)
			if !ok || r.Params == nil || r.Params.URI == "" {
				return nil, err
			}
			uri := r.Params.URI
			if !isResourceNotFound(err) {
				return errorContents(uri, err), nil
			}
			// The template only matches URI-safe paths. Anything else under
			// file:// is still ours.
			if strings.HasPrefix(uri, filesystem.Scheme) {
				return s.readFile(ctx, r)
			}
			unsupported := fmt.Errorf("%w: %s", filesystem.ErrUnsupportedURI, uri)
			s.metrics.RecordResourceRead(ctx, filesystem.MIMEText, unsupported)
			s.logger.Warn(ctx, "resource read rejected", zap.String("uri", uri))
			return errorContents(uri, unsupported), nil
		}

		return res, err
	}
}

func isResourceNotFound(err error) bool {
	var wireErr *jsonrpc.Error
	return errors.As(err, &wireErr) && wireErr.Code == mcp.CodeResourceNotFound
}
