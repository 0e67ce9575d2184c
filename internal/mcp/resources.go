package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/filesystem"
)

const (
	// FileResourceURI is the advertised root of the file system resource.
	FileResourceURI = filesystem.Scheme

	fileResourceTemplate = filesystem.Scheme + "{+path}"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         FileResourceURI,
		Name:        "filesystem",
		Description: "Local file system access",
		MIMEType:    filesystem.MIMEText,
	}, s.readFile)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: fileResourceTemplate,
		Name:        "file",
		Description: "A local file (raw text) or directory (JSON listing)",
	}, s.readFile)
}

// readFile serves a file:// URI. Filesystem failures are returned as an
// error-shaped text content, never as a protocol error.
func (s *Server) readFile(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI

	content, err := filesystem.ReadURI(uri)
	s.metrics.RecordResourceRead(ctx, mimeOf(content), err)
	if err != nil {
		s.logger.Warn(ctx, "resource read failed", zap.String("uri", uri), zap.Error(err))
		return errorContents(uri, err), nil
	}

	text := content.Text
	if s.scrubFiles {
		if res := s.scrubber.Scrub(text); res.HasFindings() {
			s.logger.Info(ctx, "redacted secrets from file resource",
				zap.String("uri", uri),
				zap.Strings("rules", res.RuleIDs()),
			)
			text = res.Scrubbed
		}
	}

	s.logger.Debug(ctx, "resource read", zap.String("uri", uri), zap.String("mime_type", content.MIMEType))
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: content.MIMEType,
			Text:     text,
		}},
	}, nil
}

func mimeOf(c *filesystem.Content) string {
	if c == nil {
		return filesystem.MIMEText
	}
	return c.MIMEType
}

// errorContents folds err into an error-shaped resource result.
func errorContents(uri string, err error) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: filesystem.MIMEText,
			Text:     "error: " + err.Error(),
		}},
	}
}
