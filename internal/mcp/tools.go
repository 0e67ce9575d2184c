package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/dashscope"
)

const (
	// ChatToolName is the name of the only tool this server exposes.
	ChatToolName = "ai_chat"

	chatMaxTokens  = 2000
	minTemperature = 0.0
	maxTemperature = 1.0
)

// ValidationError reports a tool argument that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

type chatInput struct {
	Message      string   `json:"message"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// chatInputSchema is advertised in tools/list. Arguments are checked by
// decodeChatInput so that failures carry a ValidationError.
func chatInputSchema(defaultModel string) *jsonschema.Schema {
	model, _ := json.Marshal(defaultModel)
	temperature, _ := json.Marshal(dashscope.DefaultTemperature)

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"message": {
				Type:        "string",
				Description: "The user message to send to the model",
			},
			"system_prompt": {
				Type:        "string",
				Description: "Optional system prompt that sets the assistant's behavior",
			},
			"model": {
				Type:        "string",
				Description: "DashScope model name",
				Default:     model,
			},
			"temperature": {
				Type:        "number",
				Description: "Sampling temperature",
				Minimum:     jsonschema.Ptr(minTemperature),
				Maximum:     jsonschema.Ptr(maxTemperature),
				Default:     temperature,
			},
		},
		Required: []string{"message"},
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        ChatToolName,
		Description: "Send a message to a DashScope (Qwen) model and return its reply with token usage",
		InputSchema: chatInputSchema(s.defaultModel),
	}, s.handleChat)
}

func (s *Server) handleChat(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, ChatToolName)
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, ChatToolName)
		s.metrics.RecordInvocation(ctx, ChatToolName, time.Since(start), toolErr)
	}()

	args, err := s.decodeChatInput(req.Params.Arguments)
	if err != nil {
		toolErr = err
		return errorResult(err), nil
	}

	messages := make([]dashscope.Message, 0, 2)
	if args.SystemPrompt != "" {
		messages = append(messages, dashscope.Message{Role: dashscope.RoleSystem, Content: args.SystemPrompt})
	}
	messages = append(messages, dashscope.Message{Role: dashscope.RoleUser, Content: args.Message})

	resp, err := s.chat.ChatCompletion(ctx, dashscope.ChatRequest{
		Model:       args.Model,
		Messages:    messages,
		Temperature: args.Temperature,
		MaxTokens:   dashscope.Int(chatMaxTokens),
	})
	if err != nil {
		toolErr = fmt.Errorf("AI call failed: %w", err)
		s.logger.Warn(ctx, "ai_chat failed", zap.String("model", args.Model), zap.Error(err))
		return errorResult(toolErr), nil
	}

	s.metrics.RecordUsage(ctx, args.Model, resp.Usage)
	s.logger.Info(ctx, "ai_chat completed",
		zap.String("model", args.Model),
		zap.String("request_id", resp.RequestID),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: formatReply(args.Model, resp)}},
	}, nil
}

// decodeChatInput parses arguments, applies defaults and validates them.
func (s *Server) decodeChatInput(raw json.RawMessage) (*chatInput, error) {
	var args chatInput
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) && typeErr.Field != "" {
				return nil, &ValidationError{Field: typeErr.Field, Reason: "must be a " + jsonKind(typeErr.Type)}
			}
			return nil, &ValidationError{Field: "arguments", Reason: "must be a JSON object"}
		}
	}

	if strings.TrimSpace(args.Message) == "" {
		return nil, &ValidationError{Field: "message", Reason: "is required"}
	}
	if args.Model == "" {
		args.Model = s.defaultModel
	}
	if args.Temperature == nil {
		args.Temperature = dashscope.Float64(dashscope.DefaultTemperature)
	}
	if t := *args.Temperature; t < minTemperature || t > maxTemperature {
		return nil, &ValidationError{
			Field:  "temperature",
			Reason: fmt.Sprintf("must be between %g and %g, got %g", minTemperature, maxTemperature, t),
		}
	}
	return &args, nil
}

// jsonKind names t the way a JSON schema would.
func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
		return "number"
	default:
		return t.Kind().String()
	}
}

func formatReply(model string, resp *dashscope.ChatResponse) string {
	return fmt.Sprintf("AI reply (model: %s):\n\n%s\n\n---\nToken usage: input %d, output %d, total %d",
		model,
		resp.Content,
		resp.Usage.InputTokens,
		resp.Usage.OutputTokens,
		resp.Usage.TotalTokens,
	)
}

// errorResult folds err into an error-shaped tool result.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "error: " + err.Error()}},
		IsError: true,
	}
}
