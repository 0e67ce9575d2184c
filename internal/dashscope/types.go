package dashscope

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the input to ChatCompletion. Nil sampling parameters fall
// back to the package defaults; an explicit zero is sent as zero.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// Usage holds token counts reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatResponse is the normalized result of one completion.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	RequestID    string
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// generationRequest is the wire body of the text-generation endpoint.
type generationRequest struct {
	Model      string               `json:"model"`
	Input      generationInput      `json:"input"`
	Parameters generationParameters `json:"parameters"`
}

type generationInput struct {
	Messages []Message `json:"messages"`
}

type generationParameters struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
}

// generationResponse covers both response shapes the endpoint returns:
// the legacy output.text form and the message-style output.choices form.
type generationResponse struct {
	Output struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
		Choices      []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	} `json:"output"`
	Usage     Usage  `json:"usage"`
	RequestID string `json:"request_id"`
}

// normalize flattens either response shape into a ChatResponse.
func (g *generationResponse) normalize() *ChatResponse {
	resp := &ChatResponse{
		Content:      g.Output.Text,
		FinishReason: g.Output.FinishReason,
		Usage:        g.Usage,
		RequestID:    g.RequestID,
	}
	if len(g.Output.Choices) > 0 {
		first := g.Output.Choices[0]
		if resp.Content == "" {
			resp.Content = first.Message.Content
		}
		if resp.FinishReason == "" {
			resp.FinishReason = first.FinishReason
		}
	}
	if resp.FinishReason == "" {
		resp.FinishReason = "stop"
	}
	return resp
}
