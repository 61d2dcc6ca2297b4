package orchestrator

import (
	"context"

	"github.com/flexygent/flexygent/pkg/tool"
)

// ChatRequest is one model invocation: the transcript so far plus the tool
// specs the model may call this turn.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []tool.Spec
	Temperature  float64
	MaxTokens    int
}

// ChatResponse is the model's reply: final text, tool call requests, or
// both (content accompanying tool calls is kept in the transcript).
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCallRequest
	Usage     Usage
}

// ModelClient abstracts a chat-completion provider with tool calling.
type ModelClient interface {
	// Chat performs one completion. Implementations must honor ctx.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name identifies the provider in logs and metrics.
	Name() string
}
