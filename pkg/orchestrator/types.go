package orchestrator

import "time"

// Role identifies who produced a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the run transcript.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message carrying any tool calls.
func AssistantMessage(content string, toolCalls []ToolCallRequest) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolMessage builds a tool-role message answering one tool call.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// ToolCallRequest is a model-issued request to invoke a tool. RawArguments
// is untrusted model output and must be parsed and validated before use.
type ToolCallRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RawArguments string `json:"arguments"`
}

// ErrorKind classifies a failed tool call.
type ErrorKind string

const (
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindDenied      ErrorKind = "denied"
	ErrorKindExecution   ErrorKind = "execution"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindInteraction ErrorKind = "interaction"
)

// ErrorInfo describes why a tool call failed. All kinds are recoverable:
// the loop feeds them back to the model as tool results.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ToolResult is the outcome of one tool call within a turn.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Name       string        `json:"name"`
	OK         bool          `json:"ok"`
	Output     string        `json:"output,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
	Error      *ErrorInfo    `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Usage accumulates token accounting across model calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add folds another usage report into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// FinishReason states how a run ended.
type FinishReason string

const (
	FinishCompleted     FinishReason = "completed"
	FinishStepLimit     FinishReason = "stepLimit"
	FinishToolCallLimit FinishReason = "toolCallLimit"
	FinishTimeLimit     FinishReason = "timeLimit"
	FinishError         FinishReason = "error"
	FinishAborted       FinishReason = "aborted"
)

// RunRequest describes one orchestration run.
type RunRequest struct {
	Task         string         `json:"task"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Tools        []string       `json:"tools,omitempty"`
	Temperature  float64        `json:"temperature,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RunResult is the outcome of a run. Messages holds the full transcript
// including the system prompt, even when the run ends early.
type RunResult struct {
	FinalText    string       `json:"final_text"`
	Messages     []Message    `json:"messages"`
	Steps        int          `json:"steps"`
	ToolCalls    int          `json:"tool_calls"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// FallbackFinalText closes runs that end without a definitive answer.
const FallbackFinalText = "[Tool-calling loop ended without a definitive answer.]"

// DefaultSystemPrompt steers the model when the caller provides none.
const DefaultSystemPrompt = "You are FlexyGent. Decide which tools to call and when to stop. " +
	"Ask the user via the 'ui.ask' tool if you need preferences or missing inputs."

// DefaultAskTool is the virtual tool name routed to the interaction port.
const DefaultAskTool = "ui.ask"
