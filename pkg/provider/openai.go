package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flexygent/flexygent/pkg/orchestrator"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint OpenRouter exposes.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAI implements orchestrator.ModelClient on the official OpenAI SDK.
// It also serves any OpenAI-compatible endpoint via a base URL override.
type OpenAI struct {
	client openai.Client
	name   string
}

// NewOpenAI builds a client against api.openai.com.
func NewOpenAI(apiKey string, opts ...option.RequestOption) *OpenAI {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{
		client: openai.NewClient(all...),
		name:   "openai",
	}
}

// NewOpenRouter builds the same client pointed at OpenRouter.
func NewOpenRouter(apiKey string, opts ...option.RequestOption) *OpenAI {
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(OpenRouterBaseURL),
	}, opts...)
	return &OpenAI{
		client: openai.NewClient(all...),
		name:   "openrouter",
	}
}

// Name returns the provider name.
func (p *OpenAI) Name() string {
	return p.name
}

// Chat sends one completion request and maps the response back.
func (p *OpenAI) Chat(ctx context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case orchestrator.RoleSystem:
			// The system prompt travels in its own parameter.
			continue
		case orchestrator.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case orchestrator.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				toolCalls := []openai.ChatCompletionMessageToolCall{}
				for _, tc := range msg.ToolCalls {
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: tc.RawArguments,
						},
					})
				}
				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				messages = append(messages, assistantMsg.ToParam())
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}
		case orchestrator.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, spec := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]

	toolCalls := []orchestrator.ToolCallRequest{}
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, orchestrator.ToolCallRequest{
			ID:           tc.ID,
			Name:         tc.Function.Name,
			RawArguments: tc.Function.Arguments,
		})
	}

	return &orchestrator.ChatResponse{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: orchestrator.Usage{
			PromptTokens:     int(response.Usage.PromptTokens),
			CompletionTokens: int(response.Usage.CompletionTokens),
			TotalTokens:      int(response.Usage.TotalTokens),
		},
	}, nil
}
