package provider

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flexygent/flexygent/pkg/orchestrator"
)

// The Messages API rejects requests without max_tokens.
const defaultMaxTokens = 4096

// Anthropic implements orchestrator.ModelClient on the official
// Anthropic SDK.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic builds a client against api.anthropic.com.
func NewAnthropic(apiKey string, opts ...option.RequestOption) *Anthropic {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client: anthropic.NewClient(all...),
	}
}

// Name returns the provider name.
func (p *Anthropic) Name() string {
	return "anthropic"
}

// Chat sends one Messages API request and maps the response back.
func (p *Anthropic) Chat(ctx context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	anthropicMessages := []anthropic.MessageParam{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case orchestrator.RoleSystem:
			// The system prompt travels in its own parameter.
			continue
		case orchestrator.RoleTool:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case orchestrator.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				blocks := []anthropic.ContentBlockParamUnion{}
				if msg.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
				}
				for _, tc := range msg.ToolCalls {
					blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolUseInput(tc.RawArguments), tc.Name))
				}
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			} else {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role: anthropic.MessageParamRoleAssistant,
					Content: []anthropic.ContentBlockParamUnion{
						anthropic.NewTextBlock(msg.Content),
					},
				})
			}
		case orchestrator.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  anthropicMessages,
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}
	if req.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := []anthropic.ToolUnionParam{}
		for _, spec := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.Parameters["properties"],
				},
			}
			if required, ok := spec.Parameters["required"]; ok {
				switch vals := required.(type) {
				case []string:
					toolParam.InputSchema.Required = vals
				case []interface{}:
					strSlice := make([]string, 0, len(vals))
					for _, v := range vals {
						if s, ok := v.(string); ok {
							strSlice = append(strSlice, s)
						}
					}
					toolParam.InputSchema.Required = strSlice
				}
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		reqParams.Tools = tools
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	content := ""
	toolCalls := []orchestrator.ToolCallRequest{}
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, orchestrator.ToolCallRequest{
				ID:           b.ID,
				Name:         b.Name,
				RawArguments: b.JSON.Input.Raw(),
			})
		}
	}

	return &orchestrator.ChatResponse{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: orchestrator.Usage{
			PromptTokens:     int(response.Usage.InputTokens),
			CompletionTokens: int(response.Usage.OutputTokens),
			TotalTokens:      int(response.Usage.InputTokens + response.Usage.OutputTokens),
		},
	}, nil
}

// toolUseInput revives raw arguments into the object form tool_use
// blocks require. Unparseable arguments, which only appear in
// transcripts imported from elsewhere, degrade to an empty object.
func toolUseInput(raw string) map[string]any {
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil || input == nil {
		return map[string]any{}
	}
	return input
}
