package coretools

import (
	"context"
	"errors"

	"github.com/flexygent/flexygent/pkg/tool"
)

// askTool is virtual. It exposes a schema so the model can request user
// input, but the orchestrator intercepts calls to it and routes them to the
// interaction port. Execute only runs if something bypasses the loop.
type askTool struct{}

func (t *askTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "ui.ask",
		Description: "Ask the user for input when a preference or missing detail is needed.",
		Tags:        []string{"ui", "interaction"},
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "Question to present to the user.",
				},
				"options": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional multiple-choice options.",
				},
				"allow_free_text": map[string]any{
					"type":        "boolean",
					"description": "Whether to allow arbitrary text answers.",
				},
			},
			"required": []string{"question"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"answer":          map[string]any{"type": "string"},
				"selected_option": map[string]any{"type": "string"},
			},
			"required": []string{"answer"},
		},
	}
}

func (t *askTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return nil, errors.New("ui.ask is a virtual tool routed to the interaction port and cannot be executed directly")
}
