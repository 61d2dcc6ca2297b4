package coretools

import (
	"context"
	"strings"
	"time"

	"github.com/flexygent/flexygent/pkg/tool"
)

// echoTool returns its input, optionally uppercased, repeated, and delayed.
// The delay makes it useful for exercising timeouts and concurrency limits.
type echoTool struct {
	maxConcurrency int
}

func (t *echoTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:           "system.echo",
		Description:    "Echo a string with optional uppercasing and repetition.",
		Tags:           []string{"utility", "testing", "example"},
		Timeout:        5 * time.Second,
		MaxConcurrency: t.maxConcurrency,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Text to echo back.",
				},
				"uppercase": map[string]any{
					"type":        "boolean",
					"description": "If true, return the text in uppercase.",
				},
				"repeat": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     10,
					"description": "Number of times to repeat the text (1-10).",
				},
				"delay_ms": map[string]any{
					"type":        "integer",
					"minimum":     0,
					"maximum":     5000,
					"description": "Optional artificial delay in milliseconds.",
				},
			},
			"required": []string{"text"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"result": map[string]any{"type": "string"},
				"length": map[string]any{"type": "integer"},
			},
			"required": []string{"result", "length"},
		},
	}
}

func (t *echoTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	text := stringArg(args, "text", "")
	uppercase := boolArg(args, "uppercase", false)
	repeat := intArg(args, "repeat", 1)
	delayMs := intArg(args, "delay_ms", 0)

	if delayMs > 0 {
		select {
		case <-time.After(time.Duration(delayMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if uppercase {
		text = strings.ToUpper(text)
	}

	parts := make([]string, repeat)
	for i := range parts {
		parts[i] = text
	}
	result := strings.Join(parts, " ")

	return map[string]any{
		"result": result,
		"length": len(result),
	}, nil
}
