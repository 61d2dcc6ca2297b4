package tool

import (
	"context"
	"time"
)

// Descriptor carries the metadata a tool exposes for discovery, policy
// decisions, and LLM function-calling.
type Descriptor struct {
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	Tags               []string       `json:"tags,omitempty"`
	RequiresNetwork    bool           `json:"requires_network"`
	RequiresFilesystem bool           `json:"requires_filesystem"`
	Timeout            time.Duration  `json:"timeout,omitempty"`
	MaxConcurrency     int            `json:"max_concurrency,omitempty"`
	InputSchema        map[string]any `json:"input_schema"`
	OutputSchema       map[string]any `json:"output_schema,omitempty"`
}

// HasTag reports whether the descriptor carries the given tag.
func (d Descriptor) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Tool is the contract every executable tool implements. Execute receives
// arguments already validated against the descriptor's input schema.
type Tool interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Spec is a provider-agnostic function specification derived from a
// descriptor. Providers convert it into their own tool wire format.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SpecOf builds the function spec for a descriptor. A nil input schema is
// normalized to an empty object schema so providers always get a valid one.
func SpecOf(d Descriptor) Spec {
	params := d.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return Spec{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
	}
}
