package tool

import "context"

type metaKey struct{}

// WithMeta attaches run-level metadata to the context so it reaches tools
// without widening the Execute signature. Later calls replace earlier ones.
func WithMeta(ctx context.Context, meta map[string]any) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, metaKey{}, meta)
}

// Meta returns the metadata attached by WithMeta, or nil when absent.
func Meta(ctx context.Context) map[string]any {
	if meta, ok := ctx.Value(metaKey{}).(map[string]any); ok {
		return meta
	}
	return nil
}
