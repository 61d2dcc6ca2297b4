// Package provider adapts hosted LLM APIs to the orchestrator's
// ModelClient interface.
//
// Invariants:
// - Adapters translate transcripts faithfully; they never reorder or drop messages.
// - Tool-call arguments pass through as raw JSON; validation belongs to the loop.
// - Retry lives in the WithRetry wrapper only, never inside an adapter.
//
// Usage:
//
//	client, _ := provider.FromConfig(provider.Options{Name: "openai", APIKey: key})
//	client = provider.WithRetry(client, 3, time.Second)
package provider
