package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexygent/flexygent/pkg/orchestrator"
)

type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (c *flakyClient) Chat(_ context.Context, _ orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	return &orchestrator.ChatResponse{Content: "ok"}, nil
}

func (c *flakyClient) Name() string { return "flaky" }

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit status", errors.New("unexpected status 429"), true},
		{"rate limit text", errors.New("rate limit exceeded, retry later"), true},
		{"server error", errors.New("503 service unavailable"), true},
		{"overloaded", errors.New("overloaded_error: try again"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"bad api key", errors.New("401 invalid api key"), false},
		{"bad request", errors.New("400 invalid request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("recovers from transient errors", func(t *testing.T) {
		inner := &flakyClient{failures: 2, err: errors.New("rate limit")}
		client := WithRetry(inner, 3, time.Millisecond)

		resp, err := client.Chat(context.Background(), orchestrator.ChatRequest{})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		boom := errors.New("503 service unavailable")
		inner := &flakyClient{failures: 10, err: boom}
		client := WithRetry(inner, 3, time.Millisecond)

		_, err := client.Chat(context.Background(), orchestrator.ChatRequest{})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("permanent errors fail fast", func(t *testing.T) {
		inner := &flakyClient{failures: 10, err: errors.New("401 invalid api key")}
		client := WithRetry(inner, 3, time.Millisecond)

		_, err := client.Chat(context.Background(), orchestrator.ChatRequest{})
		require.Error(t, err)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("cancellation interrupts backoff", func(t *testing.T) {
		inner := &flakyClient{failures: 10, err: errors.New("rate limit")}
		client := WithRetry(inner, 3, 500*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := client.Chat(ctx, orchestrator.ChatRequest{})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("keeps the wrapped name", func(t *testing.T) {
		client := WithRetry(&flakyClient{}, 0, 0)
		assert.Equal(t, "flaky", client.Name())
	})
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantName string
		wantErr  string
	}{
		{
			name:     "openai",
			opts:     Options{Name: "openai", APIKey: "sk-test"},
			wantName: "openai",
		},
		{
			name:     "openrouter",
			opts:     Options{Name: "openrouter", APIKey: "sk-or-test"},
			wantName: "openrouter",
		},
		{
			name:     "anthropic",
			opts:     Options{Name: "anthropic", APIKey: "sk-ant-test"},
			wantName: "anthropic",
		},
		{
			name:    "missing key",
			opts:    Options{Name: "openai"},
			wantErr: "api key is required",
		},
		{
			name:    "unknown provider",
			opts:    Options{Name: "grok", APIKey: "x"},
			wantErr: "unsupported provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := FromConfig(tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, client.Name())
		})
	}
}

func TestToolUseInput(t *testing.T) {
	assert.Equal(t, map[string]any{"url": "https://example.com"}, toolUseInput(`{"url":"https://example.com"}`))
	assert.Equal(t, map[string]any{}, toolUseInput(`{"broken`))
	assert.Equal(t, map[string]any{}, toolUseInput("null"))
	assert.Equal(t, map[string]any{}, toolUseInput(""))
}
