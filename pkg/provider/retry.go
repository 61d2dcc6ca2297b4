package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flexygent/flexygent/pkg/orchestrator"
)

type retryClient struct {
	inner     orchestrator.ModelClient
	attempts  int
	baseDelay time.Duration
}

// WithRetry wraps a client with exponential backoff on retryable
// errors. The orchestrator never retries on its own; compose this
// wrapper where at-least-once model calls are wanted.
func WithRetry(client orchestrator.ModelClient, attempts int, baseDelay time.Duration) orchestrator.ModelClient {
	if attempts <= 0 {
		attempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &retryClient{
		inner:     client,
		attempts:  attempts,
		baseDelay: baseDelay,
	}
}

func (r *retryClient) Name() string {
	return r.inner.Name()
}

func (r *retryClient) Chat(ctx context.Context, req orchestrator.ChatRequest) (*orchestrator.ChatResponse, error) {
	var lastErr error

	for attempt := 0; attempt < r.attempts; attempt++ {
		response, err := r.inner.Chat(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !Retryable(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == r.attempts-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := r.baseDelay * (1 << attempt)
		log.Info().
			Str("provider", r.inner.Name()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}
