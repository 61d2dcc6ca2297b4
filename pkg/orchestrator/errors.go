package orchestrator

import "fmt"

// ProviderError wraps a model service failure. It is fatal to the current
// run: the transcript survives but the loop stops immediately. Retries
// belong to the caller, never inside the loop.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
