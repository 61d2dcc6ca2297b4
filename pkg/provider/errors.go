package provider

import "strings"

// Retryable reports whether an API error is worth another attempt:
// transport resets, rate limits and server-side failures.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	return false
}
