package logger

import (
	"io"
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// Redactor scrubs secret-shaped strings from log output before it reaches
// any writer.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor covering the credential shapes this
// project handles: provider API keys, bearer secrets, Telegram bot tokens.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Anthropic keys first: the OpenAI pattern would otherwise
			// leave the "sk-ant-" prefix visible.
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

			// Authorization headers and gateway secrets.
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Telegram bot tokens: <bot_id>:<token>.
			regexp.MustCompile(`\d{8,10}:[a-zA-Z0-9_-]{30,}`),

			// Key/value shapes in serialized config or URLs.
			regexp.MustCompile(`(?i)password["\s:=]+[^\s",]+`),
			regexp.MustCompile(`(?i)secret["\s:=]+[^\s",]+`),
			regexp.MustCompile(`(?i)api_key["\s:=]+[^\s",]+`),
			regexp.MustCompile(`(?i)token["\s:=]+[a-zA-Z0-9._-]{20,}`),
		},
	}
}

// AddPattern registers an additional redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every secret-shaped substring with a placeholder.
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{next: w, redactor: r}
}

type redactingWriter struct {
	next     io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.next.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// Report the original length so zerolog does not treat redaction as a
	// short write.
	return len(p), nil
}
