package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/flexygent/flexygent/pkg/tool"
)

const (
	defaultFetchTimeoutMs = 8000
	defaultFetchMaxBytes  = 500_000
	maxRedirects          = 10
)

// fetchTool retrieves a URL over plain HTTP and returns the text body with
// metadata. Redirects are followed up to a cap and the body is clipped at
// max_bytes.
type fetchTool struct{}

func (t *fetchTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:            "web.fetch",
		Description:     "Fetch a URL over HTTP, returning the text body and metadata.",
		Tags:            []string{"web", "http", "fetch"},
		RequiresNetwork: true,
		Timeout:         15 * time.Second,
		MaxConcurrency:  4,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch. Must use http or https.",
				},
				"method": map[string]any{
					"type":        "string",
					"enum":        []string{"GET", "HEAD"},
					"description": "HTTP method (default GET).",
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"minimum":     500,
					"maximum":     60000,
					"description": "Request timeout in milliseconds (default 8000).",
				},
				"max_bytes": map[string]any{
					"type":        "integer",
					"minimum":     1024,
					"maximum":     5_000_000,
					"description": "Maximum response bytes to retain (default 500000).",
				},
				"headers": map[string]any{
					"type":        "object",
					"description": "Optional request headers.",
				},
			},
			"required": []string{"url"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status":       map[string]any{"type": "integer"},
				"content_type": map[string]any{"type": "string"},
				"body":         map[string]any{"type": "string"},
				"truncated":    map[string]any{"type": "boolean"},
			},
			"required": []string{"status", "body"},
		},
	}
}

func (t *fetchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	rawURL := stringArg(args, "url", "")
	method := stringArg(args, "method", http.MethodGet)
	timeoutMs := intArg(args, "timeout_ms", defaultFetchTimeoutMs)
	maxBytes := int64(intArg(args, "max_bytes", defaultFetchMaxBytes))

	if err := checkHTTPURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range stringMapArg(args, "headers") {
		req.Header.Set(k, v)
	}

	client := newHTTPClient(time.Duration(timeoutMs) * time.Millisecond)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, truncated, err := readBodyWithLimit(resp.Body, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return map[string]any{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
		"truncated":    truncated,
	}, nil
}

func checkHTTPURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme %q is not allowed, use http or https", u.Scheme)
	}
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// readBodyWithLimit reads up to limit bytes and probes one byte further to
// learn whether the body was clipped.
func readBodyWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	truncated := false
	if extra := make([]byte, 1); true {
		if _, err := r.Read(extra); err == nil {
			truncated = true
		}
	}
	return buf.Bytes(), truncated, nil
}
