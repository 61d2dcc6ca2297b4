package coretools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/flexygent/flexygent/pkg/tool"
)

const (
	defaultScrapeTimeoutMs = 10000
	defaultScrapeMaxChars  = 16_000
)

// scrapeTool renders a page in a headless browser and extracts visible text,
// either from the whole body or from a CSS selector. It launches its own
// Chrome per call unless pointed at an existing DevTools endpoint.
type scrapeTool struct {
	controlURL string
}

func (t *scrapeTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:            "web.scrape",
		Description:     "Render a web page in a headless browser and extract readable text.",
		Tags:            []string{"web", "scraper", "html"},
		RequiresNetwork: true,
		Timeout:         20 * time.Second,
		MaxConcurrency:  2,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Target URL to render and extract text from.",
				},
				"selector": map[string]any{
					"type":        "string",
					"description": "Optional CSS selector to focus extraction. Extracts the full body when omitted.",
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"minimum":     1000,
					"maximum":     60000,
					"description": "Page load timeout in milliseconds (default 10000).",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"minimum":     1000,
					"maximum":     200_000,
					"description": "Trim extracted text to this many characters (default 16000).",
				},
			},
			"required": []string{"url"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":     map[string]any{"type": "string"},
				"text":      map[string]any{"type": "string"},
				"truncated": map[string]any{"type": "boolean"},
			},
			"required": []string{"text"},
		},
	}
}

func (t *scrapeTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	rawURL := stringArg(args, "url", "")
	selector := stringArg(args, "selector", "")
	timeout := time.Duration(intArg(args, "timeout_ms", defaultScrapeTimeoutMs)) * time.Millisecond
	maxChars := intArg(args, "max_chars", defaultScrapeMaxChars)

	if err := checkHTTPURL(rawURL); err != nil {
		return nil, err
	}

	browser, cleanup, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	page, err := browser.Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Timeout(timeout)
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("page load: %w", err)
	}

	var text string
	if selector != "" {
		elem, err := page.Element(selector)
		if err != nil {
			return nil, fmt.Errorf("element not found: %s", selector)
		}
		text, err = elem.Text()
		if err != nil {
			return nil, fmt.Errorf("extract text from element: %w", err)
		}
	} else {
		result, err := page.Eval(`() => document.body.innerText`)
		if err != nil {
			return nil, fmt.Errorf("extract text: %w", err)
		}
		text = result.Value.String()
	}

	title := ""
	if info, err := page.Info(); err == nil {
		title = info.Title
	}

	text = strings.TrimSpace(text)
	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	return map[string]any{
		"title":     title,
		"text":      text,
		"truncated": truncated,
	}, nil
}

// connect attaches to the configured DevTools endpoint, or launches a
// throwaway headless Chrome when none is configured. The cleanup closes the
// connection and kills any browser this call launched.
func (t *scrapeTool) connect(ctx context.Context) (*rod.Browser, func(), error) {
	if t.controlURL != "" {
		browser := rod.New().ControlURL(t.controlURL).Context(ctx)
		if err := browser.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connect to browser: %w", err)
		}
		return browser, func() { _ = browser.Close() }, nil
	}

	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connect to browser: %w", err)
	}

	cleanup := func() {
		_ = browser.Close()
		l.Kill()
	}
	return browser, cleanup, nil
}
