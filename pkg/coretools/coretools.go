// Package coretools provides the built-in tools every FlexyGent deployment
// starts with: an echo tool for smoke tests, the virtual ui.ask tool, web
// fetch/feed/scrape tools, and workspace-rooted file access.
//
// Each tool is a plain struct implementing tool.Tool. RegisterAll wires the
// whole set into a catalog:
//
//	catalog := tool.NewCatalog()
//	if err := coretools.RegisterAll(catalog, coretools.Options{WorkspaceRoot: root}); err != nil {
//		log.Fatal().Err(err).Msg("Core tool registration failed")
//	}
//
// Argument maps arrive already validated against each descriptor's input
// schema, so handlers only apply defaults and coerce JSON number types.
package coretools

import (
	"fmt"

	"github.com/flexygent/flexygent/pkg/tool"
)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot anchors the fs.* tools. Paths resolving outside it are
	// rejected. Required only when the fs tools are actually called.
	WorkspaceRoot string

	// EchoMaxConcurrency caps concurrent system.echo executions. Zero means
	// unlimited.
	EchoMaxConcurrency int

	// BrowserControlURL points web.scrape at an already-running Chrome
	// DevTools endpoint. When empty the tool launches its own headless
	// browser per call.
	BrowserControlURL string
}

// RegisterAll registers the built-in tool set on the catalog.
func RegisterAll(catalog *tool.Catalog, opts Options) error {
	if catalog == nil {
		return fmt.Errorf("catalog is required")
	}

	tools := []tool.Tool{
		&echoTool{maxConcurrency: opts.EchoMaxConcurrency},
		&askTool{},
		&fetchTool{},
		&rssTool{},
		&scrapeTool{controlURL: opts.BrowserControlURL},
		&readFileTool{workspaceRoot: opts.WorkspaceRoot},
		&writeFileTool{workspaceRoot: opts.WorkspaceRoot},
	}

	for _, t := range tools {
		if err := catalog.Register(t); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Descriptor().Name, err)
		}
	}
	return nil
}

func stringArg(args map[string]any, key, fallback string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return fallback
}

// intArg coerces a JSON number. Arguments decoded from JSON arrive as
// float64 even for integer schema types.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringMapArg(args map[string]any, key string) map[string]string {
	raw, ok := args[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
