package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flexygent/flexygent/pkg/tool"
)

const defaultReadMaxBytes = 200_000

// readFileTool reads a file under the workspace root.
type readFileTool struct {
	workspaceRoot string
}

func (t *readFileTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:               "fs.read_file",
		Description:        "Read a file from the workspace.",
		Tags:               []string{"fs", "read"},
		RequiresFilesystem: true,
		Timeout:            10 * time.Second,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root.",
				},
				"max_bytes": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "Maximum bytes to read (default 200000).",
				},
			},
			"required": []string{"path"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":      map[string]any{"type": "string"},
				"content":   map[string]any{"type": "string"},
				"size":      map[string]any{"type": "integer"},
				"truncated": map[string]any{"type": "boolean"},
			},
			"required": []string{"path", "content", "size"},
		},
	}
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	pathValue := stringArg(args, "path", "")
	maxBytes := int64(intArg(args, "max_bytes", defaultReadMaxBytes))
	if maxBytes <= 0 {
		maxBytes = defaultReadMaxBytes
	}

	target, err := resolvePathInWorkspace(t.workspaceRoot, pathValue)
	if err != nil {
		return nil, err
	}

	data, truncated, err := readFileWithLimit(target, maxBytes)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"path":      pathValue,
		"content":   string(data),
		"size":      len(data),
		"truncated": truncated,
	}, nil
}

// writeFileTool writes or appends to a file under the workspace root,
// creating parent directories as needed.
type writeFileTool struct {
	workspaceRoot string
}

func (t *writeFileTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:               "fs.write_file",
		Description:        "Write content to a file in the workspace.",
		Tags:               []string{"fs", "write"},
		RequiresFilesystem: true,
		Timeout:            10 * time.Second,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root.",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Content to write.",
				},
				"append": map[string]any{
					"type":        "boolean",
					"description": "Append instead of overwriting (default false).",
				},
			},
			"required": []string{"path", "content"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"written": map[string]any{"type": "integer"},
				"append":  map[string]any{"type": "boolean"},
			},
			"required": []string{"path", "written"},
		},
	}
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	pathValue := stringArg(args, "path", "")
	content, _ := args["content"].(string)
	appendMode := boolArg(args, "append", false)

	target, err := resolvePathInWorkspace(t.workspaceRoot, pathValue)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, err
	}

	flag := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(target, flag, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return map[string]any{
		"path":    pathValue,
		"written": len(content),
		"append":  appendMode,
	}, nil
}

// resolvePathInWorkspace joins a path against the workspace root and rejects
// anything that escapes it.
func resolvePathInWorkspace(workspaceRoot, pathValue string) (string, error) {
	if strings.TrimSpace(workspaceRoot) == "" {
		return "", fmt.Errorf("workspace root is not configured")
	}
	workspaceRoot = filepath.Clean(workspaceRoot)

	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workspaceRoot, candidate)
	if err != nil {
		return "", err
	}
	if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
		return candidate, nil
	}
	return "", fmt.Errorf("path %q is outside workspace root", pathValue)
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	truncated := false
	if extra := make([]byte, 1); true {
		if _, err := file.Read(extra); err == nil {
			truncated = true
		}
	}
	return buf.Bytes(), truncated, nil
}
