package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestAuditLog(t *testing.T) {
	t.Run("should append one json line per event", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")
		require.NoError(t, Init(path))

		ctx := context.Background()
		ToolExecuted(ctx, "run-1", "system.echo", "success", map[string]interface{}{"duration_ms": 12})
		ToolDenied(ctx, "run-1", "fs.write_file", "tool is deny-listed")
		Confirmation(ctx, "run-1", "fs.write_file", false)

		entries := readEntries(t, path)
		require.Len(t, entries, 3)

		assert.Equal(t, "tool", entries[0]["type"])
		assert.Equal(t, "execute:system.echo", entries[0]["action"])
		assert.Equal(t, "success", entries[0]["status"])
		assert.Equal(t, "run-1", entries[0]["run_id"])
		assert.NotEmpty(t, entries[0]["time"])

		assert.Equal(t, "policy", entries[1]["type"])
		assert.Equal(t, "deny:fs.write_file", entries[1]["action"])
		assert.Equal(t, "denied", entries[1]["status"])
		meta, ok := entries[1]["metadata"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "tool is deny-listed", meta["reason"])

		assert.Equal(t, "confirm:fs.write_file", entries[2]["action"])
		assert.Equal(t, "denied", entries[2]["status"])
	})

	t.Run("should record approvals", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")
		require.NoError(t, Init(path))

		Confirmation(context.Background(), "run-2", "system.echo", true)

		entries := readEntries(t, path)
		require.Len(t, entries, 1)
		assert.Equal(t, "approved", entries[0]["status"])
	})

	t.Run("should survive reinitialization", func(t *testing.T) {
		dir := t.TempDir()
		first := filepath.Join(dir, "first.log")
		second := filepath.Join(dir, "second.log")

		require.NoError(t, Init(first))
		ToolExecuted(context.Background(), "run-3", "system.echo", "success", nil)

		require.NoError(t, Init(second))
		ToolExecuted(context.Background(), "run-4", "system.echo", "success", nil)

		require.Len(t, readEntries(t, first), 1)

		entries := readEntries(t, second)
		require.Len(t, entries, 1)
		assert.Equal(t, "run-4", entries[0]["run_id"])
	})

	t.Run("should fail on an unwritable path", func(t *testing.T) {
		err := Init(filepath.Join(t.TempDir(), "missing", "audit.log"))
		assert.Error(t, err)
	})
}
