package runstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexygent/flexygent/pkg/orchestrator"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen(t *testing.T) {
	t.Run("should create the schema", func(t *testing.T) {
		store := openTestStore(t)

		runs, err := store.ListRuns(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("should require a path", func(t *testing.T) {
		_, err := Open("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database path is required")
	})
}

func TestStore_SaveRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	t.Run("should round-trip a record", func(t *testing.T) {
		rec := RunRecord{
			ID:           "run-1",
			Task:         "summarize the news",
			FinishReason: "completed",
			FinalText:    "done",
			Steps:        2,
			ToolCalls:    3,
			Messages:     json.RawMessage(`[{"role":"user","content":"summarize the news"}]`),
			CreatedAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		require.NoError(t, store.SaveRun(ctx, rec))

		got, err := store.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, rec.Task, got.Task)
		assert.Equal(t, rec.FinishReason, got.FinishReason)
		assert.Equal(t, rec.FinalText, got.FinalText)
		assert.Equal(t, rec.Steps, got.Steps)
		assert.Equal(t, rec.ToolCalls, got.ToolCalls)
		assert.JSONEq(t, string(rec.Messages), string(got.Messages))
		assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	})

	t.Run("should assign an id and timestamp when missing", func(t *testing.T) {
		require.NoError(t, store.SaveRun(ctx, RunRecord{Task: "anon", FinishReason: "error"}))

		runs, err := store.ListRuns(ctx, 10)
		require.NoError(t, err)

		var found *RunRecord
		for i := range runs {
			if runs[i].Task == "anon" {
				found = &runs[i]
			}
		}
		require.NotNil(t, found)
		assert.NotEmpty(t, found.ID)
		assert.False(t, found.CreatedAt.IsZero())
		assert.JSONEq(t, `[]`, string(found.Messages))
	})

	t.Run("should reject duplicate ids", func(t *testing.T) {
		rec := RunRecord{ID: "dup", Task: "a", FinishReason: "completed"}
		require.NoError(t, store.SaveRun(ctx, rec))
		require.Error(t, store.SaveRun(ctx, rec))
	})
}

func TestStore_GetRun_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveRun(ctx, RunRecord{
			ID:           string(rune('a' + i)),
			Task:         "task",
			FinishReason: "completed",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	t.Run("should return newest first", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 5)
		assert.Equal(t, "e", runs[0].ID)
		assert.Equal(t, "a", runs[4].ID)
	})

	t.Run("should honor the limit", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "e", runs[0].ID)
		assert.Equal(t, "d", runs[1].ID)
	})

	t.Run("should fall back to the default limit", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, runs, 5)
	})
}

func TestNewRecord(t *testing.T) {
	result := orchestrator.RunResult{
		FinalText:    "the answer",
		FinishReason: orchestrator.FinishCompleted,
		Steps:        2,
		ToolCalls:    1,
		Messages: []orchestrator.Message{
			orchestrator.UserMessage("what is the answer?"),
		},
	}

	rec := NewRecord("what is the answer?", result)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "what is the answer?", rec.Task)
	assert.Equal(t, "completed", rec.FinishReason)
	assert.Equal(t, "the answer", rec.FinalText)
	assert.Equal(t, 2, rec.Steps)
	assert.Equal(t, 1, rec.ToolCalls)
	assert.False(t, rec.CreatedAt.IsZero())

	var messages []orchestrator.Message
	require.NoError(t, json.Unmarshal(rec.Messages, &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, orchestrator.RoleUser, messages[0].Role)
}
