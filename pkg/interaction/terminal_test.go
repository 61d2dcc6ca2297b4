package interaction

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalPort_Confirm_Approved(t *testing.T) {
	out := &bytes.Buffer{}
	port := NewTerminalPort(strings.NewReader("y\n"), out)

	approved, err := port.Confirm(context.Background(), ConfirmRequest{
		Tool:   "web.fetch",
		Args:   map[string]any{"url": "https://example.com"},
		Reason: "policy_confirmation",
	})

	require.NoError(t, err)
	assert.True(t, approved)
	assert.Contains(t, out.String(), "TOOL CONFIRMATION REQUIRED")
	assert.Contains(t, out.String(), "web.fetch")
	assert.Contains(t, out.String(), "[y/N]")
	assert.Contains(t, out.String(), "APPROVED")
}

func TestTerminalPort_Confirm_Denied(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "explicit no", input: "n\n"},
		{name: "empty line", input: "\n"},
		{name: "garbage input", input: "maybe\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			port := NewTerminalPort(strings.NewReader(tt.input), out)

			approved, err := port.Confirm(context.Background(), ConfirmRequest{Tool: "fs.write_file"})

			require.NoError(t, err)
			assert.False(t, approved)
			assert.Contains(t, out.String(), "DENIED")
		})
	}
}

func TestTerminalPort_Confirm_ContextCancelled(t *testing.T) {
	// A pipe with no writer blocks reads until ctx gives up.
	pr, pw := io.Pipe()
	defer pw.Close()
	defer pr.Close()

	out := &bytes.Buffer{}
	port := NewTerminalPort(pr, out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	approved, err := port.Confirm(ctx, ConfirmRequest{Tool: "system.echo"})

	assert.False(t, approved)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, out.String(), "TIMED OUT")
}

func TestTerminalPort_Ask_FreeText(t *testing.T) {
	out := &bytes.Buffer{}
	port := NewTerminalPort(strings.NewReader("a short summary please\n"), out)

	resp, err := port.Ask(context.Background(), AskRequest{
		Question:      "What style of answer do you want?",
		AllowFreeText: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "a short summary please", resp.Answer)
	assert.Empty(t, resp.SelectedOption)
	assert.Contains(t, out.String(), "What style of answer do you want?")
}

func TestTerminalPort_Ask_NumberedOption(t *testing.T) {
	out := &bytes.Buffer{}
	port := NewTerminalPort(strings.NewReader("2\n"), out)

	resp, err := port.Ask(context.Background(), AskRequest{
		Question:      "Pick a color",
		Options:       []string{"red", "blue", "green"},
		AllowFreeText: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "blue", resp.Answer)
	assert.Equal(t, "blue", resp.SelectedOption)
	assert.Contains(t, out.String(), "1) red")
	assert.Contains(t, out.String(), "2) blue")
}

func TestTerminalPort_Ask_OptionByName(t *testing.T) {
	port := NewTerminalPort(strings.NewReader("GREEN\n"), &bytes.Buffer{})

	resp, err := port.Ask(context.Background(), AskRequest{
		Question: "Pick a color",
		Options:  []string{"red", "blue", "green"},
	})

	require.NoError(t, err)
	assert.Equal(t, "green", resp.SelectedOption)
}

func TestTerminalPort_Ask_FreeTextFallback(t *testing.T) {
	port := NewTerminalPort(strings.NewReader("teal\n"), &bytes.Buffer{})

	resp, err := port.Ask(context.Background(), AskRequest{
		Question:      "Pick a color",
		Options:       []string{"red", "blue"},
		AllowFreeText: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "teal", resp.Answer)
	assert.Empty(t, resp.SelectedOption)
}

func TestTerminalPort_SequentialPrompts(t *testing.T) {
	// Both answers arrive on one reader; the second prompt must still see
	// its line.
	out := &bytes.Buffer{}
	port := NewTerminalPort(strings.NewReader("y\nblue\n"), out)

	approved, err := port.Confirm(context.Background(), ConfirmRequest{Tool: "web.fetch"})
	require.NoError(t, err)
	assert.True(t, approved)

	resp, err := port.Ask(context.Background(), AskRequest{Question: "Color?", AllowFreeText: true})
	require.NoError(t, err)
	assert.Equal(t, "blue", resp.Answer)
}

func TestTerminalPort_Emit(t *testing.T) {
	out := &bytes.Buffer{}
	port := NewTerminalPort(strings.NewReader(""), out)

	port.Emit(Event{Kind: EventStep, Payload: map[string]any{"step": 1}})
	port.Emit(Event{Kind: EventToolCall, Payload: map[string]any{"tool": "web.fetch"}})
	port.Emit(Event{Kind: EventToolDenied, Payload: map[string]any{"tool": "fs.write_file", "reason": "denied by policy"}})
	port.Emit(Event{Kind: EventRunFinished, Payload: map[string]any{"finish_reason": "completed"}})

	rendered := out.String()
	assert.Contains(t, rendered, "step 1")
	assert.Contains(t, rendered, "calling web.fetch")
	assert.Contains(t, rendered, "fs.write_file denied")
	assert.Contains(t, rendered, "run finished (completed)")
}

func TestTerminalPort_Emit_Quiet(t *testing.T) {
	out := &bytes.Buffer{}
	port := NewTerminalPort(strings.NewReader(""), out)
	port.Quiet = true

	port.Emit(Event{Kind: EventStep, Payload: map[string]any{"step": 1}})
	port.Emit(Event{Kind: EventRunFinished, Payload: map[string]any{"finish_reason": "completed"}})

	assert.Empty(t, out.String())
}

func TestTerminalPort_Confirm_EOFDenies(t *testing.T) {
	out := &bytes.Buffer{}
	port := NewTerminalPort(strings.NewReader(""), out)

	approved, err := port.Confirm(context.Background(), ConfirmRequest{Tool: "system.echo"})

	require.NoError(t, err)
	assert.False(t, approved)
}
