package interaction

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBotAPI records outgoing traffic instead of talking to Telegram.
type mockBotAPI struct {
	mu            sync.Mutex
	sentMessages  []tgbotapi.Chattable
	callbacks     []tgbotapi.CallbackConfig
	nextMessageID int
}

func (m *mockBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(m.sentMessages, c)
	m.nextMessageID++
	return tgbotapi.Message{
		MessageID: m.nextMessageID,
		Chat:      &tgbotapi.Chat{ID: 456},
	}, nil
}

func (m *mockBotAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if callback, ok := c.(tgbotapi.CallbackConfig); ok {
		m.callbacks = append(m.callbacks, callback)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockBotAPI) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentMessages)
}

func (t *TelegramPort) pendingConfirmID() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id := range t.pendingConfirms {
		return id, true
	}
	return "", false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNewTelegramPort(t *testing.T) {
	api := &mockBotAPI{}
	port := NewTelegramPort(api, 123456)

	assert.NotNil(t, port)
	assert.Equal(t, int64(123456), port.chatID)
	assert.Empty(t, port.pendingConfirms)
	assert.Empty(t, port.pendingAsks)
}

func TestTelegramPort_Confirm_Approved(t *testing.T) {
	api := &mockBotAPI{}
	port := NewTelegramPort(api, 123456)

	resultChan := make(chan bool, 1)
	errChan := make(chan error, 1)
	go func() {
		approved, err := port.Confirm(context.Background(), ConfirmRequest{
			Tool: "web.fetch",
			Args: map[string]any{"url": "https://example.com"},
		})
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- approved
	}()

	var callbackID string
	waitFor(t, func() bool {
		id, ok := port.pendingConfirmID()
		callbackID = id
		return ok
	})

	err := port.HandleCallback(&tgbotapi.CallbackQuery{
		ID:   "cb-1",
		Data: callbackID + "_approve",
		From: &tgbotapi.User{UserName: "tester"},
	})
	require.NoError(t, err)

	select {
	case approved := <-resultChan:
		assert.True(t, approved)
	case err := <-errChan:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for confirmation result")
	}

	// Request message plus the edited result.
	waitFor(t, func() bool { return api.sentCount() >= 2 })
}

func TestTelegramPort_Confirm_Denied(t *testing.T) {
	api := &mockBotAPI{}
	port := NewTelegramPort(api, 123456)

	resultChan := make(chan bool, 1)
	go func() {
		approved, _ := port.Confirm(context.Background(), ConfirmRequest{Tool: "fs.write_file"})
		resultChan <- approved
	}()

	var callbackID string
	waitFor(t, func() bool {
		id, ok := port.pendingConfirmID()
		callbackID = id
		return ok
	})

	require.NoError(t, port.HandleCallback(&tgbotapi.CallbackQuery{
		ID:   "cb-2",
		Data: callbackID + "_deny",
		From: &tgbotapi.User{UserName: "tester"},
	}))

	select {
	case approved := <-resultChan:
		assert.False(t, approved)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for confirmation result")
	}
}

func TestTelegramPort_Confirm_ContextTimeout(t *testing.T) {
	api := &mockBotAPI{}
	port := NewTelegramPort(api, 123456)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	approved, err := port.Confirm(ctx, ConfirmRequest{Tool: "system.echo"})

	assert.False(t, approved)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTelegramPort_Confirm_NoAPI(t *testing.T) {
	port := NewTelegramPort(nil, 123456)

	approved, err := port.Confirm(context.Background(), ConfirmRequest{Tool: "system.echo"})

	assert.False(t, approved)
	assert.Error(t, err)
}

func TestTelegramPort_HandleCallback_Expired(t *testing.T) {
	api := &mockBotAPI{}
	port := NewTelegramPort(api, 123456)

	err := port.HandleCallback(&tgbotapi.CallbackQuery{
		ID:   "cb-3",
		Data: "confirm_999_approve",
		From: &tgbotapi.User{UserName: "tester"},
	})

	require.NoError(t, err)
	assert.Len(t, api.callbacks, 1)
	assert.Contains(t, api.callbacks[0].Text, "expired")
}

func TestTelegramPort_HandleCallback_UnrelatedData(t *testing.T) {
	port := NewTelegramPort(&mockBotAPI{}, 123456)

	err := port.HandleCallback(&tgbotapi.CallbackQuery{ID: "cb-4", Data: "lane_switch"})
	assert.NoError(t, err)
}

func TestTelegramPort_Ask_Reply(t *testing.T) {
	api := &mockBotAPI{}
	port := NewTelegramPort(api, 123456)

	respChan := make(chan AskResponse, 1)
	go func() {
		resp, _ := port.Ask(context.Background(), AskRequest{
			Question:      "Which color?",
			Options:       []string{"red", "blue"},
			AllowFreeText: true,
		})
		respChan <- resp
	}()

	waitFor(t, func() bool {
		port.mu.RLock()
		defer port.mu.RUnlock()
		return len(port.pendingAsks) == 1
	})

	handled := port.HandleReply(&tgbotapi.Message{
		Text:           "blue",
		ReplyToMessage: &tgbotapi.Message{MessageID: 1},
	})
	assert.True(t, handled)

	select {
	case resp := <-respChan:
		assert.Equal(t, "blue", resp.Answer)
		assert.Equal(t, "blue", resp.SelectedOption)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ask response")
	}
}

func TestTelegramPort_HandleReply_NotAReply(t *testing.T) {
	port := NewTelegramPort(&mockBotAPI{}, 123456)

	assert.False(t, port.HandleReply(&tgbotapi.Message{Text: "hello"}))
	assert.False(t, port.HandleReply(nil))
}

func TestTelegramPort_ResolveAnswer(t *testing.T) {
	port := NewTelegramPort(&mockBotAPI{}, 123456)
	req := AskRequest{Options: []string{"red", "blue"}, AllowFreeText: true}

	tests := []struct {
		name   string
		answer string
		want   AskResponse
	}{
		{name: "numeric selection", answer: "2", want: AskResponse{Answer: "blue", SelectedOption: "blue"}},
		{name: "named selection", answer: "RED", want: AskResponse{Answer: "red", SelectedOption: "red"}},
		{name: "free text", answer: "teal", want: AskResponse{Answer: "teal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, port.resolveAnswer(req, tt.answer))
		})
	}
}

func TestTelegramPort_FormatConfirmMessage(t *testing.T) {
	port := NewTelegramPort(&mockBotAPI{}, 123456)

	text := port.formatConfirmMessage(ConfirmRequest{
		Tool:   "web.fetch",
		Args:   map[string]any{"url": "https://example.com"},
		Reason: "policy_confirmation",
	})

	assert.Contains(t, text, "Tool Confirmation Required")
	assert.Contains(t, text, "web.fetch")
	assert.Contains(t, text, "https://example.com")
	assert.Contains(t, text, "policy_confirmation")
}

func TestTelegramPort_Emit(t *testing.T) {
	api := &mockBotAPI{}
	port := NewTelegramPort(api, 123456)

	port.Emit(Event{Kind: EventStep, Payload: map[string]any{"step": 1}})
	assert.Zero(t, api.sentCount())

	port.Emit(Event{Kind: EventAssistantMessage, Payload: map[string]any{"content": "All done."}})
	port.Emit(Event{Kind: EventRunFinished, Payload: map[string]any{"finish_reason": "completed"}})
	assert.Equal(t, 2, api.sentCount())
}
