package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramAPI is the slice of the bot API the port needs. Tests provide a
// recorder instead of a live bot.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramPort runs confirmations through inline Approve/Deny keyboards and
// questions through forced-reply messages. The bot's update loop feeds
// callbacks and replies back in via HandleCallback and HandleReply.
type TelegramPort struct {
	api    TelegramAPI
	chatID int64

	mu              sync.RWMutex
	pendingConfirms map[string]chan bool
	pendingAsks     map[int]chan string
}

// NewTelegramPort creates a port bound to one chat.
func NewTelegramPort(api TelegramAPI, chatID int64) *TelegramPort {
	return &TelegramPort{
		api:             api,
		chatID:          chatID,
		pendingConfirms: make(map[string]chan bool),
		pendingAsks:     make(map[int]chan string),
	}
}

// Confirm sends the pending tool call with Approve/Deny buttons and waits
// for the callback. Expiry of ctx counts as a denial.
func (t *TelegramPort) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	if t.api == nil {
		return false, fmt.Errorf("telegram API is not initialized")
	}

	callbackID := fmt.Sprintf("confirm_%d", time.Now().UnixNano())

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", callbackID+"_approve"),
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", callbackID+"_deny"),
		),
	)

	msg := tgbotapi.NewMessage(t.chatID, t.formatConfirmMessage(req))
	msg.ReplyMarkup = keyboard
	msg.ParseMode = "Markdown"

	sentMsg, err := t.api.Send(msg)
	if err != nil {
		return false, fmt.Errorf("failed to send confirmation request: %w", err)
	}

	log.Info().
		Int64("chat_id", t.chatID).
		Int("message_id", sentMsg.MessageID).
		Str("tool", req.Tool).
		Msg("Confirmation request sent to Telegram")

	responseChan := make(chan bool, 1)

	t.mu.Lock()
	t.pendingConfirms[callbackID] = responseChan
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pendingConfirms, callbackID)
		t.mu.Unlock()
	}()

	select {
	case approved := <-responseChan:
		t.editMessage(sentMsg.MessageID, t.formatConfirmResult(req, approved))
		return approved, nil

	case <-ctx.Done():
		t.editMessage(sentMsg.MessageID, "⏱️ *Timeout*\n\n*Tool:* `"+req.Tool+"`\nConfirmation request timed out")
		return false, ctx.Err()
	}
}

// Ask sends the question as a forced-reply message and waits for the reply.
func (t *TelegramPort) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	if t.api == nil {
		return AskResponse{}, fmt.Errorf("telegram API is not initialized")
	}

	msg := tgbotapi.NewMessage(t.chatID, t.formatAskMessage(req))
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true}
	msg.ParseMode = "Markdown"

	sentMsg, err := t.api.Send(msg)
	if err != nil {
		return AskResponse{}, fmt.Errorf("failed to send question: %w", err)
	}

	log.Info().
		Int64("chat_id", t.chatID).
		Int("message_id", sentMsg.MessageID).
		Msg("Question sent to Telegram")

	replyChan := make(chan string, 1)

	t.mu.Lock()
	t.pendingAsks[sentMsg.MessageID] = replyChan
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pendingAsks, sentMsg.MessageID)
		t.mu.Unlock()
	}()

	select {
	case answer := <-replyChan:
		return t.resolveAnswer(req, answer), nil

	case <-ctx.Done():
		return AskResponse{}, ctx.Err()
	}
}

// Emit forwards user-facing events as chat messages. Progress noise stays
// out of the chat.
func (t *TelegramPort) Emit(ev Event) {
	if t.api == nil {
		return
	}

	var text string
	switch ev.Kind {
	case EventAssistantMessage:
		if content, ok := ev.Payload["content"].(string); ok && content != "" {
			text = content
		}
	case EventToolDenied:
		text = fmt.Sprintf("❌ Tool `%v` denied: %v", ev.Payload["tool"], ev.Payload["reason"])
	case EventRunFinished:
		text = fmt.Sprintf("🏁 Run finished (%v)", ev.Payload["finish_reason"])
	default:
		return
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"

	if _, err := t.api.Send(msg); err != nil {
		log.Error().
			Err(err).
			Str("kind", string(ev.Kind)).
			Msg("Failed to forward event to Telegram")
	}
}

// HandleCallback routes an inline keyboard press to the waiting Confirm.
func (t *TelegramPort) HandleCallback(callback *tgbotapi.CallbackQuery) error {
	if callback == nil {
		return fmt.Errorf("callback is nil")
	}

	data := callback.Data

	var callbackID string
	var approved bool

	switch {
	case strings.HasSuffix(data, "_approve"):
		callbackID = strings.TrimSuffix(data, "_approve")
		approved = true
	case strings.HasSuffix(data, "_deny"):
		callbackID = strings.TrimSuffix(data, "_deny")
		approved = false
	default:
		// Not a confirmation callback.
		return nil
	}

	t.mu.RLock()
	responseChan, exists := t.pendingConfirms[callbackID]
	t.mu.RUnlock()

	if !exists {
		t.answerCallback(callback.ID, "This confirmation request has expired")
		return nil
	}

	select {
	case responseChan <- approved:
		answerText := "❌ Denied"
		if approved {
			answerText = "✅ Approved"
		}
		t.answerCallback(callback.ID, answerText)

		log.Info().
			Str("callback_id", callbackID).
			Bool("approved", approved).
			Str("user", callback.From.UserName).
			Msg("Confirmation response received")

	default:
		t.answerCallback(callback.ID, "Failed to process response")
	}

	return nil
}

// HandleReply routes a reply message to the waiting Ask. Returns true when
// the message answered a pending question.
func (t *TelegramPort) HandleReply(msg *tgbotapi.Message) bool {
	if msg == nil || msg.ReplyToMessage == nil {
		return false
	}

	t.mu.RLock()
	replyChan, exists := t.pendingAsks[msg.ReplyToMessage.MessageID]
	t.mu.RUnlock()

	if !exists {
		return false
	}

	select {
	case replyChan <- msg.Text:
		log.Info().
			Int("message_id", msg.ReplyToMessage.MessageID).
			Msg("Answer received from Telegram")
		return true
	default:
		return false
	}
}

func (t *TelegramPort) resolveAnswer(req AskRequest, answer string) AskResponse {
	answer = strings.TrimSpace(answer)
	for i, opt := range req.Options {
		if strings.EqualFold(opt, answer) || answer == fmt.Sprintf("%d", i+1) {
			return AskResponse{Answer: opt, SelectedOption: opt}
		}
	}
	return AskResponse{Answer: answer}
}

func (t *TelegramPort) formatConfirmMessage(req ConfirmRequest) string {
	text := "🔐 *Tool Confirmation Required*\n\n"
	text += fmt.Sprintf("*Tool:* `%s`\n", req.Tool)

	if len(req.Args) > 0 {
		if encoded, err := json.Marshal(req.Args); err == nil {
			text += fmt.Sprintf("*Args:* `%s`\n", encoded)
		}
	}
	if req.Reason != "" {
		text += fmt.Sprintf("*Reason:* %s\n", req.Reason)
	}

	text += "\nDo you want to approve this tool call?"

	return text
}

func (t *TelegramPort) formatConfirmResult(req ConfirmRequest, approved bool) string {
	text := "❌ *Denied*\n\n"
	if approved {
		text = "✅ *Approved*\n\n"
	}
	text += fmt.Sprintf("*Tool:* `%s`", req.Tool)
	return text
}

func (t *TelegramPort) formatAskMessage(req AskRequest) string {
	text := fmt.Sprintf("❓ %s", req.Question)

	if len(req.Options) > 0 {
		text += "\n"
		for i, opt := range req.Options {
			text += fmt.Sprintf("\n%d) %s", i+1, opt)
		}
		if req.AllowFreeText {
			text += "\n\nReply with a number or your own answer."
		} else {
			text += "\n\nReply with a number."
		}
	}

	return text
}

func (t *TelegramPort) editMessage(messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(t.chatID, messageID, text)
	edit.ParseMode = "Markdown"

	if _, err := t.api.Send(edit); err != nil {
		log.Error().
			Err(err).
			Int("message_id", messageID).
			Msg("Failed to update Telegram message")
	}
}

func (t *TelegramPort) answerCallback(callbackID string, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := t.api.Request(callback); err != nil {
		log.Error().
			Err(err).
			Str("callback_id", callbackID).
			Msg("Failed to answer callback")
	}
}
