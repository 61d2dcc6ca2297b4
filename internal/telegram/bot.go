// Package telegram runs the bot update loop that feeds button callbacks and
// replies into the telegram interaction port.
package telegram

import (
	"fmt"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/flexygent/flexygent/internal/config"
	"github.com/flexygent/flexygent/pkg/interaction"
)

// Bot couples a Telegram bot API connection with an interaction port bound
// to one chat. Approve/Deny callbacks and reply messages from that chat are
// routed into the port's pending confirmations and questions.
type Bot struct {
	api    *tgbotapi.BotAPI
	port   *interaction.TelegramPort
	chatID int64
	logger zerolog.Logger

	running atomic.Bool
	updates tgbotapi.UpdatesChannel
}

// New authenticates the bot and builds its interaction port.
func New(cfg config.TelegramConfig, log zerolog.Logger) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("chat ID is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := &Bot{
		api:    api,
		port:   interaction.NewTelegramPort(api, cfg.ChatID),
		chatID: cfg.ChatID,
		logger: log.With().Str("component", "telegram").Logger(),
	}

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// Port returns the interaction port fed by this bot's update loop.
func (b *Bot) Port() *interaction.TelegramPort {
	return b.port
}

// Start begins processing updates.
func (b *Bot) Start() error {
	if !b.running.CompareAndSwap(false, true) {
		return fmt.Errorf("bot is already running")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	b.updates = b.api.GetUpdatesChan(u)

	go b.processUpdates()

	b.logger.Info().Msg("Telegram bot started")

	return nil
}

// Stop stops the update loop.
func (b *Bot) Stop() error {
	if !b.running.CompareAndSwap(true, false) {
		return fmt.Errorf("bot is not running")
	}

	b.api.StopReceivingUpdates()

	b.logger.Info().Msg("Telegram bot stopped")

	return nil
}

// processUpdates drains the update channel into the port.
func (b *Bot) processUpdates() {
	for update := range b.updates {
		if !b.running.Load() {
			break
		}
		b.handleUpdate(update)
	}
}

// handleUpdate routes one update. Callbacks resolve pending confirmations,
// replies from the bound chat resolve pending questions; everything else is
// ignored.
func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		if err := b.port.HandleCallback(update.CallbackQuery); err != nil {
			// Stale buttons are routine after a timeout.
			b.logger.Debug().Err(err).Msg("Callback resolved nothing")
		}
		return
	}

	if update.Message != nil && update.Message.Chat != nil {
		if update.Message.Chat.ID != b.chatID {
			return
		}
		if !b.port.HandleReply(update.Message) {
			b.logger.Debug().
				Int("message_id", update.Message.MessageID).
				Msg("Reply resolved nothing")
		}
	}
}
