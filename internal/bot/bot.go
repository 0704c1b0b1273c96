package bot

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot runs the Telegram long-poll loop and feeds messages to the session
// manager. The manager is passed to Run rather than the constructor because
// it needs this bot's Sender first.
type Bot struct {
	api    *tgbotapi.BotAPI
	logger *log.Logger
}

// New connects to the Telegram API with the given token.
func New(token string, logger *log.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("bot: connect: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Bot{api: api, logger: logger}, nil
}

// Sender returns a Sender backed by this bot's Telegram connection.
func (b *Bot) Sender() Sender {
	return NewTelegramSender(b.api)
}

// Run consumes updates until ctx is cancelled. In-flight polls are cancelled
// and drained before returning.
func (b *Bot) Run(ctx context.Context, manager *Manager) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	b.logger.Printf("bot: listening as @%s", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			manager.Close()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				manager.Close()
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			manager.HandleMessage(ctx, update.Message.Chat.ID, update.Message.Text)
		}
	}
}
