package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers one text message to a chat. The session machine depends on
// this instead of the Telegram client so it can be driven in tests.
type Sender interface {
	Send(chatID int64, text string) error
}

type telegramSender struct {
	api *tgbotapi.BotAPI
}

// NewTelegramSender wraps a Telegram client as a Sender.
func NewTelegramSender(api *tgbotapi.BotAPI) Sender {
	return &telegramSender{api: api}
}

func (s *telegramSender) Send(chatID int64, text string) error {
	if _, err := s.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("bot: send to chat %d: %w", chatID, err)
	}
	return nil
}
