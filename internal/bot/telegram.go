package bot

import (
	"fmt"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramMessenger adapts the Bot API client to the relay pipeline's
// outbound surface.
type TelegramMessenger struct {
	api *tgbotapi.BotAPI
}

// NewMessenger wraps an authorized Bot API client.
func NewMessenger(api *tgbotapi.BotAPI) *TelegramMessenger {
	return &TelegramMessenger{api: api}
}

func (m *TelegramMessenger) SendMessage(chatID int64, text string) (int, error) {
	sent, err := m.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, fmt.Errorf("sending message: %w", err)
	}
	return sent.MessageID, nil
}

func (m *TelegramMessenger) EditMessage(chatID int64, messageID int, text string) error {
	if _, err := m.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		return fmt.Errorf("editing message %d: %w", messageID, err)
	}
	return nil
}

func (m *TelegramMessenger) SendDocument(chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	if _, err := m.api.Send(doc); err != nil {
		return fmt.Errorf("uploading document %s: %w", filepath.Base(path), err)
	}
	return nil
}
