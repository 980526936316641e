package notify

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the part of tgbotapi.BotAPI the sender needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts messages to the resource owner's chat.
// Messages without a chat are skipped, not failed.
type TelegramSender struct {
	bot BotAPI
	// fallbackChatID receives messages for resources without their own chat.
	fallbackChatID int64
}

func NewTelegramSender(bot BotAPI, fallbackChatID int64) *TelegramSender {
	return &TelegramSender{bot: bot, fallbackChatID: fallbackChatID}
}

// NewTelegramBot connects to the Bot API with the given token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram: token is empty")
	}
	return tgbotapi.NewBotAPI(token)
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	chatID := msg.ChatID
	if chatID == 0 {
		chatID = s.fallbackChatID
	}
	if chatID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := tgbotapi.NewMessage(chatID, FormatText(msg))
	out.DisableWebPagePreview = true
	_, err := s.bot.Send(out)
	return err
}
