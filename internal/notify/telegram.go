package notify

import (
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatSender delivers text messages to a chat.
type ChatSender interface {
	SendMarkdown(chatID int64, text string) error
}

// TelegramSender sends messages through a Telegram bot.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

// NewTelegramSender authorizes the bot token against the Telegram API.
func NewTelegramSender(token string) (*TelegramSender, error) {
	return NewTelegramSenderWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{})
}

// NewTelegramSenderWithEndpoint is NewTelegramSender against another API
// endpoint, formatted like tgbotapi.APIEndpoint.
func NewTelegramSenderWithEndpoint(token, endpoint string, client tgbotapi.HTTPClient) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	return &TelegramSender{api: api}, nil
}

// Username is the bot's handle, used for the account-linking deep link.
func (s *TelegramSender) Username() string {
	return s.api.Self.UserName
}

func (s *TelegramSender) SendMarkdown(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// SetWebhook points the bot's updates at url.
func (s *TelegramSender) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url %q: %w", url, err)
	}
	if _, err := s.api.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	return nil
}
