package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"TelegramPipeline/internal/ports"
)

const maxMessageLength = 4096

// Notifier sends run summaries to a Telegram chat via bot API.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) (*Notifier, error) {
	return NewNotifierWithEndpoint(botToken, chatID, tgbotapi.APIEndpoint)
}

// NewNotifierWithEndpoint is NewNotifier against a custom Bot API endpoint
// in the "<base>/bot%s/%s" format.
func NewNotifierWithEndpoint(botToken, chatID, endpoint string) (*Notifier, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("telegram notifier misconfigured")
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: id}, nil
}

// PublishSummary posts a plain-text message to the chat.
func (n *Notifier) PublishSummary(ctx context.Context, summary string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(summary) == "" {
		return nil
	}

	text := []rune(summary)
	if len(text) > maxMessageLength {
		text = append(text[:maxMessageLength-1], '…')
	}

	msg := tgbotapi.NewMessage(n.chatID, string(text))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send summary: %w", err)
	}
	return nil
}
