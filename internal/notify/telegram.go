package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"vetclinic/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender is the subset of *tgbotapi.BotAPI the notifier needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends reminders as bot messages; the recipient is a chat id.
type TelegramNotifier struct {
	bot   TelegramSender
	label LabelFunc
	loc   *time.Location
}

func NewTelegramNotifier(bot TelegramSender, label LabelFunc, loc *time.Location) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, label: label, loc: loc}
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

func (n *TelegramNotifier) Notify(_ context.Context, _ models.Channel, recipient string, data TemplateData) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", recipient, err)
	}

	msg := tgbotapi.NewMessage(chatID, RenderText(data, n.label, n.loc))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
