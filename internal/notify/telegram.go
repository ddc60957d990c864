package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramBot is the part of the Bot API the transport uses.
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// Telegram sends messages to chat ids through the Telegram Bot API.
type Telegram struct {
	token   string
	factory BotFactory

	mu  sync.Mutex
	bot TelegramBot
}

// NewTelegram returns a transport authorizing lazily with token on first use.
func NewTelegram(token string) *Telegram {
	return NewTelegramWithFactory(token, defaultBotFactory)
}

// NewTelegramWithFactory is NewTelegram with a custom bot factory.
func NewTelegramWithFactory(token string, factory BotFactory) *Telegram {
	return &Telegram{token: token, factory: factory}
}

// Deliver implements Transport. address is the numeric chat id.
func (t *Telegram) Deliver(ctx context.Context, address, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", address, err)
	}
	bot, err := t.client()
	if err != nil {
		return err
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *Telegram) client() (TelegramBot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	if t.token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := t.factory(t.token, tgbotapi.APIEndpoint, http.DefaultClient)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	return bot, nil
}
