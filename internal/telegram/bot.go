// Package telegram connects the bot to the Telegram Bot API: it delivers
// messages and turns incoming updates into chat actions.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/logging"
)

const retryDelay = 3 * time.Second

// Bot is a Telegram bot account.
type Bot struct {
	api         *tgbotapi.BotAPI
	pollTimeout int
	log         zerolog.Logger
}

var (
	_ chat.Sink             = (*Bot)(nil)
	_ chat.CallbackAnswerer = (*Bot)(nil)
)

// Option configures a Bot.
type Option func(*options)

type options struct {
	endpoint    string
	client      *http.Client
	pollTimeout int
}

// WithEndpoint overrides the API endpoint format, e.g. for a local Bot API
// server. It must contain two %s verbs for the token and the method.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithPollTimeout sets the long-poll timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(o *options) { o.pollTimeout = seconds }
}

// New authenticates with token and returns the bot.
func New(token string, opts ...Option) (*Bot, error) {
	o := options{
		endpoint:    tgbotapi.APIEndpoint,
		client:      &http.Client{Timeout: 90 * time.Second},
		pollTimeout: 60,
	}
	for _, opt := range opts {
		opt(&o)
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, o.endpoint, o.client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	return &Bot{
		api:         api,
		pollTimeout: o.pollTimeout,
		log:         logging.Component("telegram"),
	}, nil
}

// Username is the bot's @handle without the @.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Deliver sends msg and returns the new message id.
func (b *Bot) Deliver(_ context.Context, chatID int64, msg chat.Message) (int, error) {
	cfg := tgbotapi.NewMessage(chatID, msg.Text)
	if msg.HTML {
		cfg.ParseMode = tgbotapi.ModeHTML
	}
	cfg.DisableWebPagePreview = msg.DisablePreview

	switch {
	case len(msg.Buttons) > 0:
		cfg.ReplyMarkup = inlineKeyboard(msg.Buttons)
	case len(msg.Keyboard) > 0:
		row := make([]tgbotapi.KeyboardButton, 0, len(msg.Keyboard))
		for _, label := range msg.Keyboard {
			row = append(row, tgbotapi.NewKeyboardButton(label))
		}
		kb := tgbotapi.NewReplyKeyboard(row)
		kb.ResizeKeyboard = true
		cfg.ReplyMarkup = kb
	case msg.RemoveKeyboard:
		cfg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}

	sent, err := b.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text and inline keyboard of a message.
func (b *Bot) Edit(_ context.Context, chatID int64, messageID int, msg chat.Message) error {
	cfg := tgbotapi.NewEditMessageText(chatID, messageID, msg.Text)
	if msg.HTML {
		cfg.ParseMode = tgbotapi.ModeHTML
	}
	cfg.DisableWebPagePreview = msg.DisablePreview
	if len(msg.Buttons) > 0 {
		kb := inlineKeyboard(msg.Buttons)
		cfg.ReplyMarkup = &kb
	}

	if _, err := b.api.Send(cfg); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// Delete removes a message.
func (b *Bot) Delete(_ context.Context, chatID int64, messageID int) error {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press.
func (b *Bot) AnswerCallback(_ context.Context, callbackID, text string) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// Handler processes one action.
type Handler func(ctx context.Context, a chat.Action) error

// Poll long-polls for updates and passes each to h in order until ctx is
// cancelled. Handler errors are logged and do not stop polling.
func (b *Bot) Poll(ctx context.Context, h Handler) error {
	offset := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		cfg := tgbotapi.NewUpdate(offset)
		cfg.Timeout = b.pollTimeout
		cfg.AllowedUpdates = []string{"message", "callback_query", "my_chat_member"}

		updates, err := b.api.GetUpdates(cfg)
		if err != nil {
			b.log.Warn().Err(err).Msg("failed to get updates")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1

			a, ok := ToAction(u, b.api.Self.ID)
			if !ok {
				continue
			}
			if err := h(ctx, a); err != nil {
				b.log.Debug().Err(err).Int("update_id", u.UpdateID).Msg("update handler failed")
			}
		}
	}
}

func inlineKeyboard(rows [][]chat.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		out = append(out, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
