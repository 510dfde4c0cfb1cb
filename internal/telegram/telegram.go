// Package telegram wraps the Telegram Bot API client for ClubAssist.
//
// It provides methods for sending user-facing replies (with the main menu
// keyboard), delivering operator notifications to the service chat, and
// registering the inbound webhook.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Menu button labels. These double as the command vocabulary the webhook
// router recognizes.
const (
	// MenuBooking starts the scripted booking form.
	MenuBooking = "Быстрая запись"
	// MenuConsult starts a free-form assistant consultation.
	MenuConsult = "Консультация"
)

// Sender is the outbound-messaging abstraction held by the webhook router
// (for production and testing).
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWithMenu(ctx context.Context, chatID int64, text string) error
	NotifyOperator(ctx context.Context, text string) error
}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token          string // bot token, required
	OperatorChatID int64  // service chat for booking notifications, optional
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithOperatorChatID sets the operator notification chat.
func WithOperatorChatID(chatID int64) Option {
	return func(o *Opts) { o.OperatorChatID = chatID }
}

// Client wraps the Telegram bot API for modular use.
type Client struct {
	bot            *tgbotapi.BotAPI
	operatorChatID int64
}

// NewClient creates a Telegram client. The token is validated here: a missing
// token is an explicit startup error rather than a deferred crash when the
// first request URL is built.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		slog.Error("telegram.NewClient: failed to initialize bot API", "error", err)
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}

	slog.Info("telegram.NewClient: bot authorized", "username", bot.Self.UserName, "operator_chat_set", cfg.OperatorChatID != 0)
	return &Client{bot: bot, operatorChatID: cfg.OperatorChatID}, nil
}

// mainMenu is the persistent reply keyboard shown with most bot replies.
func mainMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(MenuBooking)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(MenuConsult)),
	)
}

// SendMessage sends a plain text reply.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		slog.Error("telegram.SendMessage: send failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	slog.Debug("telegram.SendMessage: sent", "chatID", chatID, "length", len(text))
	return nil
}

// SendMessageWithMenu sends a reply with the main menu keyboard attached.
func (c *Client) SendMessageWithMenu(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainMenu()
	if _, err := c.bot.Send(msg); err != nil {
		slog.Error("telegram.SendMessageWithMenu: send failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	slog.Debug("telegram.SendMessageWithMenu: sent", "chatID", chatID, "length", len(text))
	return nil
}

// NotifyOperator delivers a booking notification to the configured service
// chat. An unset operator chat degrades to a warning; booking persistence
// does not depend on the notification.
func (c *Client) NotifyOperator(ctx context.Context, text string) error {
	if c.operatorChatID == 0 {
		slog.Warn("telegram.NotifyOperator: operator chat not configured, skipping notification")
		return nil
	}
	msg := tgbotapi.NewMessage(c.operatorChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := c.bot.Send(msg); err != nil {
		slog.Error("telegram.NotifyOperator: send failed", "error", err, "operatorChatID", c.operatorChatID)
		return fmt.Errorf("failed to send operator notification: %w", err)
	}
	slog.Info("telegram.NotifyOperator: notification sent")
	return nil
}

// SetWebhook registers url as the bot's inbound webhook.
func (c *Client) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("failed to build webhook config: %w", err)
	}
	if _, err := c.bot.Request(wh); err != nil {
		slog.Error("telegram.SetWebhook: request failed", "error", err, "url", url)
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	slog.Info("telegram.SetWebhook: webhook updated", "url", url)
	return nil
}
