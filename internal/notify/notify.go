// Package notify delivers short text messages to users out of band.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"secretshare-backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// ErrNoChat is returned when the recipient has no Telegram account linked
var ErrNoChat = errors.New("recipient has no telegram chat")

// Notifier sends a message to a resolved recipient
type Notifier interface {
	Notify(ctx context.Context, recipient models.UserFoundInfo, message string) error
}

// Sender is the part of *tgbotapi.BotAPI used for delivery
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier pushes messages through the bot API. Private chats
// share their id with the Telegram user id.
type TelegramNotifier struct {
	bot Sender
	log *zap.Logger
}

// NewTelegramNotifier connects to the bot API with token
func NewTelegramNotifier(token string, log *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	log.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
	return NewTelegramNotifierWithSender(bot, log), nil
}

// NewTelegramNotifierWithSender wraps an existing sender
func NewTelegramNotifierWithSender(bot Sender, log *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, log: log}
}

func (n *TelegramNotifier) Notify(ctx context.Context, recipient models.UserFoundInfo, message string) error {
	if recipient.TelegramID == "" {
		return ErrNoChat
	}
	chatID, err := strconv.ParseInt(recipient.TelegramID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram id %q: %w", recipient.TelegramID, err)
	}

	msg := tgbotapi.NewMessage(chatID, message)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	n.log.Debug("telegram notification sent", zap.String("user_id", recipient.UserID))
	return nil
}

// LogNotifier only logs messages. Used when no bot token is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, recipient models.UserFoundInfo, message string) error {
	n.log.Info("notification",
		zap.String("user_id", recipient.UserID),
		zap.String("username", recipient.Username),
		zap.String("message", message),
	)
	return nil
}
