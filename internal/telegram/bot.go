// Package telegram is the chat transport: it receives subscriber commands,
// delivers notifications and forwards operator alerts.
package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"jobmate/notifier-service/internal/notify"
)

// Sender is the part of *tgbotapi.BotAPI used for outgoing messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot implements notify.Sink and notify.Alerter on top of the Bot API.
type Bot struct {
	api       *tgbotapi.BotAPI
	sender    Sender
	commands  *Commands
	operators []int64
	logger    *slog.Logger

	wg sync.WaitGroup
}

var (
	_ notify.Sink    = (*Bot)(nil)
	_ notify.Alerter = (*Bot)(nil)
)

// NewBot connects to the Bot API with token.
func NewBot(token string, commands *Commands, operators []int64, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram bot: %w", err)
	}
	b := NewBotWithSender(api, commands, operators, logger)
	b.api = api
	b.logger.Info("authorized", "username", api.Self.UserName)
	return b, nil
}

// NewBotWithSender builds a Bot that only sends through s. It cannot Listen.
func NewBotWithSender(s Sender, commands *Commands, operators []int64, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		sender:    s,
		commands:  commands,
		operators: operators,
		logger:    logger.With("component", "telegram"),
	}
}

// Listen long-polls for updates until ctx is cancelled. Each command is
// handled in its own goroutine so a slow /get_jobs does not block other chats.
func (b *Bot) Listen(ctx context.Context) {
	if b.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("listening for commands")
	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			return
		case upd, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return
			}
			if upd.Message == nil || !upd.Message.IsCommand() {
				continue
			}
			msg := upd.Message
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleMessage(ctx, msg.Chat.ID, msg.Command(), msg.CommandArguments())
			}()
		}
	}
}

// HandleMessage runs one command and sends its replies.
func (b *Bot) HandleMessage(ctx context.Context, chatID int64, command, args string) {
	b.logger.Debug("command", "subscriber_id", chatID, "command", command)
	for _, r := range b.commands.Handle(ctx, chatID, command, args) {
		msg := tgbotapi.NewMessage(chatID, r.Text)
		if r.HTML {
			msg.ParseMode = tgbotapi.ModeHTML
		}
		if _, err := b.sender.Send(msg); err != nil {
			b.logger.Warn("reply failed", "subscriber_id", chatID, "command", command, "err", err)
		}
	}
}

// Deliver sends a rendered notification. Failures are logged only.
func (b *Bot) Deliver(_ context.Context, subscriberID int64, text string) {
	msg := tgbotapi.NewMessage(subscriberID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Warn("delivery failed", "subscriber_id", subscriberID, "err", err)
	}
}

// Alert messages every operator.
func (b *Bot) Alert(_ context.Context, a notify.Alert) {
	text := fmt.Sprintf("⚠️ <b>%s</b>\nsubscriber: %d\nrun: %s\n%s",
		html.EscapeString(a.Type), a.SubscriberID, html.EscapeString(a.RunID), html.EscapeString(a.Error))
	for _, id := range b.operators {
		msg := tgbotapi.NewMessage(id, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := b.sender.Send(msg); err != nil {
			b.logger.Warn("alert failed", "operator_id", id, "err", err)
		}
	}
}
