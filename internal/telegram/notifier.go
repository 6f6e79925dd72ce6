// Package telegram delivers staff notifications about the support queue to a
// Telegram chat through the Bot API.
package telegram

import (
	"context"
	"log"

	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const queueSize = 64

// Sender is the part of tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts queue events to the staff chat. Notify never blocks; a
// single goroutine started by Run talks to Telegram.
type Notifier struct {
	Bot       Sender
	ChatID    int64
	Localizer *localization.Localizer
	Lang      string

	queue chan tgbotapi.MessageConfig
}

// NewNotifier creates a notifier that logs in with token.
func NewNotifier(token string, chatID int64, loc *localization.Localizer, lang string) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Printf("[telegram] Authorized on account %s", bot.Self.UserName)
	return NewNotifierWithSender(bot, chatID, loc, lang), nil
}

// NewNotifierWithSender creates a notifier on an existing sender.
func NewNotifierWithSender(bot Sender, chatID int64, loc *localization.Localizer, lang string) *Notifier {
	return &Notifier{
		Bot:       bot,
		ChatID:    chatID,
		Localizer: loc,
		Lang:      lang,
		queue:     make(chan tgbotapi.MessageConfig, queueSize),
	}
}

// SupportRequestCreated announces a new Pending request.
func (n *Notifier) SupportRequestCreated(req *models.SupportRequest) {
	reason := n.Localizer.GetString(n.Lang, "no_reason")
	if req.Reason != nil && *req.Reason != "" {
		reason = *req.Reason
	}
	n.enqueue(n.Localizer.Sprintf(n.Lang, "support_request_created", req.ConversationID, req.CustomerID, reason))
}

// SupportRequestReverted announces a request that went back to the queue.
func (n *Notifier) SupportRequestReverted(req *models.SupportRequest) {
	n.enqueue(n.Localizer.Sprintf(n.Lang, "support_request_reverted", req.ID))
}

func (n *Notifier) enqueue(text string) {
	select {
	case n.queue <- tgbotapi.NewMessage(n.ChatID, text):
	default:
		log.Printf("WARNING: [telegram] notification queue full, dropping message")
	}
}

// Run sends queued notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if _, err := n.Bot.Send(msg); err != nil {
				log.Printf("ERROR: [telegram] failed to send notification: %v", err)
			}
		}
	}
}
