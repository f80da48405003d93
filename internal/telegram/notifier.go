// Package telegram sends operator alerts to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/aire/internal/models"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	api    Sender
	chatID int64
	log    *slog.Logger
	seen   *seenSet
}

func NewNotifier(api Sender, chatID int64, log *slog.Logger) *Notifier {
	return &Notifier{
		api:    api,
		chatID: chatID,
		log:    log,
		seen:   newSeenSet(),
	}
}

func (n *Notifier) Unlocked(_ context.Context, identity string, source models.UnlockSource) {
	n.sendText(fmt.Sprintf("🔓 %s unlocked (source: %s)", identity, source))
}

// PaywallHit alerts once per identity per process.
func (n *Notifier) PaywallHit(_ context.Context, identity string) {
	if !n.seen.Mark(identity) {
		return
	}
	n.sendText(fmt.Sprintf("💳 %s reached the free analysis limit", identity))
}

func (n *Notifier) Revoked(_ context.Context, identity string) {
	n.sendText(fmt.Sprintf("🔒 unlock revoked for %s", identity))
}

func (n *Notifier) sendText(text string) {
	msg := tgbotapi.NewMessage(n.chatID, strings.TrimSpace(text))
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		n.log.Error("telegram send failed", "chat_id", n.chatID, "err", err)
	}
}
