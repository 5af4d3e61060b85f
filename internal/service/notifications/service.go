// Package notifications tells the admin chat about events that need review.
package notifications

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/open-builders/soulpull-backend/internal/bot"
	"github.com/open-builders/soulpull-backend/internal/service/events"
)

// Service formats domain events and posts them to the admin chat.
type Service struct {
	tg     bot.Sender
	chatID int64
	log    zerolog.Logger
}

// NewService returns nil when chatID is zero; a nil Service ignores events.
func NewService(tg bot.Sender, chatID int64, log zerolog.Logger) *Service {
	if tg == nil || chatID == 0 {
		return nil
	}
	return &Service{tg: tg, chatID: chatID, log: log}
}

// Handle sends a message for events an admin acts on and skips the rest.
func (s *Service) Handle(_ context.Context, e events.Event) error {
	if s == nil {
		return nil
	}
	text := buildMessage(e)
	if text == "" {
		return nil
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := s.tg.Send(msg); err != nil {
		return fmt.Errorf("send %s notification: %w", e.Type, err)
	}
	s.log.Debug().Str("event", string(e.Type)).Int64("chat_id", s.chatID).Msg("admin notified")
	return nil
}

func buildMessage(e events.Event) string {
	var b strings.Builder
	switch e.Type {
	case events.PaymentSubmitted:
		b.WriteString("💳 Payment submitted, review needed\n\n")
		fmt.Fprintf(&b, "Participation: <b>#%d</b>\nUser: %d\n", e.ParticipationID, e.UserID)
		if e.Status != "" {
			fmt.Fprintf(&b, "Status: %s\n", html.EscapeString(e.Status))
		}
	case events.PayoutRequested:
		b.WriteString("💸 Payout requested\n\n")
		fmt.Fprintf(&b, "Payout: <b>#%d</b>\nUser: %d\nParticipation: #%d\n", e.PayoutID, e.UserID, e.ParticipationID)
	case events.RiskDetected:
		b.WriteString("⚠️ Rejected attempt\n\n")
		fmt.Fprintf(&b, "Reason: <b>%s</b>\nUser: %d\n", html.EscapeString(e.Reason), e.UserID)
		if e.ParticipationID != 0 {
			fmt.Fprintf(&b, "Participation: #%d\n", e.ParticipationID)
		}
	default:
		return ""
	}
	if !e.At.IsZero() {
		b.WriteString(e.At.UTC().Format("02 Jan 2006 15:04 UTC"))
	}
	return b.String()
}
