// Package bot is the Telegram entry point into the Mini App. It answers
// /start with a button carrying the sender's referral link.
package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of *tgbotapi.BotAPI the bot needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api    Sender
	appURL string
	log    zerolog.Logger
}

func New(api Sender, appURL string, log zerolog.Logger) *Bot {
	return &Bot{api: api, appURL: strings.TrimRight(appURL, "/"), log: log}
}

// ReferralURL is the Mini App link that attributes newcomers to telegramID.
func (b *Bot) ReferralURL(telegramID int64) string {
	return b.appURL + "/?ref=" + strconv.FormatInt(telegramID, 10)
}

// Run handles updates until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	b.log.Info().Str("app_url", b.appURL).Msg("bot polling started")
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("bot polling stopped")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := b.HandleUpdate(u); err != nil {
				b.log.Warn().Err(err).Int("update_id", u.UpdateID).Msg("handle update")
			}
		}
	}
}

// HandleUpdate replies to private text messages. Everything else is ignored.
func (b *Bot) HandleUpdate(u tgbotapi.Update) error {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return nil
	}
	var reply tgbotapi.MessageConfig
	if msg.IsCommand() && msg.Command() == "start" {
		reply = b.startMessage(msg.Chat.ID, msg.From.ID, msg.From.UserName)
	} else {
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Command: <b>/start</b>\n\nSend /start to open the app.")
		reply.ParseMode = tgbotapi.ModeHTML
	}
	_, err := b.api.Send(reply)
	return err
}

func (b *Bot) startMessage(chatID, telegramID int64, username string) tgbotapi.MessageConfig {
	link := b.ReferralURL(telegramID)

	greeting := "Hi!"
	if username != "" {
		greeting = "Hi @" + html.EscapeString(username) + "!"
	}
	text := fmt.Sprintf("%s\n\nOpen Soulpull and continue:\n<code>%s</code>\n\nSign-in works only through the Telegram Mini App.",
		greeting, html.EscapeString(link))

	reply := tgbotapi.NewMessage(chatID, text)
	reply.ParseMode = tgbotapi.ModeHTML
	reply.DisableWebPagePreview = true
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Open Soulpull", link)),
	)
	return reply
}

// Updates starts long polling. Backlog left from a previous run is skipped.
func Updates(api *tgbotapi.BotAPI, log zerolog.Logger) tgbotapi.UpdatesChannel {
	offset := 0
	backlog, err := api.GetUpdates(tgbotapi.UpdateConfig{Timeout: 0})
	if err != nil {
		log.Warn().Err(err).Msg("could not skip update backlog")
	} else if n := len(backlog); n > 0 {
		offset = backlog[n-1].UpdateID + 1
	}

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = 25
	cfg.AllowedUpdates = []string{"message"}
	return api.GetUpdatesChan(cfg)
}
