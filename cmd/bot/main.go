package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/open-builders/soulpull-backend/internal/bot"
	"github.com/open-builders/soulpull-backend/internal/common/logger"
	"github.com/open-builders/soulpull-backend/internal/config"
	rplatform "github.com/open-builders/soulpull-backend/internal/platform/redis"
	"github.com/open-builders/soulpull-backend/internal/service/notifications"
	"github.com/open-builders/soulpull-backend/internal/workers"
)

func main() {
	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Init("soulpull-bot", cfg.Debug, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram bot init")
	}
	api.Debug = cfg.Debug
	logger.Info().Str("username", api.Self.UserName).Msg("bot authorized")

	// admin notifications need the redis events stream
	if notifier := notifications.NewService(api, cfg.Telegram.AdminChatID, logger.Component("notifications")); notifier != nil {
		if cfg.EventsSink() != "redis" {
			logger.Warn().Str("sink", cfg.EventsSink()).Msg("admin chat configured but EVENTS_SINK is not redis, notifications disabled")
		} else {
			rdb, err := rplatform.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				logger.Fatal().Err(err).Msg("redis open")
			}
			defer rdb.Close()
			worker := workers.NewRedisStreamWorker(rdb, cfg.Events.Stream, "bot-"+api.Self.UserName, notifier.Handle, logger.Component("stream"))
			go worker.Start(ctx)
		}
	}

	updates := bot.Updates(api, logger.Component("bot"))
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()
	bot.New(api, cfg.Telegram.AppURL, logger.Component("bot")).Run(ctx, updates)
	logger.Info().Msg("bot stopped")
}
