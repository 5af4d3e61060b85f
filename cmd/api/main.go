package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	rediscache "github.com/open-builders/soulpull-backend/internal/cache/redis"
	"github.com/open-builders/soulpull-backend/internal/common/logger"
	"github.com/open-builders/soulpull-backend/internal/config"
	apphttp "github.com/open-builders/soulpull-backend/internal/http"
	"github.com/open-builders/soulpull-backend/internal/platform/db"
	rplatform "github.com/open-builders/soulpull-backend/internal/platform/redis"
	"github.com/open-builders/soulpull-backend/internal/platform/telegram"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/repository/memory"
	"github.com/open-builders/soulpull-backend/internal/repository/postgres"
	"github.com/open-builders/soulpull-backend/internal/service/admin"
	"github.com/open-builders/soulpull-backend/internal/service/chain"
	"github.com/open-builders/soulpull-backend/internal/service/events"
	"github.com/open-builders/soulpull-backend/internal/service/participation"
	"github.com/open-builders/soulpull-backend/internal/service/payout"
	"github.com/open-builders/soulpull-backend/internal/service/session"
	"github.com/open-builders/soulpull-backend/internal/service/tonproof"
	usersvc "github.com/open-builders/soulpull-backend/internal/service/user"
)

// @title           Soulpull API
// @version         1.0
// @description     Referral network backend: TON Proof sign-in, USDT participation cycles, referral payouts and admin review.

// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description "Bearer <token>" issued by /tonproof/verify

// @securityDefinitions.apikey AdminToken
// @in header
// @name X-Admin-Token

// @tag.name tonproof
// @tag.description TON Proof challenge and verification
// @tag.name users
// @tag.description Identity registry
// @tag.name participation
// @tag.description Payment intents and confirmation
// @tag.name payout
// @tag.description Payout requests and settlement
// @tag.name admin
// @tag.description Review queues and decisions
// @tag.name system
// @tag.description Health and TonConnect manifest

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Init("soulpull-api", cfg.Debug, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store      repository.Store
		rdb        *rplatform.Client
		challenges tonproof.ChallengeStore
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn().Msg("STORE_DRIVER=memory: state is lost on restart")
		store = memory.NewStore()
		challenges = tonproof.NewMemoryChallengeStore(cfg.TonProof.PayloadTTL)
	default:
		if cfg.Postgres.AutoMigrate {
			if err := db.MigrateUp(cfg.Postgres.DSN); err != nil {
				logger.Fatal().Err(err).Msg("migrate")
			}
		}
		pg, err := db.Open(ctx, cfg.Postgres.DSN, db.Options{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLife,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres open")
		}
		defer pg.Close()
		store = postgres.NewStore(pg)

		rdb, err = rplatform.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis open")
		}
		defer rdb.Close()
		challenges = tonproof.NewRedisChallengeStore(rdb, cfg.TonProof.PayloadTTL)
	}

	var (
		ownerCache  session.OwnerCache
		walletCache usersvc.WalletCache
	)
	if rdb != nil {
		c := rediscache.NewWalletCache(rdb, cfg.Session.CacheTTL)
		ownerCache, walletCache = c, c
	}

	publisher, closePublisher := openPublisher(cfg, rdb)
	defer closePublisher()

	var (
		payments participation.PaymentChecker
		keys     tonproof.PublicKeyResolver
	)
	if cfg.Chain.Verify {
		api, err := chain.Dial(ctx, cfg.Chain.ConfigURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("ton liteservers")
		}
		client, err := chain.NewClient(api, cfg.Payment.ReceiverWallet, cfg.Payment.JettonMaster, cfg.Chain.ScanDepth, logger.Component("chain"))
		if err != nil {
			logger.Fatal().Err(err).Msg("chain client")
		}
		payments, keys = client, client
		logger.Info().Msg("on-chain payment verification enabled")
	}

	initData := telegram.NewInitDataValidator(cfg.Telegram.BotToken, cfg.Telegram.InitDataTTL)
	var verifier usersvc.InitDataVerifier
	if initData.Enabled() {
		verifier = initData
	}

	users := usersvc.NewService(store, walletCache, verifier, logger.Component("users"))
	parts := participation.NewService(store, participation.Config{
		ReceiverWallet:     cfg.Payment.ReceiverWallet,
		JettonMaster:       cfg.Payment.JettonMaster,
		JettonDecimals:     cfg.Payment.JettonDecimals,
		TicketCents:        cfg.Payment.TicketCents,
		ForwardTonNanotons: cfg.Payment.ForwardTonNanotons,
		IntentTTL:          cfg.Payment.IntentTTL,
		ReferralPoints:     cfg.Payment.ReferralPoints,
		AuthorPoints:       cfg.Payment.AuthorPoints,
		CommentPrefix:      cfg.Payment.CommentPrefix,
	}, payments, publisher, logger.Component("participation"))
	users.SetIntents(parts)

	go parts.RunExpiry(ctx, cfg.Payment.ExpiryInterval, cfg.Payment.IntentExpiryGrace)

	router := apphttp.NewRouter(cfg, apphttp.Deps{
		Store:          store,
		Redis:          rdb,
		Verifier:       tonproof.NewVerifier(challenges, cfg.TonProof.Domain, cfg.TonProof.MaxSkew, keys, logger.Component("tonproof")),
		Sessions:       session.NewManager(cfg.Session.Secret, cfg.Session.TTL, cfg.Session.Issuer, store, ownerCache, logger.Component("session")),
		Users:          users,
		Participations: parts,
		Payouts:        payout.NewService(store, cfg.Payment.PayoutCents, publisher, logger.Component("payout")),
		Admin:          admin.NewService(store, logger.Component("admin")),
		InitData:       initData,
		Log:            logger.Component("http"),
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.StoreDriver).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("server stopped")
}

// openPublisher picks the events sink. The returned func releases it.
func openPublisher(cfg *config.Config, rdb *rplatform.Client) (events.Publisher, func()) {
	lg := logger.Component("events")
	switch cfg.EventsSink() {
	case "amqp":
		p, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Queue, lg)
		if err != nil {
			logger.Fatal().Err(err).Msg("amqp dial")
		}
		return p, func() { _ = p.Close() }
	case "redis":
		if rdb == nil {
			lg.Warn().Msg("EVENTS_SINK=redis needs the postgres driver with redis, logging events instead")
			return events.NewLogPublisher(lg), func() {}
		}
		return events.NewStreamPublisher(rdb, cfg.Events.Stream, lg), func() {}
	default:
		return events.NewLogPublisher(lg), func() {}
	}
}
