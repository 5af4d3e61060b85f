// Package http exposes the Soulpull API over gin.
package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/open-builders/soulpull-backend/docs"
	"github.com/open-builders/soulpull-backend/internal/common/middleware"
	"github.com/open-builders/soulpull-backend/internal/config"
	httpmw "github.com/open-builders/soulpull-backend/internal/http/middleware"
	rplatform "github.com/open-builders/soulpull-backend/internal/platform/redis"
	"github.com/open-builders/soulpull-backend/internal/platform/telegram"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/admin"
	"github.com/open-builders/soulpull-backend/internal/service/participation"
	"github.com/open-builders/soulpull-backend/internal/service/payout"
	"github.com/open-builders/soulpull-backend/internal/service/session"
	"github.com/open-builders/soulpull-backend/internal/service/tonproof"
	usersvc "github.com/open-builders/soulpull-backend/internal/service/user"
)

// Deps are the collaborators the router wires into handlers. Redis and
// InitData may be nil.
type Deps struct {
	Store          repository.Store
	Redis          *rplatform.Client
	Verifier       *tonproof.Verifier
	Sessions       *session.Manager
	Users          *usersvc.Service
	Participations *participation.Service
	Payouts        *payout.Service
	Admin          *admin.Service
	InitData       *telegram.InitDataValidator
	Log            zerolog.Logger
}

// NewRouter builds the gin engine with every route and middleware wired.
func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	log := d.Log

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.SecurityHeaders(cfg.Debug))

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSAllowedOrigins) == 0 || cfg.Server.CORSAllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.CORSAllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.InitDataHeader, middleware.AdminTokenHeader, "X-Request-ID",
	}
	router.Use(cors.New(corsConfig))
	router.NoRoute(notFound)

	auth := &middleware.Auth{
		Sessions:         d.Sessions,
		Users:            d.Users,
		LegacyTelegramID: cfg.Payment.LegacyTelegramIDAuth,
		Log:              log,
	}
	if d.InitData != nil {
		auth.InitData = d.InitData
	}
	adminGuard := middleware.RequireAdmin(cfg.Admin.Token, log)
	limiter := httpmw.NewRateLimiter(d.Redis, httpmw.RateLimitConfig{
		Enabled:        cfg.RateLimit.Enabled,
		Capacity:       cfg.RateLimit.Capacity,
		RefillTokens:   cfg.RateLimit.RefillTokens,
		RefillInterval: cfg.RateLimit.RefillInterval,
		TTL:            cfg.RateLimit.TTL,
	}, log).Handler()

	router.GET("/health", health(cfg, d))
	router.GET("/tonconnect-manifest.json", manifest(cfg))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	v1.GET("/health", health(cfg, d))
	v1.GET("/tonconnect-manifest.json", manifest(cfg))

	NewTonProofHandlers(d.Verifier, d.Users, d.Sessions, cfg.TonProof.Domain, log).Register(v1, limiter)
	NewUserHandlers(d.Users, log).Register(v1, auth.Bearer(), auth.WalletLink(), auth.User())
	NewParticipationHandlers(d.Participations, cfg.Admin.Token, log).Register(v1, auth.User(), limiter)
	NewPayoutHandlers(d.Payouts, log).Register(v1, auth.User(), adminGuard, limiter)
	NewAdminHandlers(d.Admin, log).Register(v1, adminGuard)

	return router
}

// @Summary Liveness and dependency status
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func health(cfg *config.Config, d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		database := "connected"
		if err := d.Store.Ping(ctx); err != nil {
			database, status, code = "unavailable", "degraded", http.StatusServiceUnavailable
			d.Log.Warn().Err(err).Msg("health: database ping failed")
		}
		redisState := "disabled"
		if d.Redis != nil {
			redisState = "connected"
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				redisState, status, code = "unavailable", "degraded", http.StatusServiceUnavailable
				d.Log.Warn().Err(err).Msg("health: redis ping failed")
			}
		}
		c.JSON(code, gin.H{
			"status":          status,
			"receiver_wallet": cfg.Payment.ReceiverWallet,
			"database":        database,
			"redis":           redisState,
			"timestamp":       time.Now().UTC(),
		})
	}
}

func manifest(cfg *config.Config) gin.HandlerFunc {
	base := strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	icon := cfg.Payment.ManifestIconURL
	if icon == "" {
		icon = base + "/icon.png"
	}
	body := gin.H{
		"url":     base,
		"name":    cfg.Payment.ManifestAppName,
		"iconUrl": icon,
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, body)
	}
}
