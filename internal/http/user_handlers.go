package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	"github.com/open-builders/soulpull-backend/internal/common/middleware"
	"github.com/open-builders/soulpull-backend/internal/service/tonproof"
	usersvc "github.com/open-builders/soulpull-backend/internal/service/user"
)

type UserHandlers struct {
	users *usersvc.Service
	log   zerolog.Logger
}

func NewUserHandlers(users *usersvc.Service, log zerolog.Logger) *UserHandlers {
	return &UserHandlers{users: users, log: log}
}

// Register mounts registry routes. bearer guards routes that need a proven
// wallet, link additionally needs a proven Telegram account, user accepts the
// compatibility fallbacks too.
func (h *UserHandlers) Register(r gin.IRoutes, bearer, link, user gin.HandlerFunc) {
	r.POST("/register", h.register)
	r.POST("/wallet", link, h.linkWallet)
	r.POST("/telegram/verify", bearer, h.verifyTelegram)
	r.POST("/inviter/apply", bearer, h.applyInviter)
	r.POST("/author-code/apply", bearer, h.applyAuthorCode)
	r.GET("/me", user, h.me)
}

type registerRequest struct {
	TelegramID flexString `json:"telegram_id"`
	Username   string     `json:"username"`
}

// @Summary Register a Telegram user
// @Tags users
// @Accept json
// @Produce json
// @Param request body registerRequest true "Telegram identity"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} middleware.ErrorResponse
// @Router /register [post]
func (h *UserHandlers) register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	tgID, err := req.TelegramID.telegramID()
	if err != nil {
		fail(c, h.log, err)
		return
	}
	u, err := h.users.Register(c.Request.Context(), tgID, req.Username)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": u})
}

type walletRequest struct {
	TelegramID    flexString `json:"telegram_id"`
	Wallet        string     `json:"wallet"`
	WalletAddress string     `json:"wallet_address"`
	Username      string     `json:"username"`
}

// @Summary Link the session wallet to a Telegram user
// @Description The wallet must be the one proven by the bearer token and the
// @Description Telegram account must be proven by X-Telegram-Init-Data.
// @Tags users
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body walletRequest true "Telegram ID and wallet"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /wallet [post]
func (h *UserHandlers) linkWallet(c *gin.Context) {
	var req walletRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	tgID := middleware.GetTelegramID(c)
	if req.TelegramID != "" {
		claimed, err := req.TelegramID.telegramID()
		if err != nil {
			fail(c, h.log, err)
			return
		}
		if claimed != tgID {
			fail(c, h.log, apperrors.ErrTelegramMismatch.WithDetail("telegram_id", claimed))
			return
		}
	}

	session := middleware.GetWallet(c)
	wallet := req.Wallet
	if wallet == "" {
		wallet = req.WalletAddress
	}
	if wallet != "" {
		addr, err := tonproof.NormalizeAddress(wallet)
		if err != nil {
			fail(c, h.log, apperrors.ErrInvalidAddress)
			return
		}
		if addr != session {
			fail(c, h.log, apperrors.ErrWalletMismatch)
			return
		}
	}

	username := req.Username
	if username == "" {
		username = middleware.GetTelegramUsername(c)
	}
	u, err := h.users.LinkWallet(c.Request.Context(), tgID, username, session)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": u})
}

type verifyTelegramRequest struct {
	InitData      string `json:"initData"`
	InitDataSnake string `json:"init_data"`
}

// @Summary Link the Telegram account proven by Mini App init data
// @Tags users
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body verifyTelegramRequest true "Raw initData"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} middleware.ErrorResponse
// @Router /telegram/verify [post]
func (h *UserHandlers) verifyTelegram(c *gin.Context) {
	var req verifyTelegramRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	raw := req.InitData
	if raw == "" {
		raw = req.InitDataSnake
	}
	if raw == "" {
		raw = c.GetHeader(middleware.InitDataHeader)
	}
	u, err := h.users.VerifyTelegram(c.Request.Context(), middleware.GetUserID(c), raw)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": u})
}

type inviterRequest struct {
	Inviter flexString `json:"inviter"`
}

// @Summary Set the inviter once
// @Tags users
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body inviterRequest true "Inviter Telegram ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /inviter/apply [post]
func (h *UserHandlers) applyInviter(c *gin.Context) {
	var req inviterRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	u, err := h.users.ApplyInviter(c.Request.Context(), middleware.GetUserID(c), req.Inviter.String())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": u})
}

type authorCodeRequest struct {
	Code       string `json:"code"`
	AuthorCode string `json:"author_code"`
}

// @Summary Set the author code once
// @Tags users
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body authorCodeRequest true "Author code"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /author-code/apply [post]
func (h *UserHandlers) applyAuthorCode(c *gin.Context) {
	var req authorCodeRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	code := req.Code
	if strings.TrimSpace(code) == "" {
		code = req.AuthorCode
	}
	u, err := h.users.ApplyAuthorCode(c.Request.Context(), middleware.GetUserID(c), code)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": u})
}

// @Summary Current user's profile, cycle and referral stats
// @Tags users
// @Produce json
// @Security Bearer
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} middleware.ErrorResponse
// @Router /me [get]
func (h *UserHandlers) me(c *gin.Context) {
	p, err := h.users.Profile(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"user":          p.User,
		"participation": p.Participation,
		"intent":        p.Intent,
		"stats":         p.Stats,
		"referrals":     p.Referrals,
		"open_payout":   p.OpenPayout,
	})
}
