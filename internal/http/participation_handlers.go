package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	"github.com/open-builders/soulpull-backend/internal/common/middleware"
	userdomain "github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/service/participation"
)

type ParticipationHandlers struct {
	svc        *participation.Service
	adminToken string
	log        zerolog.Logger
}

func NewParticipationHandlers(svc *participation.Service, adminToken string, log zerolog.Logger) *ParticipationHandlers {
	return &ParticipationHandlers{svc: svc, adminToken: adminToken, log: log}
}

func (h *ParticipationHandlers) Register(r gin.IRoutes, user, limit gin.HandlerFunc) {
	for _, path := range []string{"/intent", "/participation/create", "/payments/create"} {
		r.POST(path, user, limit, h.createIntent)
	}
	r.POST("/payments/confirm", user, limit, h.confirmPayment)
	// user submission or admin decision, told apart by X-Admin-Token
	r.POST("/confirm", func(c *gin.Context) {
		if c.GetHeader(middleware.AdminTokenHeader) != "" {
			h.adminDecide(c)
			return
		}
		if user(c); c.IsAborted() {
			return
		}
		if limit(c); c.IsAborted() {
			return
		}
		h.confirmPayment(c)
	})
}

type intentRequest struct {
	ReferrerTelegramID flexString `json:"referrer_telegram_id"`
	Ref                flexString `json:"ref"`
	AuthorCode         string     `json:"author_code"`
}

// @Summary Create a payment intent
// @Description Opens a PENDING participation and returns the jetton transfer to make.
// @Tags participation
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body intentRequest false "Optional referrer and author code"
// @Success 200 {object} participation.PaymentIntent
// @Failure 409 {object} middleware.ErrorResponse
// @Failure 412 {object} middleware.ErrorResponse
// @Router /intent [post]
func (h *ParticipationHandlers) createIntent(c *gin.Context) {
	var req intentRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	in := participation.IntentRequest{AuthorCode: strings.TrimSpace(req.AuthorCode)}
	raw := req.ReferrerTelegramID
	if raw == "" {
		raw = req.Ref
	}
	if raw != "" {
		id, ok := userdomain.ParseTelegramID(raw.String())
		if !ok {
			fail(c, h.log, apperrors.ErrInvalidInviterFormat.WithDetail("referrer", raw.String()))
			return
		}
		in.ReferrerTelegramID = &id
	}

	intent, err := h.svc.CreateIntent(c.Request.Context(), middleware.GetUserID(c), in)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"intent": intent})
}

type confirmRequest struct {
	TxHash          string     `json:"tx_hash"`
	ParticipationID flexString `json:"participation_id"`
	Decision        string     `json:"decision"`
}

// @Summary Submit the payment transaction hash
// @Tags participation
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body confirmRequest true "tx_hash"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /payments/confirm [post]
func (h *ParticipationHandlers) confirmPayment(c *gin.Context) {
	var req confirmRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	p, err := h.svc.ConfirmPayment(c.Request.Context(), middleware.GetUserID(c), req.TxHash)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"participation": p})
}

// @Summary Confirm or reject a participation (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security AdminToken
// @Param request body confirmRequest true "participation_id, decision and optional tx_hash"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /confirm [post]
func (h *ParticipationHandlers) adminDecide(c *gin.Context) {
	if err := middleware.CheckAdminToken(h.adminToken, c.GetHeader(middleware.AdminTokenHeader)); err != nil {
		fail(c, h.log, err)
		return
	}
	var req confirmRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	id, ok := req.ParticipationID.id()
	if !ok {
		fail(c, h.log, apperrors.ErrParticipationNotFound.WithDetail("participation_id", req.ParticipationID.String()))
		return
	}
	p, err := h.svc.AdminDecide(c.Request.Context(), id, req.Decision, req.TxHash, adminActor(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"participation": p})
}

// adminActor names the reviewer recorded in decided_by.
func adminActor(c *gin.Context) string {
	if actor := strings.TrimSpace(c.GetHeader("X-Admin-Actor")); actor != "" && len(actor) <= 64 {
		return "admin:" + actor
	}
	return "admin"
}
