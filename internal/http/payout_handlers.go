package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	"github.com/open-builders/soulpull-backend/internal/common/middleware"
	"github.com/open-builders/soulpull-backend/internal/service/payout"
)

type PayoutHandlers struct {
	svc *payout.Service
	log zerolog.Logger
}

func NewPayoutHandlers(svc *payout.Service, log zerolog.Logger) *PayoutHandlers {
	return &PayoutHandlers{svc: svc, log: log}
}

func (h *PayoutHandlers) Register(r gin.IRoutes, user, admin, limit gin.HandlerFunc) {
	r.POST("/payout", user, limit, h.request)
	r.POST("/payout/request", user, limit, h.request)
	r.POST("/payout/mark", admin, h.mark)
}

// @Summary Request a payout for the current cycle
// @Tags payout
// @Produce json
// @Security Bearer
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} middleware.ErrorResponse
// @Failure 412 {object} middleware.ErrorResponse
// @Router /payout [post]
func (h *PayoutHandlers) request(c *gin.Context) {
	r, err := h.svc.RequestPayout(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"payout": r})
}

type markRequest struct {
	PayoutRequestID flexString `json:"payout_request_id"`
	PayoutID        flexString `json:"payout_id"`
	TxHash          string     `json:"tx_hash"`
	Decision        string     `json:"decision"`
}

// @Summary Settle a payout request (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security AdminToken
// @Param request body markRequest true "payout_request_id, tx_hash and decision (default sent)"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /payout/mark [post]
func (h *PayoutHandlers) mark(c *gin.Context) {
	var req markRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	raw := req.PayoutRequestID
	if raw == "" {
		raw = req.PayoutID
	}
	id, ok := raw.id()
	if !ok {
		fail(c, h.log, apperrors.ErrPayoutNotFound.WithDetail("payout_request_id", raw.String()))
		return
	}
	r, err := h.svc.MarkSettled(c.Request.Context(), id, req.Decision, req.TxHash, adminActor(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"payout": r})
}
