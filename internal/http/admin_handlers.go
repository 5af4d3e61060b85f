package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/open-builders/soulpull-backend/internal/service/admin"
)

type AdminHandlers struct {
	svc *admin.Service
	log zerolog.Logger
}

func NewAdminHandlers(svc *admin.Service, log zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{svc: svc, log: log}
}

func (h *AdminHandlers) Register(r *gin.RouterGroup, guard gin.HandlerFunc) {
	g := r.Group("/admin", guard)
	g.GET("/participations/pending", h.pendingParticipations)
	g.GET("/payouts/open", h.openPayouts)
	g.GET("/stats", h.stats)
	g.GET("/author-codes", h.listAuthorCodes)
	g.POST("/author-codes", h.createAuthorCode)
	g.POST("/author-codes/deactivate", h.deactivateAuthorCode)
}

// @Summary Participations waiting for a decision
// @Tags admin
// @Produce json
// @Security AdminToken
// @Param limit query int false "Max items (default 50, max 200)"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Router /admin/participations/pending [get]
func (h *AdminHandlers) pendingParticipations(c *gin.Context) {
	items, err := h.svc.ListPendingParticipations(c.Request.Context(), queryLimit(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// @Summary Open payout requests
// @Tags admin
// @Produce json
// @Security AdminToken
// @Param limit query int false "Max items (default 50, max 200)"
// @Success 200 {object} map[string]interface{}
// @Router /admin/payouts/open [get]
func (h *AdminHandlers) openPayouts(c *gin.Context) {
	items, err := h.svc.ListOpenPayouts(c.Request.Context(), queryLimit(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (h *AdminHandlers) stats(c *gin.Context) {
	st, err := h.svc.QueueStats(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"stats": st})
}

type authorCodeCreateRequest struct {
	Code            string     `json:"code"`
	OwnerTelegramID flexString `json:"owner_telegram_id"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

// @Summary Register an author code
// @Tags admin
// @Accept json
// @Produce json
// @Security AdminToken
// @Param request body authorCodeCreateRequest true "code and owner"
// @Success 201 {object} map[string]interface{}
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /admin/author-codes [post]
func (h *AdminHandlers) createAuthorCode(c *gin.Context) {
	var req authorCodeCreateRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	owner, err := req.OwnerTelegramID.telegramID()
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ac, err := h.svc.CreateAuthorCode(c.Request.Context(), req.Code, owner, req.ExpiresAt)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"author_code": ac})
}

// @Summary Registered author codes
// @Tags admin
// @Produce json
// @Security AdminToken
// @Param limit query int false "Max items (default 50, max 200)"
// @Success 200 {object} map[string]interface{}
// @Router /admin/author-codes [get]
func (h *AdminHandlers) listAuthorCodes(c *gin.Context) {
	items, err := h.svc.ListAuthorCodes(c.Request.Context(), queryLimit(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// @Summary Deactivate an author code
// @Tags admin
// @Accept json
// @Produce json
// @Security AdminToken
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} middleware.ErrorResponse
// @Router /admin/author-codes/deactivate [post]
func (h *AdminHandlers) deactivateAuthorCode(c *gin.Context) {
	var req authorCodeCreateRequest
	if !bindJSON(c, h.log, &req) {
		return
	}
	if err := h.svc.DeactivateAuthorCode(c.Request.Context(), req.Code); err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"code": req.Code, "active": false})
}
