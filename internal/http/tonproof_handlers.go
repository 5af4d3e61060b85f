package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/open-builders/soulpull-backend/internal/service/session"
	"github.com/open-builders/soulpull-backend/internal/service/tonproof"
	usersvc "github.com/open-builders/soulpull-backend/internal/service/user"
)

// TonProofHandlers serve the wallet login: challenge, then proof verification
// that ends in a session token.
type TonProofHandlers struct {
	verifier *tonproof.Verifier
	users    *usersvc.Service
	sessions *session.Manager
	domain   string
	log      zerolog.Logger
}

func NewTonProofHandlers(v *tonproof.Verifier, users *usersvc.Service, sessions *session.Manager, domain string, log zerolog.Logger) *TonProofHandlers {
	return &TonProofHandlers{verifier: v, users: users, sessions: sessions, domain: domain, log: log}
}

// Register mounts both spellings used by TonConnect frontends.
func (h *TonProofHandlers) Register(r gin.IRoutes, limit gin.HandlerFunc) {
	for _, prefix := range []string{"/tonproof", "/ton-proof"} {
		r.GET(prefix+"/payload", limit, h.payload)
		r.POST(prefix+"/verify", limit, h.verify)
	}
}

// @Summary Issue a TON Proof challenge
// @Tags tonproof
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} middleware.ErrorResponse
// @Router /tonproof/payload [get]
func (h *TonProofHandlers) payload(c *gin.Context) {
	ch, err := h.verifier.Issue(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"payload":     ch.Payload,
		"issuedAt":    ch.IssuedAt,
		"ttlSeconds":  ch.TTLSeconds,
		"domain":      h.domain,
		"lengthBytes": len(h.domain),
	})
}

// @Summary Verify a TON Proof and open a session
// @Tags tonproof
// @Accept json
// @Produce json
// @Param request body tonproof.VerifyRequest true "TonConnect account and proof"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Router /tonproof/verify [post]
func (h *TonProofHandlers) verify(c *gin.Context) {
	var req tonproof.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.log, errInvalidBody.WithDetail("reason", err.Error()))
		return
	}
	ctx := c.Request.Context()

	res, err := h.verifier.Verify(ctx, &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	u, err := h.users.UpsertWallet(ctx, res.Address, res.PublicKey)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	tok, err := h.sessions.Issue(u)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	h.log.Info().Int64("user_id", u.ID).Str("address", res.Address).Msg("wallet proof verified")
	respond(c, http.StatusOK, gin.H{
		"token":      tok.Value,
		"expires_at": tok.ExpiresAt,
		"address":    res.Address,
		"user_id":    u.ID,
	})
}
