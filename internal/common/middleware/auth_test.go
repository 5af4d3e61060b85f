package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCheckAdminToken(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		got      string
		code     string
	}{
		{"disabled", "", "anything", apperrors.CodeAdminDisabled},
		{"missing", "secret", "", apperrors.CodeUnauthorized},
		{"wrong", "secret", "secre", apperrors.CodeForbidden},
		{"ok", "secret", "secret", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAdminToken(tt.expected, tt.got)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestLegacyTelegramID(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		ctype  string
		want   int64
		ok     bool
	}{
		{name: "query", target: "/?telegram_id=42", want: 42, ok: true},
		{name: "json number", target: "/", body: `{"telegram_id":42,"tx_hash":"x"}`, ctype: "application/json", want: 42, ok: true},
		{name: "json string", target: "/", body: `{"telegram_id":"42"}`, ctype: "application/json; charset=utf-8", want: 42, ok: true},
		{name: "not numeric", target: "/?telegram_id=abc"},
		{name: "form body ignored", target: "/", body: `telegram_id=42`, ctype: "application/x-www-form-urlencoded"},
		{name: "missing", target: "/", body: `{}`, ctype: "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			if tt.ctype != "" {
				c.Request.Header.Set("Content-Type", tt.ctype)
			}

			id, ok := legacyTelegramID(c)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, id)

			rest, err := io.ReadAll(c.Request.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(rest), "body must stay readable")
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/admin", RequireAdmin("secret", zerolog.Nop()), func(c *gin.Context) {
		assert.True(t, IsAdmin(c))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
	assert.Contains(t, rec.Body.String(), `"request_id"`)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(AdminTokenHeader, "secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryWritesInternalError(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(zerolog.Nop()))
	r.GET("/boom", func(*gin.Context) { panic(errors.New("boom")) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":false`)
}

func TestSecurityHeaders(t *testing.T) {
	for _, debug := range []bool{false, true} {
		r := gin.New()
		r.Use(SecurityHeaders(debug))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
		assert.Equal(t, "geolocation=(), microphone=(), camera=()", w.Header().Get("Permissions-Policy"))
		if debug {
			assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
		} else {
			assert.Equal(t, hstsValue, w.Header().Get("Strict-Transport-Security"))
		}
	}
}
