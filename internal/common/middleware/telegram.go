package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	userdomain "github.com/open-builders/soulpull-backend/internal/domain/user"
)

const InitDataHeader = "X-Telegram-Init-Data"

// maxLegacyBody bounds how much of a request body is buffered to look for
// telegram_id.
const maxLegacyBody = 64 << 10

// legacyTelegramID reads telegram_id from the query or a JSON body. The body
// is restored for the handler.
func legacyTelegramID(c *gin.Context) (int64, bool) {
	if id, ok := userdomain.ParseTelegramID(c.Query("telegram_id")); ok {
		return id, true
	}
	if c.Request.Body == nil || !strings.HasPrefix(c.ContentType(), "application/json") {
		return 0, false
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLegacyBody))
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return 0, false
	}

	var peek struct {
		TelegramID json.RawMessage `json:"telegram_id"`
	}
	if json.Unmarshal(body, &peek) != nil || len(peek.TelegramID) == 0 {
		return 0, false
	}
	raw := strings.Trim(string(peek.TelegramID), `"`)
	return userdomain.ParseTelegramID(raw)
}
