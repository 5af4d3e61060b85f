package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	"github.com/open-builders/soulpull-backend/internal/common/middleware"
	userdomain "github.com/open-builders/soulpull-backend/internal/domain/user"
)

var errInvalidBody = apperrors.Validation(apperrors.CodeInvalidRequest, "invalid request body")

// flexString accepts a JSON string or number; clients send Telegram IDs both ways.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// telegramID parses f as a digits-only Telegram ID.
func (f flexString) telegramID() (int64, error) {
	id, ok := userdomain.ParseTelegramID(string(f))
	if !ok {
		return 0, apperrors.ErrInvalidTelegramID
	}
	return id, nil
}

// id parses f as a positive row id.
func (f flexString) id() (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
	return n, err == nil && n > 0
}

func respond(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["ok"] = true
	c.JSON(status, body)
}

func fail(c *gin.Context, log zerolog.Logger, err error) {
	middleware.WriteError(c, log, err)
}

// bindJSON decodes the body into dst. An empty body leaves dst untouched.
func bindJSON(c *gin.Context, log zerolog.Logger, dst interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		if err == io.EOF {
			return true
		}
		fail(c, log, errInvalidBody.WithDetail("reason", err.Error()))
		return false
	}
	return true
}

// queryLimit reads ?limit=, falling back to 0 (service default) when absent.
func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, middleware.ErrorResponse{
		Error:     "not_found",
		Kind:      apperrors.KindNotFound,
		Message:   "route not found",
		RequestID: middleware.GetRequestID(c),
	})
}
