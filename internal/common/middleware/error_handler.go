package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
)

const RequestIDKey = "request_id"

// RequestID propagates X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// Recovery turns panics into an internal_error response.
func Recovery(logger zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error().
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("panic", fmt.Sprintf("%v", recovered)).
			Str("stack", string(debug.Stack())).
			Msg("Panic recovered")

		WriteError(c, logger, apperrors.Internal(fmt.Errorf("panic: %v", recovered)))
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	OK        bool                   `json:"ok"`
	Error     string                 `json:"error"`
	Kind      apperrors.Kind         `json:"kind"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
}

// WriteError aborts the request with err rendered as ErrorResponse.
func WriteError(c *gin.Context, logger zerolog.Logger, err error) {
	appErr := apperrors.From(err)
	status := appErr.HTTPStatus()
	logError(c, logger, appErr, status)

	resp := ErrorResponse{
		OK:        false,
		Error:     appErr.Code,
		Kind:      appErr.Kind,
		Message:   appErr.Message,
		Details:   appErr.Details,
		RequestID: GetRequestID(c),
	}
	if c.Writer.Written() {
		return
	}
	c.AbortWithStatusJSON(status, resp)
}

func logError(c *gin.Context, logger zerolog.Logger, appErr *apperrors.AppError, status int) {
	var ev *zerolog.Event
	switch {
	case status >= http.StatusInternalServerError:
		ev = logger.Error()
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		ev = logger.Warn()
	default:
		ev = logger.Info()
	}
	ev = ev.
		Str("request_id", GetRequestID(c)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("error_code", appErr.Code).
		Str("kind", string(appErr.Kind)).
		Int("status", status)
	if uid := GetUserID(c); uid != 0 {
		ev = ev.Int64("user_id", uid)
	}
	if appErr.Cause != nil {
		ev = ev.Err(appErr.Cause)
	}
	ev.Msg(appErr.Message)
}

// GetRequestID returns the id set by RequestID.
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return "unknown"
}
