package middleware

import "github.com/gin-gonic/gin"

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeaders sets browser hardening headers on every response. Framing
// stays allowed for the same origin so the Mini App can embed its own pages.
// HSTS is only sent outside debug mode, where TLS terminates at the proxy.
func SecurityHeaders(debug bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		if !debug {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		c.Next()
	}
}
