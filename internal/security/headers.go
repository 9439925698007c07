// Package security hardens registry responses and applies the CORS policy.
package security

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// Headers the API accepts cross-origin. X-Admin-Secret gates config and
// penalty routes.
var allowedHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-API-Key",
	"X-Admin-Secret",
	"X-Request-ID",
}, ", ")

const allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"

// Headers sets response hardening headers. hsts adds Strict-Transport-Security
// and should only be enabled behind TLS.
func Headers(hsts bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		// JSON only, plus the event stream.
		h.Set("Content-Security-Policy", "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'")
		// API keys and balances must not be cached.
		h.Set("Cache-Control", "no-store")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// CORS answers cross-origin requests from origins. An empty list allows any
// origin without credentials; "*" in the list does the same. Preflights from
// origins outside the list get 403.
func CORS(origins []string) gin.HandlerFunc {
	anyOrigin := len(origins) == 0 || slices.Contains(origins, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		c.Writer.Header().Add("Vary", "Origin")

		allowed := anyOrigin || slices.Contains(origins, origin)
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		if !allowed {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
		if !anyOrigin {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if preflight {
			h.Set("Access-Control-Allow-Methods", allowedMethods)
			h.Set("Access-Control-Allow-Headers", allowedHeaders)
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
