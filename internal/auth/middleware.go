package auth

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/validation"
)

const (
	// ContextKeyAPIKey holds the *APIKey of an authenticated request.
	ContextKeyAPIKey = "agentregistry.apiKey"

	// AdminSecretHeader carries the operator secret for admin routes.
	AdminSecretHeader = "X-Admin-Secret"

	adminSecretEnv = "ADMIN_SECRET"
)

func presentedKey(c *gin.Context) string {
	if v := c.GetHeader("Authorization"); v != "" {
		return v
	}
	return c.GetHeader("X-API-Key")
}

// Middleware resolves the presented key, if any, and records the caller on
// the gin and request contexts. It never rejects; route groups that need a
// caller add RequireAuth.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if presented := presentedKey(c); presented != "" {
			if key, err := m.Authenticate(c.Request.Context(), presented); err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Request = c.Request.WithContext(logging.WithCaller(c.Request.Context(), key.Identity.Hex()))
			}
		}
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthenticated",
		"message": "send a valid key as 'Authorization: Bearer " + KeyPrefix + "...'",
	})
}

// RequireAuth rejects requests without a valid key.
func RequireAuth(*Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetAPIKey(c); !ok {
			abortUnauthenticated(c)
			return
		}
		c.Next()
	}
}

// RequireOwnership admits only the identity named by the param route
// segment. Engine operations still check ownership against the stored agent.
func RequireOwnership(_ *Manager, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := Caller(c)
		if !ok {
			abortUnauthenticated(c)
			return
		}
		target, err := validation.ParseAddress(c.Param(param))
		if err != nil || target != caller {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": "caller does not own this agent",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin gates operator routes on ADMIN_SECRET. Without a secret
// configured any authenticated caller passes; with one, the
// X-Admin-Secret header must match it.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if os.Getenv(adminSecretEnv) == "" {
			if _, ok := GetAPIKey(c); !ok {
				abortUnauthenticated(c)
				return
			}
			c.Next()
			return
		}
		if !IsAdminRequest(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": "operator secret required",
			})
			return
		}
		c.Next()
	}
}

// IsAdminRequest reports whether the request carries the configured secret.
// It is always false when no secret is configured.
func IsAdminRequest(c *gin.Context) bool {
	secret := os.Getenv(adminSecretEnv)
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.GetHeader(AdminSecretHeader)), []byte(secret)) == 1
}

// GetAPIKey returns the key that authenticated the request.
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, ok := c.Get(ContextKeyAPIKey)
	if !ok {
		return nil, false
	}
	k, ok := v.(*APIKey)
	return k, ok
}

// Caller returns the authenticated identity handed to the engine.
func Caller(c *gin.Context) (common.Address, bool) {
	k, ok := GetAPIKey(c)
	if !ok {
		return common.Address{}, false
	}
	return k.Identity, true
}
