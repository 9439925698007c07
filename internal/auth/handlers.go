package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/validation"
)

const shownOnce = "store this key now; it cannot be retrieved again"

// Handler serves identity claims and key management.
type Handler struct {
	manager *Manager
}

// NewHandler returns a Handler over m.
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterRoutes mounts the claim route and the key routes. The group must
// already run Middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/info", h.Info)
	r.POST("/identities", h.ClaimIdentity)

	keys := r.Group("/auth", RequireAuth(h.manager))
	keys.GET("/me", h.Me)
	keys.GET("/keys", h.ListKeys)
	keys.POST("/keys", h.CreateKey)
	keys.DELETE("/keys/:keyId", h.RevokeKey)
	keys.POST("/keys/:keyId/rotate", h.RotateKey)
}

// Info describes how to authenticate.
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"scheme":  "api_key",
		"headers": []string{"Authorization: Bearer " + KeyPrefix + "...", "X-API-Key: " + KeyPrefix + "..."},
		"claim":   "POST /v1/identities {\"address\": \"0x...\"}",
		"caller":  "mutations run as the identity the key was issued to",
		"admin":   "operator routes also require " + AdminSecretHeader + " when ADMIN_SECRET is set",
	})
}

// ClaimRequest names the identity to claim.
type ClaimRequest struct {
	Address string `json:"address" binding:"required"`
	Name    string `json:"name"`
}

// ClaimIdentity handles POST /identities.
func (h *Handler) ClaimIdentity(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "address is required"})
		return
	}
	identity, err := validation.Identity(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_identity", "message": err.Error()})
		return
	}
	if !validName(c, req.Name) {
		return
	}

	raw, key, err := h.manager.ClaimIdentity(c.Request.Context(), identity, orDefault(req.Name, "primary"))
	switch {
	case errors.Is(err, ErrIdentityClaimed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "identity_claimed",
			"message": "identity already holds a key; mint more with POST /v1/auth/keys",
		})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("identity claim failed", "identity", identity.Hex(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "could not issue key"})
		return
	}

	logging.L(c.Request.Context()).Info("identity claimed", "identity", identity.Hex(), "key_id", key.ID)
	c.JSON(http.StatusCreated, gin.H{
		"identity": key.Identity,
		"apiKey":   raw,
		"keyId":    key.ID,
		"warning":  shownOnce,
	})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	key, _ := GetAPIKey(c)
	c.JSON(http.StatusOK, gin.H{"identity": key.Identity, "key": key})
}

// ListKeys handles GET /auth/keys.
func (h *Handler) ListKeys(c *gin.Context) {
	key, _ := GetAPIKey(c)
	keys, err := h.manager.Keys(c.Request.Context(), key.Identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "could not list keys"})
		return
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// CreateKeyRequest optionally names a new key.
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey handles POST /auth/keys.
func (h *Handler) CreateKey(c *gin.Context) {
	key, _ := GetAPIKey(c)
	var req CreateKeyRequest
	_ = c.ShouldBindJSON(&req)
	if !validName(c, req.Name) {
		return
	}

	raw, created, err := h.manager.GenerateKey(c.Request.Context(), key.Identity, orDefault(req.Name, "additional"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "could not issue key"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"apiKey": raw, "key": created, "warning": shownOnce})
}

// RevokeKey handles DELETE /auth/keys/:keyId. The key in use cannot revoke
// itself.
func (h *Handler) RevokeKey(c *gin.Context) {
	key, _ := GetAPIKey(c)
	target := c.Param("keyId")
	if target == key.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot_revoke_current", "message": "use another key to revoke this one"})
		return
	}
	if err := h.manager.Revoke(c.Request.Context(), key.Identity, target); err != nil {
		keyError(c, err)
		return
	}
	logging.L(c.Request.Context()).Info("api key revoked", "key_id", target)
	c.JSON(http.StatusOK, gin.H{"revoked": target})
}

// RotateKey handles POST /auth/keys/:keyId/rotate.
func (h *Handler) RotateKey(c *gin.Context) {
	key, _ := GetAPIKey(c)
	target := c.Param("keyId")
	raw, created, err := h.manager.Rotate(c.Request.Context(), key.Identity, target)
	if err != nil {
		keyError(c, err)
		return
	}
	logging.L(c.Request.Context()).Info("api key rotated", "old_key_id", target, "key_id", created.ID)
	c.JSON(http.StatusOK, gin.H{"apiKey": raw, "key": created, "revoked": target, "warning": shownOnce})
}

func keyError(c *gin.Context, err error) {
	if errors.Is(err, ErrKeyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "key_not_found", "message": "no live key with that id"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "key update failed"})
}

// validName rejects key names the store cannot hold.
func validName(c *gin.Context, name string) bool {
	errs := validation.Validate(validation.Reference("name", strings.TrimSpace(name), MaxKeyNameLength))
	if len(errs) == 0 {
		return true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
	return false
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
