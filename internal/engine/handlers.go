package engine

import (
	"math"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mbd888/agentregistry/internal/auth"
	"github.com/mbd888/agentregistry/internal/settings"
	"github.com/mbd888/agentregistry/internal/state"
	"github.com/mbd888/agentregistry/internal/validation"
)

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new engine handler
func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

// RegisterRoutes sets up the public read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/agents", h.ListAgents)
	r.GET("/config", h.GetConfig)
	r.GET("/treasury", h.GetTreasury)

	agents := r.Group("/agents/:address", validation.AddressParam())
	agents.GET("", h.GetAgent)
	agents.GET("/price", h.GetPrice)
	agents.GET("/balance", h.GetBalance)
	agents.GET("/ledger", h.GetLedger)
}

// RegisterProtectedRoutes sets up the mutating routes. The group must already
// run auth.Middleware so the caller identity is on the context.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup, m *auth.Manager) {
	r.POST("/agents", auth.RequireAuth(m), h.Register)
	r.POST("/config", auth.RequireAuth(m), h.InitializeConfig)
	r.PUT("/config/pricing", auth.RequireAuth(m), h.UpdatePricingConfig)

	agents := r.Group("/agents/:address", validation.AddressParam(), auth.RequireAuth(m))
	// Lifecycle authorization is the engine's: a non-owner gets "unauthorized".
	agents.POST("/deactivate", h.Deactivate)
	agents.POST("/reactivate", h.Reactivate)
	agents.POST("/penalties", h.Penalize)
	agents.POST("/actions", auth.RequireOwnership(m, "address"), h.PerformAction)
	agents.POST("/paid-actions", auth.RequireOwnership(m, "address"), h.PerformActionWithPayment)
}

// RegisterAdminRoutes sets up operator routes gated by auth.RequireAdmin.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/deposits", auth.RequireAdmin(), h.Deposit)
}

// -----------------------------------------------------------------------------
// Agents
// -----------------------------------------------------------------------------

// Register handles POST /agents
func (h *Handler) Register(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	agent, err := h.engine.Register(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agent": agent})
}

// Deactivate handles POST /agents/:address/deactivate
func (h *Handler) Deactivate(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	agent, err := h.engine.Deactivate(c.Request.Context(), caller, addressParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent})
}

// Reactivate handles POST /agents/:address/reactivate
func (h *Handler) Reactivate(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	agent, err := h.engine.Reactivate(c.Request.Context(), caller, addressParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent})
}

// PerformAction handles POST /agents/:address/actions
func (h *Handler) PerformAction(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	agent, err := h.engine.PerformAction(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent})
}

// PenalizeRequest is the payload for penalizing an agent
type PenalizeRequest struct {
	Amount uint64 `json:"amount"`
}

// Penalize handles POST /agents/:address/penalties. The caller must be the
// configured admin.
func (h *Handler) Penalize(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	var req PenalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "amount must be a non-negative integer")
		return
	}
	agent, err := h.engine.Penalize(c.Request.Context(), caller, addressParam(c), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent})
}

// GetAgent handles GET /agents/:address
func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.engine.GetAgent(c.Request.Context(), addressParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent})
}

// ListAgents handles GET /agents?active=true&limit=&offset=
func (h *Handler) ListAgents(c *gin.Context) {
	opts := state.ListOptions{
		ActiveOnly: c.Query("active") == "true",
		Limit:      queryInt(c, "limit", 100),
		Offset:     queryInt(c, "offset", 0),
	}
	agents, err := h.engine.ListAgents(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agents": agents,
		"count":  len(agents),
	})
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// InitializeConfig handles POST /config. The caller becomes the admin.
func (h *Handler) InitializeConfig(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	cfg, err := h.engine.InitializeConfig(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"config": cfg})
}

// UpdatePricingRequest is the payload for PUT /config/pricing.
type UpdatePricingRequest struct {
	BasePrice         uint64 `json:"basePrice"`
	DiscountThreshold uint64 `json:"discountThreshold"`
	DiscountPercent   uint64 `json:"discountPercent"`
	MinReputation     uint64 `json:"minReputation"`
}

// UpdatePricingConfig handles PUT /config/pricing
func (h *Handler) UpdatePricingConfig(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	var req UpdatePricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "pricing fields must be non-negative integers")
		return
	}
	// Anything wider than uint8 is still out of range; the engine reports it
	// after the admin check.
	pct := uint8(math.MaxUint8)
	if req.DiscountPercent < math.MaxUint8 {
		pct = uint8(req.DiscountPercent)
	}
	cfg, err := h.engine.UpdatePricingConfig(c.Request.Context(), caller, settings.PricingUpdate{
		BasePrice:         req.BasePrice,
		DiscountThreshold: req.DiscountThreshold,
		DiscountPercent:   pct,
		MinReputation:     req.MinReputation,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

// GetConfig handles GET /config
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.engine.GetConfig(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

// -----------------------------------------------------------------------------
// Pricing and payments
// -----------------------------------------------------------------------------

// GetPrice handles GET /agents/:address/price
func (h *Handler) GetPrice(c *gin.Context) {
	quote, err := h.engine.GetPrice(c.Request.Context(), addressParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": quote})
}

// PerformActionWithPayment handles POST /agents/:address/paid-actions
func (h *Handler) PerformActionWithPayment(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	receipt, err := h.engine.PerformActionWithPayment(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// GetBalance handles GET /agents/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	acct, err := h.engine.Balance(c.Request.Context(), addressParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// GetLedger handles GET /agents/:address/ledger?limit=&cursor=
func (h *Handler) GetLedger(c *gin.Context) {
	limit := queryInt(c, "limit", state.DefaultHistoryLimit)
	entries, next, err := h.engine.History(c.Request.Context(), addressParam(c), limit, c.Query("cursor"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":    entries,
		"count":      len(entries),
		"nextCursor": next,
		"hasMore":    next != "",
	})
}

// GetTreasury handles GET /treasury
func (h *Handler) GetTreasury(c *gin.Context) {
	acct, err := h.engine.Treasury(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// DepositRequest is the payload for operator deposits
type DepositRequest struct {
	Address   string `json:"address" binding:"required"`
	Amount    uint64 `json:"amount"`
	Reference string `json:"reference"`
}

// Deposit handles POST /admin/deposits
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "address and a non-negative integer amount are required")
		return
	}
	if errs := validation.Validate(
		validation.Account("address", req.Address),
		validation.Reference("reference", req.Reference, validation.MaxReferenceLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	ref := validation.CleanReference(req.Reference, validation.MaxReferenceLength)
	acct, err := h.engine.Deposit(c.Request.Context(), common.HexToAddress(req.Address), req.Amount, ref)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func respondError(c *gin.Context, err error) {
	cls := Classify(err)
	msg := err.Error()
	if cls.Code == CodeInternal {
		msg = "internal error"
	}
	c.JSON(cls.Status, gin.H{
		"error":   cls.Code,
		"message": msg,
	})
}

func invalidRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": msg,
	})
}

func callerOrAbort(c *gin.Context) (common.Address, bool) {
	caller, ok := auth.Caller(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthenticated",
			"message": "API key required.",
		})
	}
	return caller, ok
}

// addressParam reads :address as parsed by validation.AddressParam.
func addressParam(c *gin.Context) common.Address {
	return validation.PathAddress(c)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
