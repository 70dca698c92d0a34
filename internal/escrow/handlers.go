package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tianguisdev/tianguis/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up participant-facing escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateTransaction)
	r.GET("/escrows", h.ListTransactions)
	r.GET("/escrows/:code", h.GetTransaction)
	r.GET("/escrows/:code/remaining", h.GetRemaining)
	r.POST("/escrows/:code/ship", h.ConfirmShipment)
	r.POST("/escrows/:code/deliver", h.ConfirmDelivery)
	r.POST("/escrows/:code/release", h.ReleaseFunds)
	r.POST("/escrows/:code/dispute", h.OpenDispute)
	r.POST("/escrows/:code/messages", h.SendMessage)
}

// RegisterAdminRoutes sets up the out-of-band administrative transitions.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrows/:code/abandon", h.MarkAbandoned)
	r.POST("/escrows/:code/cancel", h.Cancel)
	r.POST("/escrows/:code/resolve", h.ResolveDispute)
}

// actorID reads the acting identity. Identity verification itself is outside
// this core; the gateway in front of it is expected to authenticate the header.
func actorID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// CreateTransaction handles POST /v1/escrows
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("product_ref", req.ProductRef),
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if req.BuyerID == "" {
		req.BuyerID = actorID(c)
	}

	tx, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "escrow_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

// GetTransaction handles GET /v1/escrows/:code
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ListTransactions handles GET /v1/escrows
func (h *Handler) ListTransactions(c *gin.Context) {
	f := Filter{
		BuyerID:  c.Query("buyerId"),
		SellerID: c.Query("sellerId"),
	}
	if status := c.Query("status"); status != "" {
		if !Status(status).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Unknown status: " + status,
			})
			return
		}
		f.Status = Status(status)
	}

	txs, err := h.service.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}

// GetRemaining handles GET /v1/escrows/:code/remaining
func (h *Handler) GetRemaining(c *gin.Context) {
	left, err := h.service.Remaining(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"remaining": left})
}

// ShipRequest carries the seller's tracking code.
type ShipRequest struct {
	Tracking string `json:"tracking" binding:"required"`
}

// ConfirmShipment handles POST /v1/escrows/:code/ship
func (h *Handler) ConfirmShipment(c *gin.Context) {
	var req ShipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Tracking code is required",
		})
		return
	}

	tx, err := h.service.ConfirmShipment(c.Request.Context(), c.Param("code"), actorID(c), req.Tracking)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ConfirmDelivery handles POST /v1/escrows/:code/deliver
func (h *Handler) ConfirmDelivery(c *gin.Context) {
	tx, err := h.service.ConfirmDelivery(c.Request.Context(), c.Param("code"), actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ReleaseFunds handles POST /v1/escrows/:code/release
func (h *Handler) ReleaseFunds(c *gin.Context) {
	tx, err := h.service.ReleaseFunds(c.Request.Context(), c.Param("code"), actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// DisputeRequest carries the buyer's complaint.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OpenDispute handles POST /v1/escrows/:code/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Reason is required",
		})
		return
	}

	tx, err := h.service.OpenDispute(c.Request.Context(), c.Param("code"), actorID(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// MessageRequest carries one thread message.
type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage handles POST /v1/escrows/:code/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Text is required",
		})
		return
	}

	tx, err := h.service.SendMessage(c.Request.Context(), c.Param("code"), actorID(c), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// MarkAbandoned handles POST /v1/escrows/:code/abandon
func (h *Handler) MarkAbandoned(c *gin.Context) {
	tx, err := h.service.MarkAbandoned(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// Cancel handles POST /v1/escrows/:code/cancel
func (h *Handler) Cancel(c *gin.Context) {
	tx, err := h.service.Cancel(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ResolveRequest carries the adjudication outcome.
type ResolveRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

// ResolveDispute handles POST /v1/escrows/:code/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "resolution is required (release or cancel)",
		})
		return
	}
	if req.Resolution != "release" && req.Resolution != "cancel" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "resolution must be release or cancel",
		})
		return
	}

	tx, err := h.service.ResolveDispute(c.Request.Context(), c.Param("code"), req.Resolution)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// respondError maps service errors to HTTP responses. NotFound and
// InvalidTransition are caller-recoverable and surfaced distinctly so the
// presentation layer can re-sync rather than show a generic failure.
func respondError(c *gin.Context, err error) {
	var invalid *InvalidTransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow transaction not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": err.Error(),
		})
	case errors.As(err, &invalid):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "invalid_transition",
			"message":   invalid.Error(),
			"from":      invalid.From,
			"requested": invalid.Requested,
		})
	case errors.Is(err, ErrPersistence):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "persistence_failed",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
