// Package rest provides the REST API surface of the address pool.
package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/addrpool/internal/pool/interfaces"
	"github.com/coinharbor/addrpool/internal/verify"
	"github.com/coinharbor/addrpool/pkg/errors"
)

// PoolHandler handles REST API requests for pool operations
type PoolHandler struct {
	coordinator interfaces.Coordinator
	importer    interfaces.Importer
	verifier    verify.Client
	minDeposit  decimal.Decimal
}

// NewPoolHandler creates a new pool REST handler
func NewPoolHandler(
	coordinator interfaces.Coordinator,
	importer interfaces.Importer,
	verifier verify.Client,
	minDepositUSD float64,
) *PoolHandler {
	return &PoolHandler{
		coordinator: coordinator,
		importer:    importer,
		verifier:    verifier,
		minDeposit:  decimal.NewFromFloat(minDepositUSD),
	}
}

// RegisterRoutes registers pool routes with the Gin router
func (h *PoolHandler) RegisterRoutes(r *gin.RouterGroup) {
	pool := r.Group("/pool")
	{
		pool.POST("/reserve", h.Reserve)
		pool.POST("/release", h.Release)
		pool.GET("/stats", h.GetStats)
		pool.GET("/addresses", h.ListAddresses)
		pool.PATCH("/addresses/:id/notes", h.UpdateNotes)
		pool.DELETE("/addresses/:id", h.DeleteAddress)
		pool.POST("/addresses/bulk", h.BulkUpload)
		pool.GET("/addresses/:id/verify", h.VerifyAddress)
	}
}

// ReserveRequest represents a reservation request
type ReserveRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	AmountUSD string `json:"amount_usd" binding:"required"`
}

// Reserve handles reservation requests
func (h *PoolHandler) Reserve(c *gin.Context) {
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	amount, err := decimal.NewFromString(req.AmountUSD)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount_usd"})
		return
	}
	if amount.LessThan(h.minDeposit) {
		h.handleError(c, errors.Newf(errors.KindInvalidAmount,
			"minimum deposit is %s USD", h.minDeposit.String()))
		return
	}

	reservation, err := h.coordinator.Reserve(c.Request.Context(), userID, amount)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, reservation)
}

// ReleaseRequest represents a release request
type ReleaseRequest struct {
	ReservationID string `json:"reservation_id" binding:"required"`
	Actor         string `json:"actor"`
}

// Release handles release requests. Releasing an already-released
// reservation succeeds so client retries stay harmless.
func (h *PoolHandler) Release(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reservationID, err := uuid.Parse(req.ReservationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation_id"})
		return
	}

	actor := interfaces.Actor(req.Actor)
	if req.Actor == "" {
		actor = interfaces.ActorUser
	}
	if !actor.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor"})
		return
	}

	if err := h.coordinator.Release(c.Request.Context(), reservationID, actor); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": true})
}

// GetStats handles the aggregate stats view
func (h *PoolHandler) GetStats(c *gin.Context) {
	stats, err := h.coordinator.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListAddresses handles the paginated listing surface
func (h *PoolHandler) ListAddresses(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	status := interfaces.AddressStatus(c.Query("status"))
	switch status {
	case "", interfaces.StatusAvailable, interfaces.StatusReserved, interfaces.StatusUsed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}

	result, err := h.coordinator.List(c.Request.Context(), interfaces.ListFilter{
		Page:   page,
		Limit:  limit,
		Status: status,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// NotesRequest represents an admin notes update
type NotesRequest struct {
	Text string `json:"text"`
}

// UpdateNotes handles operator annotations
func (h *PoolHandler) UpdateNotes(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address id"})
		return
	}

	var req NotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.coordinator.UpdateNotes(c.Request.Context(), id, req.Text); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// DeleteAddress handles address removal; reserved addresses are refused
func (h *PoolHandler) DeleteAddress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address id"})
		return
	}

	if err := h.coordinator.Delete(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// BulkUploadRequest represents a bulk address ingestion request
type BulkUploadRequest struct {
	Addresses []string `json:"addresses" binding:"required"`
}

// BulkUpload handles bulk address ingestion
func (h *PoolHandler) BulkUpload(c *gin.Context) {
	var req BulkUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.importer.Import(c.Request.Context(), req.Addresses)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// VerifyAddress handles the read-only blockchain lookup view
func (h *PoolHandler) VerifyAddress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address id"})
		return
	}

	addr, err := h.coordinator.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	summary, err := h.verifier.GetAddressSummary(c.Request.Context(), addr.Address)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *PoolHandler) handleError(c *gin.Context, err error) {
	var e *errors.Error
	if errors.As(err, &e) {
		c.JSON(errors.HTTPStatus(err), gin.H{"error": e.Message, "kind": e.Kind})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
