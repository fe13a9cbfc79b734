package task

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinharbor/addrpool/pkg/errors"
)

// Handler handles REST API requests for deposit tasks
type Handler struct {
	svc *Service
}

// NewHandler creates a new deposit task REST handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers task routes with the Gin router
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	tasks := r.Group("/tasks")
	{
		tasks.POST("", h.Create)
		tasks.GET("/:id", h.Get)
		tasks.POST("/:id/review", h.Review)
	}
}

// CreateRequest represents a deposit task creation request
type CreateRequest struct {
	UserID            string  `json:"user_id" binding:"required"`
	AmountUSD         string  `json:"amount_usd" binding:"required"`
	ReservedAddressID *string `json:"reserved_address_id"`
}

// Create handles deposit task creation
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
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

	var addressID *uuid.UUID
	if req.ReservedAddressID != nil {
		id, err := uuid.Parse(*req.ReservedAddressID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reserved_address_id"})
			return
		}
		addressID = &id
	}

	t, err := h.svc.Create(c.Request.Context(), userID, amount, addressID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, t)
}

// Get handles task retrieval
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	t, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, t)
}

// ReviewRequest represents a task review decision
type ReviewRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required"`
	Decision   string `json:"decision" binding:"required"`
}

// Review handles task review decisions
func (h *Handler) Review(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reviewerID, err := uuid.Parse(req.ReviewerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reviewer_id"})
		return
	}

	decision := Status(req.Decision)
	switch decision {
	case StatusPreApproved, StatusPreRejected, StatusCompleted, StatusRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision"})
		return
	}

	t, err := h.svc.Review(c.Request.Context(), id, reviewerID, decision)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, t)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var e *errors.Error
	if errors.As(err, &e) {
		c.JSON(errors.HTTPStatus(err), gin.H{"error": e.Message, "kind": e.Kind})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
