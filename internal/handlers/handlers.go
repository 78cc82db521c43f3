// HTTP API
// Read-only inspection of orders and checkpoints, plus order submission.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/coordinator"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/repository"
)

// Handler serves the relayer API
type Handler struct {
	db         *gorm.DB
	orders     repository.SwapOrderRepository
	fills      repository.PartialFillLedger
	ledger     repository.IdempotencyLedger
	direct     coordinator.OrderSubmission
	meta       coordinator.OrderSubmission
	chainIDs   []string
	log        *logrus.Logger
}

// NewHandler wires the API to storage and the submission paths
func NewHandler(
	db *gorm.DB,
	orders repository.SwapOrderRepository,
	fills repository.PartialFillLedger,
	ledger repository.IdempotencyLedger,
	direct, meta coordinator.OrderSubmission,
	chainIDs []string,
) *Handler {
	return &Handler{
		db:       db,
		orders:   orders,
		fills:    fills,
		ledger:   ledger,
		direct:   direct,
		meta:     meta,
		chainIDs: chainIDs,
		log:      logrus.New(),
	}
}

// Health reports process liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "swap-relayer",
	})
}

// Ready reports readiness: the database must answer
func (h *Handler) Ready(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.log.WithError(err).Warn("readiness probe failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// ListOrders returns a page of swap orders
func (h *Handler) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	orders, total, err := h.orders.List(c.Request.Context(), page, limit)
	if err != nil {
		h.log.WithError(err).Error("failed to list orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// GetOrder returns one order with its partial fills, if any
func (h *Handler) GetOrder(c *gin.Context) {
	id := c.Param("id")
	order, err := h.orders.GetByID(c.Request.Context(), id)
	if err != nil {
		h.log.WithError(err).WithField("order_id", id).Error("order lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order lookup failed"})
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	response := gin.H{"order": order}
	if fills, err := h.fills.FillsFor(c.Request.Context(), id); err == nil && len(fills) > 0 {
		response["fills"] = fills
		if remaining, err := h.fills.Remaining(c.Request.Context(), id, order.FromAmount); err == nil {
			response["remaining"] = remaining.String()
		}
	}
	c.JSON(http.StatusOK, response)
}

// SubmitOrder accepts a new order. Requests carrying a signature take the
// meta-order path.
func (h *Handler) SubmitOrder(c *gin.Context) {
	var req coordinator.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	submission := h.direct
	if req.Signature != "" {
		submission = h.meta
	}

	order, err := submission.Submit(c.Request.Context(), &req)
	if err != nil {
		h.log.WithError(err).Warn("order submission rejected")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	h.log.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"from_chain": order.FromChain,
		"to_chain":   order.ToChain,
	}).Info("order submitted")
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// ListCheckpoints returns the per-chain watcher checkpoints
func (h *Handler) ListCheckpoints(c *gin.Context) {
	checkpoints := make([]gin.H, 0, len(h.chainIDs))
	for _, chainID := range h.chainIDs {
		height, exists, err := h.ledger.GetCheckpoint(c.Request.Context(), chainID)
		if err != nil {
			h.log.WithError(err).WithField("chain", chainID).Error("checkpoint lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkpoint lookup failed"})
			return
		}
		checkpoints = append(checkpoints, gin.H{
			"chain_id":              chainID,
			"last_processed_height": height,
			"initialized":           exists,
		})
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": checkpoints})
}

// ListEvents returns recent decoded escrow events for one chain
func (h *Handler) ListEvents(c *gin.Context) {
	chainID := c.Query("chain")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.EscrowEvent{}).
		Order("block_height DESC").Limit(limit)
	if chainID != "" {
		query = query.Where("chain_id = ?", chainID)
	}

	var eventRows []models.EscrowEvent
	if err := query.Find(&eventRows).Error; err != nil {
		h.log.WithError(err).Error("failed to list events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": eventRows})
}
