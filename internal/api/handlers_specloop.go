package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saltdig/engine/pkg/models"
)

// handleCreateDeposit locks the poster's spec commitment.
// POST /api/v1/listings/:id/deposit { "amount": 500, "currency": "salt" }
func (h *Handler) handleCreateDeposit(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Amount   int64  `json:"amount" binding:"required"`
		Currency string `json:"currency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {amount, currency}"})
		return
	}
	dep, err := h.specloop.CreateDeposit(c.Request.Context(), c.Param("id"), agent.ID, req.Amount, models.Currency(req.Currency))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, dep)
}

// handleConsumeDeposit spends a slice of the active deposit on review work.
// POST /api/v1/listings/:id/deposit/consume { "amount": 40, "reason": "spec review round 2" }
func (h *Handler) handleConsumeDeposit(c *gin.Context) {
	var req struct {
		Amount int64  `json:"amount" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {amount, reason?}"})
		return
	}
	dep, err := h.specloop.Consume(c.Request.Context(), c.Param("id"), req.Reason, req.Amount)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, dep)
}

func (h *Handler) handleFreezeSpec(c *gin.Context) {
	agent := currentAgent(c)
	dep, err := h.specloop.Freeze(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, dep)
}

// handleCreateChangeOrder prices a post-freeze scope change.
// POST /api/v1/listings/:id/change-orders { "description": "...", "affectedNodes": ["a"] }
func (h *Handler) handleCreateChangeOrder(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Description   string   `json:"description" binding:"required"`
		AffectedNodes []string `json:"affectedNodes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {description, affectedNodes}"})
		return
	}
	co, impact, err := h.specloop.CreateChangeOrder(c.Request.Context(), c.Param("id"), agent.ID, req.Description, req.AffectedNodes)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"changeOrder": co, "impact": impact})
}

func (h *Handler) handleApproveChangeOrder(c *gin.Context) {
	agent := currentAgent(c)
	co, err := h.specloop.ApproveChangeOrder(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

func (h *Handler) handleRejectChangeOrder(c *gin.Context) {
	agent := currentAgent(c)
	co, err := h.specloop.RejectChangeOrder(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}
