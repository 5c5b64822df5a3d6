package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleCreateEscrow locks the listing price on chain.
// POST /api/v1/listings/:id/escrow { "deadlineHours": 168 }
func (h *Handler) handleCreateEscrow(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		DeadlineHours int `json:"deadlineHours"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.DeadlineHours <= 0 {
		req.DeadlineHours = 7 * 24
	}
	deadline := time.Now().Add(time.Duration(req.DeadlineHours) * time.Hour)

	rec, err := h.market.CreateBountyEscrow(c.Request.Context(), c.Param("id"), agent.ID, deadline)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) handleGetEscrow(c *gin.Context) {
	rec, err := h.market.GetUSDCRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleClaimBounty(c *gin.Context) {
	agent := currentAgent(c)
	rec, err := h.market.ClaimBounty(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleSubmitBounty(c *gin.Context) {
	agent := currentAgent(c)
	rec, err := h.market.SubmitBounty(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleApproveBounty(c *gin.Context) {
	agent := currentAgent(c)
	rec, err := h.market.ApproveBounty(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleDisputeBounty(c *gin.Context) {
	agent := currentAgent(c)
	rec, err := h.market.DisputeBounty(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleCancelEscrow(c *gin.Context) {
	agent := currentAgent(c)
	rec, err := h.market.CancelBountyEscrow(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleCronReconcile runs one reconciler sweep on demand. Guarded by
// CRON_SECRET; external schedulers hit it when no long-running process owns
// the sweep loop.
func (h *Handler) handleCronReconcile(c *gin.Context) {
	res, err := h.reconciler.RunOnce(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
