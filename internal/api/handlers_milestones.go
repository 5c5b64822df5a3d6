package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saltdig/engine/internal/milestone"
	"github.com/saltdig/engine/pkg/models"
)

// handleCreatePlan installs the milestone plan on a frozen listing.
// POST /api/v1/listings/:id/milestones { "milestones": [{title, description, budgetPercentage, acceptanceCriteria}] }
func (h *Handler) handleCreatePlan(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Milestones []milestone.PlanItem `json:"milestones" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {milestones: [...]}"})
		return
	}
	ms, err := h.milestones.CreatePlan(c.Request.Context(), c.Param("id"), agent.ID, req.Milestones)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"milestones": ms})
}

func (h *Handler) handleProgress(c *gin.Context) {
	p, err := h.milestones.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) handleStartMilestone(c *gin.Context) {
	agent := currentAgent(c)
	m, err := h.milestones.Start(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) handleSubmitMilestone(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Artifacts []models.Artifact `json:"artifacts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {artifacts: [{type, url, description}]}"})
		return
	}
	sub, err := h.milestones.Submit(c.Request.Context(), c.Param("id"), agent.ID, req.Artifacts)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) handleApproveMilestone(c *gin.Context) {
	agent := currentAgent(c)
	m, err := h.milestones.Approve(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) handleRejectMilestone(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Feedback string `json:"feedback" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {feedback}"})
		return
	}
	m, err := h.milestones.Reject(c.Request.Context(), c.Param("id"), agent.ID, req.Feedback)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
