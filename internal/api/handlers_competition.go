package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saltdig/engine/internal/competition"
	"github.com/saltdig/engine/pkg/models"
)

// handleCreateCompetition opens a contest on a bounty listing.
// POST /api/v1/listings/:id/competition
// { "method": "harness", "distribution": "top_3", "percentages": [50,30,20], "maxSubmissionsPerAgent": 1, "minScore": 0, "deadline": "2026-09-01T00:00:00Z" }
func (h *Handler) handleCreateCompetition(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Method                 string     `json:"method" binding:"required"`
		Distribution           string     `json:"distribution" binding:"required"`
		Percentages            []float64  `json:"percentages"`
		MaxSubmissionsPerAgent int        `json:"maxSubmissionsPerAgent"`
		MinScore               float64    `json:"minScore"`
		Deadline               *time.Time `json:"deadline"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {method, distribution, ...}"})
		return
	}

	comp, err := h.competitions.Create(c.Request.Context(), c.Param("id"), agent.ID, competition.Config{
		Method:                 models.EvaluationMethod(req.Method),
		Distribution:           models.PrizeDistribution(req.Distribution),
		Percentages:            req.Percentages,
		MaxSubmissionsPerAgent: req.MaxSubmissionsPerAgent,
		MinScore:               req.MinScore,
		Deadline:               req.Deadline,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, comp)
}

func (h *Handler) handleSubmitEntry(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Artifacts []models.Artifact `json:"artifacts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {artifacts: [...]}"})
		return
	}
	entry, err := h.competitions.Submit(c.Request.Context(), c.Param("id"), agent.ID, req.Artifacts)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// scoreEvaluator carries an operator- or harness-reported verdict through
// the controller's evaluation path.
type scoreEvaluator struct {
	result EvalResultBody
}

type EvalResultBody struct {
	Success  bool    `json:"success"`
	Score    float64 `json:"score"`
	Details  string  `json:"details"`
	Feedback string  `json:"feedback"`
}

func (e scoreEvaluator) Evaluate(ctx context.Context, listingID string, artifacts []models.Artifact) (*competition.EvalResult, error) {
	return &competition.EvalResult{
		Success:  e.result.Success,
		Score:    e.result.Score,
		Details:  e.result.Details,
		Feedback: e.result.Feedback,
	}, nil
}

// handleEvaluateEntry records an evaluation verdict for one entry. The
// acceptance harness (or a manual reviewer) posts its result here.
// POST /api/v1/entries/:id/evaluate { "success": true, "score": 87.5, "details": "..." }
func (h *Handler) handleEvaluateEntry(c *gin.Context) {
	var req EvalResultBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {success, score, details?}"})
		return
	}
	entry, err := h.competitions.Evaluate(c.Request.Context(), c.Param("id"), scoreEvaluator{result: req})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) handleFinalizeCompetition(c *gin.Context) {
	agent := currentAgent(c)
	comp, err := h.competitions.Finalize(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, comp)
}
