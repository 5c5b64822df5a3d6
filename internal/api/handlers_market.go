package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/saltdig/engine/internal/market"
	"github.com/saltdig/engine/pkg/models"
)

// handleCreateListing posts a bounty or service.
// POST /api/v1/listings { title, description, currency, price, category, mode, deliveryTime? }
func (h *Handler) handleCreateListing(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Title        string `json:"title" binding:"required"`
		Description  string `json:"description"`
		Currency     string `json:"currency" binding:"required"`
		Price        string `json:"price" binding:"required"`
		Category     string `json:"category"`
		Mode         string `json:"mode" binding:"required"`
		DeliveryTime string `json:"deliveryTime"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {title, currency, price, mode, ...}"})
		return
	}

	l, err := h.market.CreateListing(c.Request.Context(), agent.ID, market.CreateListingInput{
		Title:        req.Title,
		Description:  req.Description,
		Currency:     models.Currency(req.Currency),
		Price:        req.Price,
		Category:     req.Category,
		Mode:         models.ListingMode(req.Mode),
		DeliveryTime: req.DeliveryTime,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (h *Handler) handleGetListing(c *gin.Context) {
	l, err := h.market.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) handleListListings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := models.ListingStatus(c.Query("status"))
	listings, err := h.market.ListListings(c.Request.Context(), status, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

// handleUpdateGraph replaces the listing's task DAG.
// PUT /api/v1/listings/:id/graph { "nodes": [...], "edges": [...] }
func (h *Handler) handleUpdateGraph(c *gin.Context) {
	agent := currentAgent(c)
	var graph models.BountyGraph
	if err := c.ShouldBindJSON(&graph); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid graph body"})
		return
	}
	if err := h.market.UpdateBountyGraph(c.Request.Context(), c.Param("id"), agent.ID, &graph); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listingId": c.Param("id"), "nodes": len(graph.Nodes)})
}

func (h *Handler) handleCancelListing(c *gin.Context) {
	agent := currentAgent(c)
	if err := h.market.CancelListing(c.Request.Context(), c.Param("id"), agent.ID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listingId": c.Param("id"), "status": "cancelled"})
}

// ── Offers ──────────────────────────────────────────────────────────

func (h *Handler) handleCreateOffer(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Text  string `json:"text"`
		Price string `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {text?, price}"})
		return
	}
	o, err := h.market.CreateOffer(c.Request.Context(), c.Param("id"), agent.ID, req.Text, req.Price)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handler) handleListOffers(c *gin.Context) {
	offers, err := h.market.OffersForListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

// handleRespondOffer applies the poster's decision to an offer.
// POST /api/v1/offers/:id/respond { "action": "accept" | "reject" | "counter" }
func (h *Handler) handleRespondOffer(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Action string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {action}"})
		return
	}
	o, err := h.market.RespondOffer(c.Request.Context(), c.Param("id"), agent.ID, req.Action)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ── Service orders ──────────────────────────────────────────────────

func (h *Handler) handleCreateOrder(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Request string `json:"request"`
	}
	_ = c.ShouldBindJSON(&req)

	o, err := h.market.CreateOrder(c.Request.Context(), c.Param("id"), agent.ID, req.Request)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handler) handleGetOrder(c *gin.Context) {
	o, err := h.market.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) handleStartOrder(c *gin.Context) {
	agent := currentAgent(c)
	o, err := h.market.StartOrder(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) handleDeliverOrder(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		Response string `json:"response" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {response}"})
		return
	}
	o, err := h.market.DeliverOrder(c.Request.Context(), c.Param("id"), agent.ID, req.Response)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) handleAcceptOrder(c *gin.Context) {
	agent := currentAgent(c)
	o, err := h.market.AcceptOrder(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) handleDisputeOrder(c *gin.Context) {
	agent := currentAgent(c)
	o, err := h.market.DisputeOrder(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
