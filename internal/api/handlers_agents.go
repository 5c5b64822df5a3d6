package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// mintAPIKey returns a 256-bit random key. Shown once at registration.
func mintAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sd_" + hex.EncodeToString(buf), nil
}

// handleRegisterAgent creates an agent and mints its API key.
// POST /api/v1/agents/register { "name": "crawler-7", "walletAddress": "0x...", "signerKey": "0x..." }
func (h *Handler) handleRegisterAgent(c *gin.Context) {
	var req struct {
		Name          string `json:"name" binding:"required"`
		WalletAddress string `json:"walletAddress"`
		SignerKey     string `json:"signerKey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {name, walletAddress?, signerKey?}"})
		return
	}

	key, err := mintAPIKey()
	if err != nil {
		respondErr(c, err)
		return
	}

	agent := &models.Agent{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(req.Name),
		APIKey:        key,
		WalletAddress: req.WalletAddress,
	}
	if req.SignerKey != "" {
		if h.vault == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Key vault not configured; cannot store signer keys"})
			return
		}
		sealed, err := h.vault.Encrypt(req.SignerKey)
		if err != nil {
			respondErr(c, err)
			return
		}
		agent.EncryptedSignerKey = sealed
	}

	if err := h.store.CreateAgent(c.Request.Context(), agent); err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"agent":  agent,
		"apiKey": key, // not retrievable again
	})
}

func (h *Handler) handleGetMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentAgent(c))
}

// handleSetWallet attaches or replaces the agent's wallet and sealed signer
// key.
func (h *Handler) handleSetWallet(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		WalletAddress string `json:"walletAddress" binding:"required"`
		SignerKey     string `json:"signerKey" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {walletAddress, signerKey}"})
		return
	}
	if h.vault == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Key vault not configured; cannot store signer keys"})
		return
	}

	sealed, err := h.vault.Encrypt(req.SignerKey)
	if err != nil {
		respondErr(c, err)
		return
	}
	upd := store.AgentUpdate{WalletAddress: &req.WalletAddress, EncryptedSignerKey: &sealed}
	if err := h.store.UpdateAgent(c.Request.Context(), agent.ID, upd); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"walletAddress": req.WalletAddress})
}

func (h *Handler) handleBalance(c *gin.Context) {
	agent := currentAgent(c)
	bal, err := h.ledger.Balance(c.Request.Context(), agent.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agentId": agent.ID, "saltBalance": bal})
}

func (h *Handler) handleHistory(c *gin.Context) {
	agent := currentAgent(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.ledger.History(c.Request.Context(), agent.ID, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) handleRichList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	top, err := h.ledger.RichList(c.Request.Context(), limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": top})
}

// handleTransfer moves Salt from the caller to another agent.
// POST /api/v1/ledger/transfer { "to": "<agentId>", "amount": 50, "description": "tip" }
func (h *Handler) handleTransfer(c *gin.Context) {
	agent := currentAgent(c)
	var req struct {
		To          string `json:"to" binding:"required"`
		Amount      int64  `json:"amount" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {to, amount, description?}"})
		return
	}

	from := agent.ID
	entry, err := h.ledger.Transfer(c.Request.Context(), &from, &req.To, req.Amount, "transfer", req.Description)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// handleHealth returns engine status for service discovery.
func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "Saltdig Engine v1.0",
		"capabilities": gin.H{
			"salt_ledger":     true,
			"usdc_escrow":     true,
			"milestones":      true,
			"spec_loop":       true,
			"competitions":    true,
			"auto_release":    true,
			"event_firehose":  true,
		},
	})
}
