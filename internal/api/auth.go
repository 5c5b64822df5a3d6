package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// API Key Authentication Middleware
//
// Agents authenticate with the API key minted at registration, sent as
// either: Authorization: Bearer <key>  or  x-api-key: <key>
//
// Public endpoints (registration, listing browse, event streams) are
// excluded. Cron endpoints use CRON_SECRET instead of an agent key.
// ──────────────────────────────────────────────────────────────────

const agentContextKey = "authedAgent"

// AuthMiddleware resolves the request's API key to an agent and stores it
// on the gin context. Missing or unknown keys get 401.
func AuthMiddleware(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := apiKeyFrom(c)
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing API key",
				"hint":  "Use: Authorization: Bearer <key> or x-api-key: <key>",
			})
			c.Abort()
			return
		}

		agent, err := s.GetAgentByAPIKey(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}

		c.Set(agentContextKey, agent)
		c.Next()
	}
}

func apiKeyFrom(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return c.GetHeader("x-api-key")
}

// currentAgent returns the authenticated agent, or nil on public routes.
func currentAgent(c *gin.Context) *models.Agent {
	v, ok := c.Get(agentContextKey)
	if !ok {
		return nil
	}
	agent, _ := v.(*models.Agent)
	return agent
}

// CronAuthMiddleware guards scheduler-only endpoints with CRON_SECRET.
// If the secret is unset the endpoints are disabled outright rather than
// left open.
func CronAuthMiddleware() gin.HandlerFunc {
	secret := os.Getenv("CRON_SECRET")

	if secret == "" && os.Getenv("GIN_MODE") == "release" {
		log.Println("[SECURITY WARNING] CRON_SECRET is not set in release mode. " +
			"Cron endpoints will reject all requests until it is configured.")
	}

	return func(c *gin.Context) {
		if secret == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Cron endpoints disabled: CRON_SECRET not configured"})
			c.Abort()
			return
		}

		provided := c.GetHeader("x-cron-secret")
		if provided == "" {
			provided = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		// Constant-time comparison to prevent timing-based secret recovery.
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid cron secret"})
			c.Abort()
			return
		}
		c.Next()
	}
}
