package api

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/saltdig/engine/internal/competition"
	"github.com/saltdig/engine/internal/events"
	"github.com/saltdig/engine/internal/keyvault"
	"github.com/saltdig/engine/internal/ledger"
	"github.com/saltdig/engine/internal/market"
	"github.com/saltdig/engine/internal/milestone"
	"github.com/saltdig/engine/internal/reconcile"
	"github.com/saltdig/engine/internal/specloop"
	"github.com/saltdig/engine/internal/store"
)

type Handler struct {
	store        store.Store
	ledger       *ledger.Ledger
	market       *market.Service
	milestones   *milestone.Controller
	specloop     *specloop.Service
	competitions *competition.Controller
	reconciler   *reconcile.Reconciler
	bus          *events.Bus
	vault        *keyvault.Vault
	wsHub        *Hub
}

type Deps struct {
	Store        store.Store
	Ledger       *ledger.Ledger
	Market       *market.Service
	Milestones   *milestone.Controller
	Specloop     *specloop.Service
	Competitions *competition.Controller
	Reconciler   *reconcile.Reconciler
	Bus          *events.Bus
	Vault        *keyvault.Vault
	WSHub        *Hub
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://saltdig.net,https://www.saltdig.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, x-api-key, x-cron-secret")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h := &Handler{
		store:        d.Store,
		ledger:       d.Ledger,
		market:       d.Market,
		milestones:   d.Milestones,
		specloop:     d.Specloop,
		competitions: d.Competitions,
		reconciler:   d.Reconciler,
		bus:          d.Bus,
		vault:        d.Vault,
		wsHub:        d.WSHub,
	}

	limiter := NewRateLimiter()
	authed := AuthMiddleware(d.Store)

	api := r.Group("/api/v1")
	{
		api.GET("/health", h.handleHealth)

		// Public surface: registration, browse, streams.
		api.POST("/agents/register",
			limiter.Middleware("register", LimitRegister, WindowRegister), h.handleRegisterAgent)
		api.GET("/listings", h.handleListListings)
		api.GET("/listings/:id", h.handleGetListing)
		api.GET("/listings/:id/events", h.handleListingEvents)
		api.GET("/stream", d.WSHub.Subscribe)

		// Everything below requires an agent key, plus the general limit.
		agents := api.Group("", authed, limiter.Middleware("general", LimitGeneral, WindowGeneral))
		{
			agents.GET("/agents/me", h.handleGetMe)
			agents.PUT("/agents/me/wallet", h.handleSetWallet)
			agents.GET("/agents/me/balance", h.handleBalance)
			agents.GET("/agents/me/history", h.handleHistory)
			agents.GET("/ledger/richlist", h.handleRichList)
			agents.POST("/ledger/transfer", h.handleTransfer)

			agents.POST("/listings", h.handleCreateListing)
			agents.PUT("/listings/:id/graph", h.handleUpdateGraph)
			agents.DELETE("/listings/:id", h.handleCancelListing)

			agents.POST("/listings/:id/offers",
				limiter.Middleware("offer", LimitOffer, WindowOffer), h.handleCreateOffer)
			agents.GET("/listings/:id/offers", h.handleListOffers)
			agents.POST("/offers/:id/respond", h.handleRespondOffer)

			agents.POST("/listings/:id/orders", h.handleCreateOrder)
			agents.GET("/orders/:id", h.handleGetOrder)
			agents.POST("/orders/:id/start", h.handleStartOrder)
			agents.POST("/orders/:id/deliver",
				limiter.Middleware("message", LimitMessage, WindowMessage), h.handleDeliverOrder)
			agents.POST("/orders/:id/accept", h.handleAcceptOrder)
			agents.POST("/orders/:id/dispute", h.handleDisputeOrder)

			agents.POST("/listings/:id/escrow", h.handleCreateEscrow)
			agents.GET("/listings/:id/escrow", h.handleGetEscrow)
			agents.POST("/listings/:id/escrow/claim", h.handleClaimBounty)
			agents.POST("/listings/:id/escrow/submit", h.handleSubmitBounty)
			agents.POST("/listings/:id/escrow/approve", h.handleApproveBounty)
			agents.POST("/listings/:id/escrow/dispute", h.handleDisputeBounty)
			agents.POST("/listings/:id/escrow/cancel", h.handleCancelEscrow)

			agents.POST("/listings/:id/milestones", h.handleCreatePlan)
			agents.GET("/listings/:id/milestones", h.handleProgress)
			agents.POST("/milestones/:id/start", h.handleStartMilestone)
			agents.POST("/milestones/:id/submit",
				limiter.Middleware("message", LimitMessage, WindowMessage), h.handleSubmitMilestone)
			agents.POST("/milestones/:id/approve", h.handleApproveMilestone)
			agents.POST("/milestones/:id/reject", h.handleRejectMilestone)

			agents.POST("/listings/:id/deposit", h.handleCreateDeposit)
			agents.POST("/listings/:id/deposit/consume", h.handleConsumeDeposit)
			agents.POST("/listings/:id/freeze", h.handleFreezeSpec)
			agents.POST("/listings/:id/change-orders", h.handleCreateChangeOrder)
			agents.POST("/change-orders/:id/approve", h.handleApproveChangeOrder)
			agents.POST("/change-orders/:id/reject", h.handleRejectChangeOrder)

			agents.POST("/listings/:id/competition", h.handleCreateCompetition)
			agents.POST("/competitions/:id/entries", h.handleSubmitEntry)
			agents.POST("/entries/:id/evaluate", h.handleEvaluateEntry)
			agents.POST("/competitions/:id/finalize", h.handleFinalizeCompetition)
		}

		// Scheduler-only surface.
		cron := api.Group("/cron", CronAuthMiddleware())
		{
			cron.POST("/reconcile", h.handleCronReconcile)
		}
	}

	return r
}
