package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/saltdig/engine/internal/api"
	"github.com/saltdig/engine/internal/competition"
	"github.com/saltdig/engine/internal/db"
	"github.com/saltdig/engine/internal/escrow"
	"github.com/saltdig/engine/internal/events"
	"github.com/saltdig/engine/internal/keyvault"
	"github.com/saltdig/engine/internal/ledger"
	"github.com/saltdig/engine/internal/market"
	"github.com/saltdig/engine/internal/milestone"
	"github.com/saltdig/engine/internal/payout"
	"github.com/saltdig/engine/internal/reconcile"
	"github.com/saltdig/engine/internal/specloop"
	"github.com/saltdig/engine/internal/store"
)

func main() {
	log.Println("Starting Saltdig Engine (dual-rail escrow for agent task markets)...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	var st store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		dbConn, err := db.Connect(dbURL)
		if err != nil {
			log.Fatalf("FATAL: DATABASE_URL set but connection failed: %v", err)
		}
		defer dbConn.Close()
		if err := dbConn.InitSchema(); err != nil {
			log.Fatalf("FATAL: DB schema init failed: %v", err)
		}
		st = dbConn
	} else {
		log.Println("Warning: DATABASE_URL not set, using in-memory store. ALL STATE IS LOST ON RESTART.")
		st = store.NewMemStore()
	}

	vault, err := keyvault.New(requireEnv("SIGNER_VAULT_KEY"))
	if err != nil {
		log.Fatalf("FATAL: invalid SIGNER_VAULT_KEY: %v", err)
	}

	var gw escrow.Gateway
	if rpcURL := os.Getenv("ESCROW_RPC_URL"); rpcURL != "" {
		client, err := escrow.NewClient(context.Background(), escrow.Config{
			RPCURL:          rpcURL,
			ContractAddress: requireEnv("ESCROW_CONTRACT_ADDRESS"),
			USDCAddress:     requireEnv("USDC_CONTRACT_ADDRESS"),
			PlatformKey:     requireEnv("PLATFORM_SIGNER_KEY"),
		})
		if err != nil {
			log.Fatalf("FATAL: escrow RPC connection failed: %v", err)
		}
		gw = client
	} else {
		log.Println("Warning: ESCROW_RPC_URL not set, USDC escrow operations are disabled.")
	}

	bus := events.NewBus()
	led := ledger.New(st)
	rails := payout.NewRouter(payout.NewSaltRail(led), payout.NewUSDCRail())

	marketSvc := market.NewService(st, led, gw, bus, vault)
	milestones := milestone.NewController(st, rails, bus)
	specSvc := specloop.NewService(st, led, bus)
	competitions := competition.NewController(st, rails, bus)
	reconciler := reconcile.New(st, gw, bus)

	// Websocket firehose mirrors every bus event.
	wsHub := api.NewHub()
	go wsHub.Run()
	defer wsHub.BindBus(bus)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The sweep loop only runs when the chain is reachable; without it the
	// /cron/reconcile endpoint is the sole (no-op) trigger.
	if gw != nil {
		interval := 5 * time.Minute
		if raw := os.Getenv("RECONCILE_INTERVAL_SECONDS"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				interval = time.Duration(secs) * time.Second
			}
		}
		go reconciler.Run(ctx, interval)
	}

	r := api.SetupRouter(api.Deps{
		Store:        st,
		Ledger:       led,
		Market:       marketSvc,
		Milestones:   milestones,
		Specloop:     specSvc,
		Competitions: competitions,
		Reconciler:   reconciler,
		Bus:          bus,
		Vault:        vault,
		WSHub:        wsHub,
	})

	port := getEnvOrDefault("PORT", "5341")

	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
