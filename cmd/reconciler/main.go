// Command reconciler runs one auto-release sweep and exits. Meant for
// external schedulers (cron, Cloud Scheduler) when no long-running engine
// process owns the sweep loop.
package main

import (
	"context"
	"log"
	"os"

	"github.com/saltdig/engine/internal/db"
	"github.com/saltdig/engine/internal/escrow"
	"github.com/saltdig/engine/internal/reconcile"
)

func main() {
	dbConn, err := db.Connect(requireEnv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("FATAL: database connection failed: %v", err)
	}
	defer dbConn.Close()

	gw, err := escrow.NewClient(context.Background(), escrow.Config{
		RPCURL:          requireEnv("ESCROW_RPC_URL"),
		ContractAddress: requireEnv("ESCROW_CONTRACT_ADDRESS"),
		USDCAddress:     requireEnv("USDC_CONTRACT_ADDRESS"),
		PlatformKey:     requireEnv("PLATFORM_SIGNER_KEY"),
	})
	if err != nil {
		log.Fatalf("FATAL: escrow RPC connection failed: %v", err)
	}

	res, err := reconcile.New(dbConn, gw, nil).RunOnce(context.Background())
	if err != nil {
		log.Printf("sweep failed: %v", err)
		os.Exit(1)
	}
	log.Printf("sweep done: checked=%d drifted=%d released=%d errors=%d",
		res.Checked, res.Drifted, res.Released, res.Errors)
	if res.Errors > 0 {
		os.Exit(1)
	}
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set.", key)
	}
	return val
}
