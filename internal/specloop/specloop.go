package specloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saltdig/engine/internal/events"
	"github.com/saltdig/engine/internal/ledger"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// Service runs the spec loop economics: the poster locks a commitment
// deposit during clarification, reviewers consume slices of it, and the
// unconsumed remainder refunds on freeze. After freeze, scope changes are
// priced through change orders over the listing's task DAG.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	bus    *events.Bus
}

func NewService(s store.Store, l *ledger.Ledger, bus *events.Bus) *Service {
	return &Service{store: s, ledger: l, bus: bus}
}

func (s *Service) emit(listingID, eventType string, payload interface{}) {
	if s.bus != nil {
		s.bus.Emit("market:"+listingID, events.Event{Type: eventType, Payload: payload})
	}
}

// CreateDeposit locks the poster's commitment and moves the listing into
// clarifying. Salt deposits debit the ledger into system escrow; USDC
// deposits are recorded only (no deposit-vault contract).
func (s *Service) CreateDeposit(ctx context.Context, listingID, agentID string, amount int64, currency models.Currency) (*models.SpecDeposit, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster deposits: %w", models.ErrForbidden)
	}
	if l.Status != models.ListingActive && l.Status != models.ListingClarifying {
		return nil, fmt.Errorf("listing %s is %s: %w", listingID, l.Status, models.ErrInvalidState)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount %d: %w", amount, models.ErrInvalidArgument)
	}
	if _, err := s.store.ActiveDepositForListing(ctx, listingID); err == nil {
		return nil, fmt.Errorf("listing %s already has an active deposit: %w", listingID, models.ErrConflict)
	}

	dep := &models.SpecDeposit{
		ID:          uuid.NewString(),
		ListingID:   listingID,
		DepositorID: agentID,
		Amount:      amount,
		Currency:    currency,
		Status:      models.DepositActive,
		CreatedAt:   time.Now().UTC(),
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if currency == models.CurrencySalt {
			from := agentID
			if _, err := s.ledger.TransferTx(ctx, tx, &from, nil, amount, "spec_deposit",
				fmt.Sprintf("spec deposit on listing %s", listingID)); err != nil {
				return err
			}
		}
		if err := tx.CreateSpecDeposit(ctx, dep); err != nil {
			return err
		}
		clarifying := models.ListingClarifying
		return tx.UpdateListing(ctx, listingID, store.ListingUpdate{Status: &clarifying})
	})
	if err != nil {
		return nil, err
	}

	s.emit(listingID, "spec_transition", map[string]interface{}{"depositId": dep.ID, "status": "active"})
	return dep, nil
}

// Consume spends part of the deposit on review work. The deposit flips to
// consumed when fully spent.
func (s *Service) Consume(ctx context.Context, listingID, reason string, amount int64) (*models.SpecDeposit, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("consume amount %d: %w", amount, models.ErrInvalidArgument)
	}
	dep, err := s.store.ActiveDepositForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	remaining := dep.Amount - dep.Consumed
	if amount > remaining {
		return nil, fmt.Errorf("consume %d exceeds remaining %d: %w", amount, remaining, models.ErrInsufficientFunds)
	}

	newConsumed := dep.Consumed + amount
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		upd := store.DepositUpdate{Consumed: &newConsumed}
		if newConsumed == dep.Amount {
			consumed := models.DepositConsumed
			upd.Status = &consumed
		}
		if err := tx.UpdateSpecDeposit(ctx, dep.ID, upd); err != nil {
			return err
		}
		// Journal the review spend as a burn from the depositor: their
		// balance moved at deposit time, this entry marks the slice as spent
		// for good and keeps it visible in their history.
		entry := &models.LedgerEntry{
			ID:          uuid.NewString(),
			FromAgentID: &dep.DepositorID,
			Amount:      amount,
			Kind:        "spec_review_payment",
			Description: reason,
			CreatedAt:   time.Now().UTC(),
		}
		return tx.InsertLedgerEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	dep.Consumed = newConsumed
	if newConsumed == dep.Amount {
		dep.Status = models.DepositConsumed
	}
	s.emit(listingID, "spec_transition", map[string]interface{}{"depositId": dep.ID, "consumed": newConsumed})
	return dep, nil
}

// Freeze closes clarification: the deposit freezes, the unconsumed
// remainder refunds to the depositor, and the listing moves to frozen.
func (s *Service) Freeze(ctx context.Context, listingID, agentID string) (*models.SpecDeposit, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster freezes: %w", models.ErrForbidden)
	}
	if l.Status != models.ListingClarifying {
		return nil, fmt.Errorf("listing %s is %s, freeze requires clarifying: %w", listingID, l.Status, models.ErrInvalidState)
	}
	dep, err := s.store.ActiveDepositForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	refund := dep.Amount - dep.Consumed
	now := time.Now().UTC()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		frozen := models.DepositFrozen
		if err := tx.UpdateSpecDeposit(ctx, dep.ID, store.DepositUpdate{Status: &frozen, FrozenAt: &now}); err != nil {
			return err
		}
		if refund > 0 && dep.Currency == models.CurrencySalt {
			to := dep.DepositorID
			if _, err := s.ledger.TransferTx(ctx, tx, nil, &to, refund, "spec_freeze_credit",
				fmt.Sprintf("unconsumed deposit refund on listing %s", listingID)); err != nil {
				return err
			}
		}
		listingFrozen := models.ListingFrozen
		return tx.UpdateListing(ctx, listingID, store.ListingUpdate{Status: &listingFrozen})
	})
	if err != nil {
		return nil, err
	}

	dep.Status = models.DepositFrozen
	dep.FrozenAt = &now
	s.emit(listingID, "spec_transition", map[string]interface{}{"depositId": dep.ID, "status": "frozen", "refund": refund})
	return dep, nil
}

// CreateChangeOrder prices a post-freeze scope change. Delta cost comes
// from the impact analysis over the stored DAG; the order opens pending.
func (s *Service) CreateChangeOrder(ctx context.Context, listingID, requesterID, description string, affectedNodes []string) (*models.ChangeOrder, *Impact, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, nil, err
	}
	if l.Status != models.ListingFrozen {
		return nil, nil, fmt.Errorf("change orders require a frozen listing, got %s: %w", l.Status, models.ErrInvalidState)
	}
	if strings.TrimSpace(description) == "" {
		return nil, nil, fmt.Errorf("description required: %w", models.ErrInvalidArgument)
	}
	if len(affectedNodes) == 0 {
		return nil, nil, fmt.Errorf("affected nodes required: %w", models.ErrInvalidArgument)
	}

	impact := CalculateChangeImpact(l.BountyGraph, affectedNodes)
	co := &models.ChangeOrder{
		ID:            uuid.NewString(),
		ListingID:     listingID,
		RequesterID:   requesterID,
		Description:   description,
		AffectedNodes: affectedNodes,
		DeltaCost:     impact.DeltaCost,
		DeltaCurrency: l.Currency,
		Status:        models.ChangeOrderPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateChangeOrder(ctx, co); err != nil {
		return nil, nil, err
	}
	s.emit(listingID, "spec_transition", map[string]interface{}{"changeOrderId": co.ID, "status": "pending", "deltaCost": co.DeltaCost})
	return co, impact, nil
}

// ApproveChangeOrder accepts the priced change. Poster-only; the delta
// escrow (marking the order implemented) is a later step outside this
// service.
func (s *Service) ApproveChangeOrder(ctx context.Context, orderID, agentID string) (*models.ChangeOrder, error) {
	co, err := s.store.GetChangeOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	l, err := s.store.GetListing(ctx, co.ListingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster approves change orders: %w", models.ErrForbidden)
	}
	if l.Status != models.ListingFrozen {
		return nil, fmt.Errorf("listing %s is %s: %w", co.ListingID, l.Status, models.ErrInvalidState)
	}
	if co.Status != models.ChangeOrderPending {
		return nil, fmt.Errorf("change order %s is %s: %w", orderID, co.Status, models.ErrConflict)
	}

	now := time.Now().UTC()
	approved := models.ChangeOrderApproved
	if err := s.store.UpdateChangeOrder(ctx, orderID, store.ChangeOrderUpdate{Status: &approved, ApprovedAt: &now}); err != nil {
		return nil, err
	}
	co.Status = approved
	co.ApprovedAt = &now
	s.emit(co.ListingID, "spec_transition", map[string]interface{}{"changeOrderId": orderID, "status": "approved"})
	return co, nil
}

// RejectChangeOrder declines a pending change order. Poster-only.
func (s *Service) RejectChangeOrder(ctx context.Context, orderID, agentID string) (*models.ChangeOrder, error) {
	co, err := s.store.GetChangeOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	l, err := s.store.GetListing(ctx, co.ListingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster rejects change orders: %w", models.ErrForbidden)
	}
	if co.Status != models.ChangeOrderPending {
		return nil, fmt.Errorf("change order %s is %s: %w", orderID, co.Status, models.ErrConflict)
	}

	rejected := models.ChangeOrderRejected
	if err := s.store.UpdateChangeOrder(ctx, orderID, store.ChangeOrderUpdate{Status: &rejected}); err != nil {
		return nil, err
	}
	co.Status = rejected
	s.emit(co.ListingID, "spec_transition", map[string]interface{}{"changeOrderId": orderID, "status": "rejected"})
	return co, nil
}
