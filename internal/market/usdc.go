package market

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saltdig/engine/internal/escrow"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// USDC shadow records follow the chain, never lead it: each operation sends
// the on-chain write first and commits the record transition only after the
// transaction confirms. A failed chain call leaves the record at its prior
// status; the reconciler heals any drift the failure left behind.

// workerStakePct is the worker's claim stake as a share of the bounty.
const workerStakePct = 10

func (s *Service) signerKeyFor(ctx context.Context, agentID string) (string, *models.Agent, error) {
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", nil, err
	}
	if a.WalletAddress == "" || a.EncryptedSignerKey == "" {
		return "", nil, fmt.Errorf("agent %s has no wallet: %w", agentID, models.ErrInvalidState)
	}
	key, err := s.vault.Decrypt(a.EncryptedSignerKey)
	if err != nil {
		return "", nil, fmt.Errorf("decrypt signer key for %s: %w", agentID, err)
	}
	return key, a, nil
}

// CreateBountyEscrow locks the listing price on chain and opens the shadow
// record. Poster-only.
func (s *Service) CreateBountyEscrow(ctx context.Context, listingID, agentID string, deadline time.Time) (*models.USDCRecord, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster escrows: %w", models.ErrForbidden)
	}
	if l.Currency != models.CurrencyUSDC {
		return nil, fmt.Errorf("listing %s is not USDC: %w", listingID, models.ErrInvalidState)
	}
	if l.Status != models.ListingActive && l.Status != models.ListingFrozen {
		return nil, fmt.Errorf("listing %s is %s: %w", listingID, l.Status, models.ErrInvalidState)
	}
	if _, err := s.store.USDCRecordForListing(ctx, listingID); err == nil {
		return nil, fmt.Errorf("listing %s already escrowed: %w", listingID, models.ErrConflict)
	}
	amount, err := validatePrice(l.Currency, l.Price)
	if err != nil {
		return nil, err
	}

	key, _, err := s.signerKeyFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.gw.CreateBounty(ctx, key, listingID, amount, deadline)
	if err != nil {
		return nil, err
	}

	hash := s.gw.ComputeBountyHash(listingID)
	stake := amount.Mul(decimal.NewFromInt(workerStakePct)).Div(decimal.NewFromInt(100))
	now := time.Now().UTC()
	rec := &models.USDCRecord{
		ID:          uuid.NewString(),
		ListingID:   listingID,
		BountyHash:  "0x" + hex.EncodeToString(hash[:]),
		PosterID:    agentID,
		Amount:      amount.String(),
		WorkerStake: stake.String(),
		Status:      models.USDCCreated,
		TxHash:      txHash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateUSDCRecord(ctx, rec); err != nil {
		return nil, err
	}
	s.emit(listingID, "escrow_transition", rec)
	return rec, nil
}

func (s *Service) GetUSDCRecord(ctx context.Context, listingID string) (*models.USDCRecord, error) {
	return s.store.USDCRecordForListing(ctx, listingID)
}

// ClaimBounty commits a worker with a 10% stake. Any agent with a wallet
// except the poster may claim an open bounty.
func (s *Service) ClaimBounty(ctx context.Context, listingID, agentID string) (*models.USDCRecord, error) {
	rec, err := s.store.USDCRecordForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if rec.PosterID == agentID {
		return nil, fmt.Errorf("poster cannot claim own bounty: %w", models.ErrForbidden)
	}
	if rec.Status != models.USDCCreated {
		return nil, fmt.Errorf("bounty is %s: %w", rec.Status, models.ErrInvalidState)
	}

	key, _, err := s.signerKeyFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.gw.ClaimBounty(ctx, key, escrow.ComputeBountyHash(listingID))
	if err != nil {
		return nil, err
	}

	status := models.USDCClaimed
	upd := store.USDCRecordUpdate{Status: &status, WorkerID: &agentID, TxHash: &txHash}
	if err := s.store.UpdateUSDCRecord(ctx, rec.ID, upd); err != nil {
		return nil, err
	}
	rec.Status = status
	rec.WorkerID = agentID
	rec.TxHash = txHash
	s.emit(listingID, "escrow_transition", rec)
	return rec, nil
}

// SubmitBounty marks the work submitted and stamps submittedAt, starting
// the auto-release clock.
func (s *Service) SubmitBounty(ctx context.Context, listingID, agentID string) (*models.USDCRecord, error) {
	rec, err := s.store.USDCRecordForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if rec.WorkerID != agentID {
		return nil, fmt.Errorf("only the worker submits: %w", models.ErrForbidden)
	}
	if rec.Status != models.USDCClaimed {
		return nil, fmt.Errorf("bounty is %s: %w", rec.Status, models.ErrInvalidState)
	}

	key, _, err := s.signerKeyFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.gw.SubmitBounty(ctx, key, escrow.ComputeBountyHash(listingID))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := models.USDCSubmitted
	upd := store.USDCRecordUpdate{Status: &status, TxHash: &txHash, SubmittedAt: &now}
	if err := s.store.UpdateUSDCRecord(ctx, rec.ID, upd); err != nil {
		return nil, err
	}
	rec.Status = status
	rec.TxHash = txHash
	rec.SubmittedAt = &now
	s.emit(listingID, "escrow_transition", rec)
	return rec, nil
}

// ApproveBounty releases the escrow to the worker and completes the
// listing. Poster-only.
func (s *Service) ApproveBounty(ctx context.Context, listingID, agentID string) (*models.USDCRecord, error) {
	rec, err := s.store.USDCRecordForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if rec.PosterID != agentID {
		return nil, fmt.Errorf("only the poster approves: %w", models.ErrForbidden)
	}
	if rec.Status != models.USDCSubmitted {
		return nil, fmt.Errorf("bounty is %s: %w", rec.Status, models.ErrInvalidState)
	}

	key, _, err := s.signerKeyFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.gw.ApproveBounty(ctx, key, escrow.ComputeBountyHash(listingID))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		status := models.USDCApproved
		if err := tx.UpdateUSDCRecord(ctx, rec.ID, store.USDCRecordUpdate{
			Status: &status, TxHash: &txHash, CompletedAt: &now,
		}); err != nil {
			return err
		}
		completed := models.ListingCompleted
		if err := tx.UpdateListing(ctx, listingID, store.ListingUpdate{Status: &completed}); err != nil {
			return err
		}
		if rec.WorkerID != "" {
			return tx.UpdateAgent(ctx, rec.WorkerID, store.AgentUpdate{ReputationDelta: 1})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rec.Status = models.USDCApproved
	rec.TxHash = txHash
	rec.CompletedAt = &now
	s.emit(listingID, "escrow_transition", rec)
	return rec, nil
}

// DisputeBounty freezes a submitted bounty for operator review. Poster or
// worker.
func (s *Service) DisputeBounty(ctx context.Context, listingID, agentID string) (*models.USDCRecord, error) {
	rec, err := s.store.USDCRecordForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if rec.PosterID != agentID && rec.WorkerID != agentID {
		return nil, fmt.Errorf("only a participant disputes: %w", models.ErrForbidden)
	}
	if rec.Status != models.USDCSubmitted {
		return nil, fmt.Errorf("bounty is %s: %w", rec.Status, models.ErrInvalidState)
	}

	key, _, err := s.signerKeyFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.gw.DisputeBounty(ctx, key, escrow.ComputeBountyHash(listingID))
	if err != nil {
		return nil, err
	}

	status := models.USDCDisputed
	if err := s.store.UpdateUSDCRecord(ctx, rec.ID, store.USDCRecordUpdate{Status: &status, TxHash: &txHash}); err != nil {
		return nil, err
	}
	rec.Status = status
	rec.TxHash = txHash
	s.emit(listingID, "escrow_transition", rec)
	return rec, nil
}

// CancelBountyEscrow refunds an unclaimed bounty. Poster-only, created
// status only.
func (s *Service) CancelBountyEscrow(ctx context.Context, listingID, agentID string) (*models.USDCRecord, error) {
	rec, err := s.store.USDCRecordForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if rec.PosterID != agentID {
		return nil, fmt.Errorf("only the poster cancels: %w", models.ErrForbidden)
	}
	if rec.Status != models.USDCCreated {
		return nil, fmt.Errorf("bounty is %s: %w", rec.Status, models.ErrInvalidState)
	}

	key, _, err := s.signerKeyFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	txHash, err := s.gw.CancelBounty(ctx, key, escrow.ComputeBountyHash(listingID))
	if err != nil {
		return nil, err
	}

	status := models.USDCCancelled
	if err := s.store.UpdateUSDCRecord(ctx, rec.ID, store.USDCRecordUpdate{Status: &status, TxHash: &txHash}); err != nil {
		return nil, err
	}
	rec.Status = status
	rec.TxHash = txHash
	s.emit(listingID, "escrow_transition", rec)
	return rec, nil
}
