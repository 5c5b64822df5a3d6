package reconcile

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/saltdig/engine/internal/escrow"
	"github.com/saltdig/engine/internal/events"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// AutoReleaseWindow is how long a submitted bounty may sit unreviewed
// before the worker can be paid without the poster's approval.
const AutoReleaseWindow = 72 * time.Hour

// Reconciler sweeps submitted USDC bounties against the chain: it corrects
// shadow-record drift from whatever the contract says, and fires the
// auto-release once the review window lapses. Safe to run from several
// processes at once; the contract rejects a second release.
type Reconciler struct {
	store store.Store
	gw    escrow.Gateway
	bus   *events.Bus
	now   func() time.Time
}

func New(s store.Store, gw escrow.Gateway, bus *events.Bus) *Reconciler {
	return &Reconciler{store: s, gw: gw, bus: bus, now: time.Now}
}

// Result summarizes one sweep.
type Result struct {
	Checked  int `json:"checked"`
	Drifted  int `json:"drifted"`
	Released int `json:"released"`
	Errors   int `json:"errors"`
}

// Run sweeps on the given interval until the context ends. Intervals above
// five minutes are clamped; a late release costs the worker money.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	log.Printf("[Reconcile] starting sweep loop, interval %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Reconcile] stopping sweep loop")
			return
		case <-ticker.C:
			res, err := r.RunOnce(ctx)
			if err != nil {
				log.Printf("[Reconcile] sweep failed: %v", err)
				continue
			}
			if res.Drifted > 0 || res.Released > 0 || res.Errors > 0 {
				log.Printf("[Reconcile] checked=%d drifted=%d released=%d errors=%d",
					res.Checked, res.Drifted, res.Released, res.Errors)
			}
		}
	}
}

// RunOnce performs a single sweep over all submitted bounty records. Errors
// on one bounty never block the rest; the sweep-level error is reserved for
// the store listing itself failing.
func (r *Reconciler) RunOnce(ctx context.Context) (*Result, error) {
	if r.gw == nil {
		return &Result{}, nil
	}
	records, err := r.store.USDCRecordsByStatus(ctx, models.USDCSubmitted)
	if err != nil {
		return nil, fmt.Errorf("list submitted records: %w", err)
	}

	res := &Result{}
	for _, rec := range records {
		res.Checked++
		if err := r.reconcileOne(ctx, rec, res); err != nil {
			res.Errors++
			log.Printf("[Reconcile] bounty %s (listing %s): %v", rec.BountyHash, rec.ListingID, err)
		}
	}
	return res, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, rec *models.USDCRecord, res *Result) error {
	hash, err := parseBountyHash(rec.BountyHash)
	if err != nil {
		return err
	}
	onchain, err := r.gw.GetBounty(ctx, hash)
	if err != nil {
		return fmt.Errorf("read chain state: %w", err)
	}

	// Chain moved without us (poster approved or disputed from a wallet,
	// another instance released): the chain wins, the record follows.
	if onchain.Status != escrow.StatusSubmitted {
		changed, err := r.correctDrift(ctx, rec, onchain)
		if changed {
			res.Drifted++
		}
		return err
	}

	submittedAt := rec.SubmittedAt
	if submittedAt == nil {
		// Shadow record never saw the submit; trust the contract clock.
		t := time.Unix(onchain.SubmittedAt, 0).UTC()
		submittedAt = &t
	}
	if r.now().Before(submittedAt.Add(AutoReleaseWindow)) {
		return nil
	}

	txHash, err := r.gw.AutoRelease(ctx, hash)
	if err != nil {
		return fmt.Errorf("auto-release: %w", err)
	}

	now := r.now().UTC()
	released := models.USDCAutoReleased
	if err := r.store.UpdateUSDCRecord(ctx, rec.ID, store.USDCRecordUpdate{
		Status: &released, TxHash: &txHash, CompletedAt: &now,
	}); err != nil {
		return fmt.Errorf("record release: %w", err)
	}
	res.Released++
	r.emit(rec.ListingID, map[string]string{
		"bountyHash": rec.BountyHash, "status": string(released), "txHash": txHash,
	})
	log.Printf("[Reconcile] auto-released bounty %s to worker %s (tx %s)", rec.BountyHash, rec.WorkerID, txHash)
	return nil
}

func (r *Reconciler) correctDrift(ctx context.Context, rec *models.USDCRecord, onchain *escrow.OnChainBounty) (bool, error) {
	want := escrow.RecordStatus(onchain.Status)
	if want == rec.Status {
		return false, nil
	}
	upd := store.USDCRecordUpdate{Status: &want}
	if want == models.USDCApproved || want == models.USDCAutoReleased {
		now := r.now().UTC()
		upd.CompletedAt = &now
	}
	if err := r.store.UpdateUSDCRecord(ctx, rec.ID, upd); err != nil {
		return false, fmt.Errorf("correct drift to %s: %w", want, err)
	}
	r.emit(rec.ListingID, map[string]string{"bountyHash": rec.BountyHash, "status": string(want)})
	log.Printf("[Reconcile] drift: bounty %s %s -> %s (chain %s)", rec.BountyHash, rec.Status, want, onchain.StatusLabel)
	return true, nil
}

func (r *Reconciler) emit(listingID string, payload interface{}) {
	if r.bus != nil {
		r.bus.Emit("market:"+listingID, events.Event{Type: "escrow_transition", Payload: payload})
	}
}

func parseBountyHash(s string) ([32]byte, error) {
	var hash [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 32 {
		return hash, fmt.Errorf("bounty hash %q: %w", s, models.ErrInvalidArgument)
	}
	copy(hash[:], raw)
	return hash, nil
}
