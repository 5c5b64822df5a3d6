package reconcile

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/saltdig/engine/internal/escrow"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// fakeGateway serves canned chain state keyed by bounty hash and records
// release calls.
type fakeGateway struct {
	escrow.Gateway
	bounties map[[32]byte]*escrow.OnChainBounty
	released [][32]byte
	readErr  error
}

func (g *fakeGateway) GetBounty(ctx context.Context, hash [32]byte) (*escrow.OnChainBounty, error) {
	if g.readErr != nil {
		return nil, g.readErr
	}
	b, ok := g.bounties[hash]
	if !ok {
		return nil, models.ErrEscrowRPC
	}
	return b, nil
}

func (g *fakeGateway) AutoRelease(ctx context.Context, hash [32]byte) (string, error) {
	g.released = append(g.released, hash)
	if b, ok := g.bounties[hash]; ok {
		b.Status = escrow.StatusAutoReleased
	}
	return "0xreleased", nil
}

func hashFor(seed byte) [32]byte {
	var h [32]byte
	h[0] = seed
	return h
}

func seedRecord(t *testing.T, s store.Store, seed byte, status models.USDCStatus, submittedAt *time.Time) *models.USDCRecord {
	t.Helper()
	h := hashFor(seed)
	rec := &models.USDCRecord{
		ID:          "rec-" + string('a'+rune(seed)),
		ListingID:   "listing-" + string('a'+rune(seed)),
		BountyHash:  "0x" + hex.EncodeToString(h[:]),
		PosterID:    "poster",
		WorkerID:    "worker",
		Amount:      "100",
		WorkerStake: "10",
		Status:      status,
		SubmittedAt: submittedAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreateUSDCRecord(context.Background(), rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return rec
}

func newTestReconciler(gw *fakeGateway, now time.Time) (*Reconciler, store.Store) {
	s := store.NewMemStore()
	r := New(s, gw, nil)
	r.now = func() time.Time { return now }
	return r, s
}

func TestRunOnce_ReleasesAfterWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	submitted := now.Add(-AutoReleaseWindow - time.Minute)
	gw := &fakeGateway{bounties: map[[32]byte]*escrow.OnChainBounty{
		hashFor(0): {Status: escrow.StatusSubmitted, SubmittedAt: submitted.Unix()},
	}}
	r, s := newTestReconciler(gw, now)
	rec := seedRecord(t, s, 0, models.USDCSubmitted, &submitted)

	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Checked != 1 || res.Released != 1 {
		t.Fatalf("result = %+v, want 1 checked 1 released", res)
	}
	if len(gw.released) != 1 {
		t.Fatalf("gateway saw %d releases, want 1", len(gw.released))
	}

	got, _ := s.GetUSDCRecord(context.Background(), rec.ID)
	if got.Status != models.USDCAutoReleased {
		t.Fatalf("record status = %s, want auto_released", got.Status)
	}
	if got.TxHash != "0xreleased" || got.CompletedAt == nil {
		t.Fatalf("record not stamped: tx=%q completed=%v", got.TxHash, got.CompletedAt)
	}
}

// One second inside the window holds the funds; the exact boundary releases.
func TestRunOnce_WindowBoundary(t *testing.T) {
	submitted := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	early := submitted.Add(AutoReleaseWindow - time.Second)
	gw := &fakeGateway{bounties: map[[32]byte]*escrow.OnChainBounty{
		hashFor(0): {Status: escrow.StatusSubmitted, SubmittedAt: submitted.Unix()},
	}}
	r, s := newTestReconciler(gw, early)
	seedRecord(t, s, 0, models.USDCSubmitted, &submitted)

	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Released != 0 || len(gw.released) != 0 {
		t.Fatalf("released inside the window: %+v", res)
	}

	r.now = func() time.Time { return submitted.Add(AutoReleaseWindow) }
	res, err = r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("boundary sweep: %v", err)
	}
	if res.Released != 1 {
		t.Fatalf("boundary sweep released %d, want 1", res.Released)
	}
}

// A second sweep finds no submitted records and releases nothing.
func TestRunOnce_Idempotent(t *testing.T) {
	now := time.Now().UTC()
	submitted := now.Add(-AutoReleaseWindow - time.Hour)
	gw := &fakeGateway{bounties: map[[32]byte]*escrow.OnChainBounty{
		hashFor(0): {Status: escrow.StatusSubmitted, SubmittedAt: submitted.Unix()},
	}}
	r, s := newTestReconciler(gw, now)
	seedRecord(t, s, 0, models.USDCSubmitted, &submitted)

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Checked != 0 || len(gw.released) != 1 {
		t.Fatalf("second sweep not a no-op: %+v, releases=%d", res, len(gw.released))
	}
}

func TestRunOnce_CorrectsDrift(t *testing.T) {
	now := time.Now().UTC()
	submitted := now.Add(-time.Hour)
	// Poster approved from a wallet; our record still says submitted.
	gw := &fakeGateway{bounties: map[[32]byte]*escrow.OnChainBounty{
		hashFor(0): {Status: escrow.StatusApproved, StatusLabel: "Approved", SubmittedAt: submitted.Unix()},
	}}
	r, s := newTestReconciler(gw, now)
	rec := seedRecord(t, s, 0, models.USDCSubmitted, &submitted)

	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Drifted != 1 || res.Released != 0 {
		t.Fatalf("result = %+v, want 1 drifted 0 released", res)
	}
	got, _ := s.GetUSDCRecord(context.Background(), rec.ID)
	if got.Status != models.USDCApproved || got.CompletedAt == nil {
		t.Fatalf("record = %s completed=%v, want approved with completion time", got.Status, got.CompletedAt)
	}
}

// One unreachable bounty must not block the release of another.
func TestRunOnce_IsolatesPerBountyErrors(t *testing.T) {
	now := time.Now().UTC()
	submitted := now.Add(-AutoReleaseWindow - time.Hour)
	gw := &fakeGateway{bounties: map[[32]byte]*escrow.OnChainBounty{
		// hashFor(0) missing: GetBounty fails for it.
		hashFor(1): {Status: escrow.StatusSubmitted, SubmittedAt: submitted.Unix()},
	}}
	r, s := newTestReconciler(gw, now)
	seedRecord(t, s, 0, models.USDCSubmitted, &submitted)
	seedRecord(t, s, 1, models.USDCSubmitted, &submitted)

	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Errors != 1 || res.Released != 1 {
		t.Fatalf("result = %+v, want 1 error 1 released", res)
	}
}

func TestRunOnce_SurfacesStoreFailureOnly(t *testing.T) {
	gw := &fakeGateway{readErr: errors.New("rpc down"), bounties: map[[32]byte]*escrow.OnChainBounty{}}
	r, s := newTestReconciler(gw, time.Now().UTC())
	submitted := time.Now().Add(-2 * AutoReleaseWindow)
	seedRecord(t, s, 0, models.USDCSubmitted, &submitted)

	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("rpc errors must stay per-bounty: %v", err)
	}
	if res.Errors != 1 {
		t.Fatalf("result = %+v, want 1 error", res)
	}
}
