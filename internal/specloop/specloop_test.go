package specloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saltdig/engine/internal/ledger"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s := store.NewMemStore()
	return NewService(s, ledger.New(s), nil), s
}

func seedListing(t *testing.T, s store.Store, status models.ListingStatus) *models.Listing {
	t.Helper()
	ctx := context.Background()
	for id, bal := range map[string]int64{"poster": 1000, "worker": 0} {
		err := s.CreateAgent(ctx, &models.Agent{ID: id, Name: id, APIKey: "key-" + id, SaltBalance: bal, CreatedAt: time.Now().UTC()})
		if err != nil {
			t.Fatalf("seed agent %s: %v", id, err)
		}
	}
	l := &models.Listing{
		ID:        "listing-1",
		PosterID:  "poster",
		Title:     "rewrite the matching engine",
		Currency:  models.CurrencySalt,
		Price:     "800",
		Mode:      models.ModeTrade,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateListing(ctx, l); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return l
}

func saltBalance(t *testing.T, s store.Store, id string) int64 {
	t.Helper()
	a, err := s.GetAgent(context.Background(), id)
	if err != nil {
		t.Fatalf("get agent %s: %v", id, err)
	}
	return a.SaltBalance
}

func TestDepositConsumeFreeze(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	l := seedListing(t, s, models.ListingActive)

	dep, err := svc.CreateDeposit(ctx, l.ID, "poster", 500, models.CurrencySalt)
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	if got := saltBalance(t, s, "poster"); got != 500 {
		t.Fatalf("poster balance after deposit = %d, want 500", got)
	}
	lst, _ := s.GetListing(ctx, l.ID)
	if lst.Status != models.ListingClarifying {
		t.Fatalf("listing status = %s, want clarifying", lst.Status)
	}
	if _, err := svc.CreateDeposit(ctx, l.ID, "poster", 100, models.CurrencySalt); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("second active deposit: err = %v, want ErrConflict", err)
	}

	dep, err = svc.Consume(ctx, l.ID, "two review rounds on the io contract", 120)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if dep.Consumed != 120 || dep.Status != models.DepositActive {
		t.Fatalf("deposit = %+v, want consumed=120 still active", dep)
	}
	if _, err := svc.Consume(ctx, l.ID, "overdraw", 400); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("consume beyond remaining: err = %v, want ErrInsufficientFunds", err)
	}

	// The spend is journaled against the depositor as a burn entry.
	hist, err := s.LedgerHistory(ctx, "poster", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var spend *models.LedgerEntry
	for _, e := range hist {
		if e.Kind == "spec_review_payment" {
			spend = e
		}
	}
	if spend == nil {
		t.Fatalf("no spec_review_payment entry in depositor history")
	}
	if spend.FromAgentID == nil || *spend.FromAgentID != "poster" || spend.ToAgentID != nil || spend.Amount != 120 {
		t.Fatalf("spend entry = %+v, want burn of 120 from poster", spend)
	}

	dep, err = svc.Freeze(ctx, l.ID, "poster")
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if dep.Status != models.DepositFrozen || dep.FrozenAt == nil {
		t.Fatalf("deposit = %+v, want frozen with timestamp", dep)
	}
	// 500 locked, 120 consumed, 380 refunded: 500 + 380 = 880.
	if got := saltBalance(t, s, "poster"); got != 880 {
		t.Fatalf("poster balance after freeze = %d, want 880", got)
	}
	lst, _ = s.GetListing(ctx, l.ID)
	if lst.Status != models.ListingFrozen {
		t.Fatalf("listing status = %s, want frozen", lst.Status)
	}

	// Consuming a frozen deposit is over.
	if _, err := svc.Consume(ctx, l.ID, "late review", 10); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("consume after freeze: err = %v, want ErrNotFound", err)
	}
}

func TestCreateDeposit_Guards(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	l := seedListing(t, s, models.ListingActive)

	if _, err := svc.CreateDeposit(ctx, l.ID, "worker", 100, models.CurrencySalt); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-poster deposit: err = %v, want ErrForbidden", err)
	}
	if _, err := svc.CreateDeposit(ctx, l.ID, "poster", 0, models.CurrencySalt); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("zero deposit: err = %v, want ErrInvalidArgument", err)
	}
	// Insufficient balance rolls everything back: no deposit row, listing
	// stays active.
	if _, err := svc.CreateDeposit(ctx, l.ID, "poster", 5000, models.CurrencySalt); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("overdraw deposit: err = %v, want ErrInsufficientFunds", err)
	}
	if _, err := s.ActiveDepositForListing(ctx, l.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("deposit row survived rollback")
	}
	lst, _ := s.GetListing(ctx, l.ID)
	if lst.Status != models.ListingActive {
		t.Fatalf("listing status = %s, want active after rollback", lst.Status)
	}
}

func TestFreeze_RequiresClarifying(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	l := seedListing(t, s, models.ListingActive)
	if _, err := svc.Freeze(ctx, l.ID, "poster"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("freeze on active listing: err = %v, want ErrInvalidState", err)
	}
}

func TestChangeOrderLifecycle(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	l := seedListing(t, s, models.ListingFrozen)
	graph := &models.BountyGraph{Nodes: []models.GraphNode{
		{ID: "a", Cost: 100},
		{ID: "b", Cost: 60, Depends: []string{"a"}},
		{ID: "c", Cost: 40, Depends: []string{"b"}},
		{ID: "d", Cost: 20, Depends: []string{"a"}},
	}}
	if err := s.UpdateListing(ctx, l.ID, store.ListingUpdate{BountyGraph: graph}); err != nil {
		t.Fatalf("set graph: %v", err)
	}

	co, imp, err := svc.CreateChangeOrder(ctx, l.ID, "worker", "auth flow needs a second factor", []string{"a"})
	if err != nil {
		t.Fatalf("create change order: %v", err)
	}
	if co.Status != models.ChangeOrderPending {
		t.Fatalf("change order status = %s, want pending", co.Status)
	}
	if co.DeltaCost != imp.DeltaCost || co.DeltaCost != 44 {
		t.Fatalf("delta cost = %d (impact %d), want 44", co.DeltaCost, imp.DeltaCost)
	}
	if co.DeltaCurrency != models.CurrencySalt {
		t.Fatalf("delta currency = %s, want salt", co.DeltaCurrency)
	}

	if _, err := svc.ApproveChangeOrder(ctx, co.ID, "worker"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-poster approval: err = %v, want ErrForbidden", err)
	}
	approved, err := svc.ApproveChangeOrder(ctx, co.ID, "poster")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != models.ChangeOrderApproved || approved.ApprovedAt == nil {
		t.Fatalf("change order = %+v, want approved with timestamp", approved)
	}
	if _, err := svc.RejectChangeOrder(ctx, co.ID, "poster"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("decide twice: err = %v, want ErrConflict", err)
	}
}

func TestChangeOrder_RequiresFrozenListing(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	l := seedListing(t, s, models.ListingActive)
	_, _, err := svc.CreateChangeOrder(ctx, l.ID, "worker", "expand scope", []string{"a"})
	if !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("change order on active listing: err = %v, want ErrInvalidState", err)
	}
}
