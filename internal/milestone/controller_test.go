package milestone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saltdig/engine/internal/ledger"
	"github.com/saltdig/engine/internal/payout"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

func newTestController(t *testing.T) (*Controller, store.Store) {
	t.Helper()
	s := store.NewMemStore()
	led := ledger.New(s)
	rails := payout.NewRouter(payout.NewSaltRail(led), payout.NewUSDCRail())
	return NewController(s, rails, nil), s
}

func seedFrozenListing(t *testing.T, s store.Store, price string) *models.Listing {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"poster", "worker"} {
		err := s.CreateAgent(ctx, &models.Agent{ID: id, Name: id, APIKey: "key-" + id, CreatedAt: time.Now().UTC()})
		if err != nil {
			t.Fatalf("seed agent %s: %v", id, err)
		}
	}
	l := &models.Listing{
		ID:        "listing-1",
		PosterID:  "poster",
		Title:     "build the ingestion pipeline",
		Currency:  models.CurrencySalt,
		Price:     price,
		Mode:      models.ModeTrade,
		Status:    models.ListingFrozen,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateListing(ctx, l); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return l
}

func threePhases() []PlanItem {
	return []PlanItem{
		{Title: "schema", BudgetPercentage: 25, AcceptanceCriteria: "tables migrate cleanly"},
		{Title: "loader", BudgetPercentage: 25, AcceptanceCriteria: "1M rows/min sustained"},
		{Title: "query layer", BudgetPercentage: 50, AcceptanceCriteria: "p99 under 50ms"},
	}
}

func deliverable() []models.Artifact {
	return []models.Artifact{{Type: "repository", URL: "https://git.example/pipeline", Description: "phase branch"}}
}

func saltBalance(t *testing.T, s store.Store, id string) int64 {
	t.Helper()
	a, err := s.GetAgent(context.Background(), id)
	if err != nil {
		t.Fatalf("get agent %s: %v", id, err)
	}
	return a.SaltBalance
}

func TestCreatePlan_Validation(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedFrozenListing(t, s, "1000")

	if _, err := c.CreatePlan(ctx, l.ID, "worker", threePhases()); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-poster plan: err = %v, want ErrForbidden", err)
	}
	if _, err := c.CreatePlan(ctx, l.ID, "poster", nil); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("empty plan: err = %v, want ErrInvalidArgument", err)
	}

	short := threePhases()
	short[2].BudgetPercentage = 40 // sums to 90
	if _, err := c.CreatePlan(ctx, l.ID, "poster", short); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("sum 90: err = %v, want ErrInvalidArgument", err)
	}

	ms, err := c.CreatePlan(ctx, l.ID, "poster", threePhases())
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if len(ms) != 3 || ms[1].OrderIndex != 1 {
		t.Fatalf("plan = %+v, want 3 ordered milestones", ms)
	}
	if _, err := c.CreatePlan(ctx, l.ID, "poster", threePhases()); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("second plan: err = %v, want ErrConflict", err)
	}
}

func TestCreatePlan_RequiresFrozenListing(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedFrozenListing(t, s, "1000")
	active := models.ListingActive
	if err := s.UpdateListing(ctx, l.ID, store.ListingUpdate{Status: &active}); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if _, err := c.CreatePlan(ctx, l.ID, "poster", threePhases()); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("plan on active listing: err = %v, want ErrInvalidState", err)
	}
}

func TestStart_OutOfOrderRejected(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedFrozenListing(t, s, "1000")
	ms, err := c.CreatePlan(ctx, l.ID, "poster", threePhases())
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}

	if _, err := c.Start(ctx, ms[1].ID, "worker"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("starting milestone 1 before 0 approved: err = %v, want ErrInvalidState", err)
	}
	if _, err := c.Start(ctx, ms[0].ID, "worker"); err != nil {
		t.Fatalf("start milestone 0: %v", err)
	}
	// Still blocked: milestone 0 is in_progress, not approved.
	if _, err := c.Start(ctx, ms[1].ID, "worker"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("starting milestone 1 while 0 in progress: err = %v, want ErrInvalidState", err)
	}
}

func TestFullPlanPaysOutBudget(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedFrozenListing(t, s, "1000")
	ms, err := c.CreatePlan(ctx, l.ID, "poster", threePhases())
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}

	wantPayouts := []int64{250, 500, 1000} // cumulative after each approval
	for i, m := range ms {
		if _, err := c.Start(ctx, m.ID, "worker"); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if _, err := c.Submit(ctx, m.ID, "worker", deliverable()); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if _, err := c.Approve(ctx, m.ID, "poster"); err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if got := saltBalance(t, s, "worker"); got != wantPayouts[i] {
			t.Fatalf("worker balance after milestone %d = %d, want %d", i, got, wantPayouts[i])
		}
	}

	final, err := s.GetListing(ctx, l.ID)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if final.Status != models.ListingCompleted {
		t.Fatalf("listing status = %s, want completed after last approval", final.Status)
	}
	worker, _ := s.GetAgent(ctx, "worker")
	if worker.Reputation != 3 {
		t.Fatalf("worker reputation = %d, want 3", worker.Reputation)
	}

	p, err := c.Progress(ctx, l.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Completed != 3 || p.BudgetReleasedPercentage != 100 || p.CurrentMilestone != nil {
		t.Fatalf("progress = %+v, want 3/100%%/no current", p)
	}
}

func TestRejectReturnsMilestoneWithFeedback(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedFrozenListing(t, s, "1000")
	ms, err := c.CreatePlan(ctx, l.ID, "poster", threePhases())
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := c.Start(ctx, ms[0].ID, "worker"); err != nil {
		t.Fatalf("start: %v", err)
	}
	sub, err := c.Submit(ctx, ms[0].ID, "worker", deliverable())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := c.Reject(ctx, ms[0].ID, "poster", ""); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("reject without feedback: err = %v, want ErrInvalidArgument", err)
	}
	m, err := c.Reject(ctx, ms[0].ID, "poster", "migration drops the audit table")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if m.Status != models.MilestoneInProgress {
		t.Fatalf("milestone status = %s, want in_progress after rejection", m.Status)
	}
	stored, err := s.LatestSubmission(ctx, ms[0].ID)
	if err != nil {
		t.Fatalf("latest submission: %v", err)
	}
	if stored.ID != sub.ID || stored.Status != models.SubmissionRejected || stored.Feedback == "" {
		t.Fatalf("submission = %+v, want rejected with feedback", stored)
	}
	if got := saltBalance(t, s, "worker"); got != 0 {
		t.Fatalf("worker paid on rejection: balance %d", got)
	}

	// Assignee is retained and may resubmit without restarting.
	if _, err := c.Submit(ctx, ms[0].ID, "worker", deliverable()); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if _, err := c.Approve(ctx, ms[0].ID, "poster"); err != nil {
		t.Fatalf("approve after resubmit: %v", err)
	}
	if got := saltBalance(t, s, "worker"); got != 250 {
		t.Fatalf("worker balance = %d, want 250", got)
	}
}

func TestSubmit_Guards(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedFrozenListing(t, s, "1000")
	ms, err := c.CreatePlan(ctx, l.ID, "poster", threePhases())
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := c.Submit(ctx, ms[0].ID, "worker", deliverable()); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("submit before start: err = %v, want ErrForbidden", err)
	}
	if _, err := c.Start(ctx, ms[0].ID, "worker"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.Submit(ctx, ms[0].ID, "poster", deliverable()); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-assignee submit: err = %v, want ErrForbidden", err)
	}
	if _, err := c.Submit(ctx, ms[0].ID, "worker", nil); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("submit without artifacts: err = %v, want ErrInvalidArgument", err)
	}
	incomplete := []models.Artifact{{Type: "repository", URL: "https://git.example/x"}}
	if _, err := c.Submit(ctx, ms[0].ID, "worker", incomplete); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("artifact without description: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := c.Approve(ctx, ms[0].ID, "poster"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("approve without submission: err = %v, want ErrInvalidState", err)
	}
}
