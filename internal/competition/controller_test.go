package competition

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saltdig/engine/internal/ledger"
	"github.com/saltdig/engine/internal/payout"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

type fixedEvaluator struct {
	scores map[string]float64 // keyed by first artifact URL
	fail   bool
}

func (e *fixedEvaluator) Evaluate(ctx context.Context, listingID string, artifacts []models.Artifact) (*EvalResult, error) {
	if e.fail {
		return nil, errors.New("harness unavailable")
	}
	score, ok := e.scores[artifacts[0].URL]
	if !ok {
		return &EvalResult{Success: false, Details: "no tests matched"}, nil
	}
	return &EvalResult{Success: true, Score: score}, nil
}

func newTestController(t *testing.T) (*Controller, store.Store) {
	t.Helper()
	s := store.NewMemStore()
	led := ledger.New(s)
	rails := payout.NewRouter(payout.NewSaltRail(led), payout.NewUSDCRail())
	return NewController(s, rails, nil), s
}

func seedBountyListing(t *testing.T, s store.Store, currency models.Currency, price string) *models.Listing {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"poster", "w1", "w2", "w3"} {
		if err := s.CreateAgent(ctx, &models.Agent{ID: id, Name: id, APIKey: "key-" + id, CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("seed agent %s: %v", id, err)
		}
	}
	l := &models.Listing{
		ID:        "listing-1",
		PosterID:  "poster",
		Title:     "optimize the planner",
		Currency:  currency,
		Price:     price,
		Mode:      models.ModeTrade,
		Status:    models.ListingActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateListing(ctx, l); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return l
}

func mustBalance(t *testing.T, s store.Store, id string) int64 {
	t.Helper()
	a, err := s.GetAgent(context.Background(), id)
	if err != nil {
		t.Fatalf("get agent %s: %v", id, err)
	}
	return a.SaltBalance
}

func art(url string) []models.Artifact {
	return []models.Artifact{{Type: "repository", URL: url, Description: "entry"}}
}

func TestCreate_DefaultsAndGuards(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencyUSDC, "300")

	comp, err := c.Create(ctx, l.ID, "poster", Config{Method: models.EvalHarness, Distribution: models.DistTop3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if comp.MaxSubmissionsPerAgent != 1 {
		t.Fatalf("default submission cap = %d, want 1", comp.MaxSubmissionsPerAgent)
	}
	if len(comp.Percentages) != 3 || comp.Percentages[0] != 50 || comp.Percentages[1] != 30 || comp.Percentages[2] != 20 {
		t.Fatalf("default top-3 split = %v", comp.Percentages)
	}

	if _, err := c.Create(ctx, l.ID, "poster", Config{Method: models.EvalHarness, Distribution: models.DistTop3}); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("second competition on listing: err = %v, want ErrConflict", err)
	}
	if _, err := c.Create(ctx, l.ID, "w1", Config{Method: models.EvalHarness, Distribution: models.DistTop3}); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-poster create: err = %v, want ErrForbidden", err)
	}
}

func TestCreate_RejectsBadConfig(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencyUSDC, "300")

	if _, err := c.Create(ctx, l.ID, "poster", Config{Method: "coin_flip", Distribution: models.DistTop3}); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("bad method: err = %v", err)
	}
	if _, err := c.Create(ctx, l.ID, "poster", Config{
		Method: models.EvalHarness, Distribution: models.DistTop3, Percentages: []float64{60, 30, 20},
	}); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("split not summing to 100: err = %v", err)
	}
}

func TestSubmit_EnforcesCapAndDeadline(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencyUSDC, "300")

	past := time.Now().Add(-time.Hour)
	expired, err := c.Create(ctx, l.ID, "poster", Config{Method: models.EvalHarness, Distribution: models.DistWinnerTakeAll, Deadline: &past})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Submit(ctx, expired.ID, "w1", art("https://example.com/r1")); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("submit after deadline: err = %v, want ErrInvalidState", err)
	}
}

func TestSubmit_PerAgentCap(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencyUSDC, "300")

	comp, err := c.Create(ctx, l.ID, "poster", Config{
		Method: models.EvalHarness, Distribution: models.DistWinnerTakeAll, MaxSubmissionsPerAgent: 2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Submit(ctx, comp.ID, "w1", art(fmt.Sprintf("https://example.com/r%d", i))); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := c.Submit(ctx, comp.ID, "w1", art("https://example.com/r3")); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("submit over cap: err = %v, want ErrInvalidState", err)
	}
	// Cap is per agent, not global.
	if _, err := c.Submit(ctx, comp.ID, "w2", art("https://example.com/other")); err != nil {
		t.Fatalf("other agent blocked by cap: %v", err)
	}
}

func TestEvaluate_FailureDisqualifies(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencyUSDC, "300")

	comp, _ := c.Create(ctx, l.ID, "poster", Config{Method: models.EvalHarness, Distribution: models.DistWinnerTakeAll})
	entry, err := c.Submit(ctx, comp.ID, "w1", art("https://example.com/r1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := c.Evaluate(ctx, entry.ID, &fixedEvaluator{fail: true})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got.Status != models.EntryDisqualified || got.Reason == "" {
		t.Fatalf("entry = %s (%q), want disqualified with reason", got.Status, got.Reason)
	}

	// Disqualified entries cannot be re-evaluated.
	if _, err := c.Evaluate(ctx, entry.ID, &fixedEvaluator{}); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("re-evaluate: err = %v, want ErrInvalidState", err)
	}
}

// Three scored entries at 90/80/70 against a 300 USDC pool split 50/30/20
// finalize as 150/90/60 with the top scorer marked winner.
func TestFinalize_Top3Split(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencyUSDC, "300")

	comp, err := c.Create(ctx, l.ID, "poster", Config{Method: models.EvalHarness, Distribution: models.DistTop3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	eval := &fixedEvaluator{scores: map[string]float64{
		"https://example.com/a": 90,
		"https://example.com/b": 80,
		"https://example.com/c": 70,
	}}
	ids := map[string]string{} // agent -> entry id
	for agent, url := range map[string]string{"w1": "https://example.com/a", "w2": "https://example.com/b", "w3": "https://example.com/c"} {
		e, err := c.Submit(ctx, comp.ID, agent, art(url))
		if err != nil {
			t.Fatalf("submit %s: %v", agent, err)
		}
		if _, err := c.Evaluate(ctx, e.ID, eval); err != nil {
			t.Fatalf("evaluate %s: %v", agent, err)
		}
		ids[agent] = e.ID
	}

	final, err := c.Finalize(ctx, comp.ID, "poster")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Status != models.CompetitionFinalized {
		t.Fatalf("competition status = %s", final.Status)
	}
	if final.WinnerID != "w1" {
		t.Fatalf("winner = %s, want w1", final.WinnerID)
	}

	want := map[string]struct {
		rank  int
		prize string
	}{
		"w1": {1, "150"},
		"w2": {2, "90"},
		"w3": {3, "60"},
	}
	for agent, w := range want {
		e, err := s.GetEntry(ctx, ids[agent])
		if err != nil {
			t.Fatalf("get entry %s: %v", agent, err)
		}
		if e.Rank == nil || *e.Rank != w.rank {
			t.Fatalf("%s rank = %v, want %d", agent, e.Rank, w.rank)
		}
		got, _ := decimal.NewFromString(e.PrizeAmount)
		wantPrize, _ := decimal.NewFromString(w.prize)
		if !got.Equal(wantPrize) {
			t.Fatalf("%s prize = %s, want %s", agent, e.PrizeAmount, w.prize)
		}
	}

	winner, _ := s.GetEntry(ctx, ids["w1"])
	if winner.Status != models.EntryWinner {
		t.Fatalf("top entry status = %s, want winner", winner.Status)
	}

	if _, err := c.Finalize(ctx, comp.ID, "poster"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("double finalize: err = %v, want ErrConflict", err)
	}
}

func TestFinalize_TieBreaksOnSubmissionTime(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencyUSDC, "100")

	comp, _ := c.Create(ctx, l.ID, "poster", Config{Method: models.EvalHarness, Distribution: models.DistWinnerTakeAll})
	eval := &fixedEvaluator{scores: map[string]float64{
		"https://example.com/a": 85,
		"https://example.com/b": 85,
	}}

	first, _ := c.Submit(ctx, comp.ID, "w1", art("https://example.com/a"))
	time.Sleep(2 * time.Millisecond)
	second, _ := c.Submit(ctx, comp.ID, "w2", art("https://example.com/b"))
	for _, e := range []*models.CompetitionEntry{first, second} {
		if _, err := c.Evaluate(ctx, e.ID, eval); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}

	final, err := c.Finalize(ctx, comp.ID, "poster")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.WinnerID != "w1" {
		t.Fatalf("tie went to %s, want earlier submitter w1", final.WinnerID)
	}
}

// On the Salt rail, finalizing issues prize balances on the ledger and the
// sum of issued prizes equals the pool.
func TestFinalize_SaltPrizesHitLedger(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencySalt, "300")

	comp, _ := c.Create(ctx, l.ID, "poster", Config{Method: models.EvalHarness, Distribution: models.DistTop3})
	eval := &fixedEvaluator{scores: map[string]float64{
		"https://example.com/a": 90,
		"https://example.com/b": 80,
		"https://example.com/c": 70,
	}}
	for agent, url := range map[string]string{"w1": "https://example.com/a", "w2": "https://example.com/b", "w3": "https://example.com/c"} {
		e, _ := c.Submit(ctx, comp.ID, agent, art(url))
		if _, err := c.Evaluate(ctx, e.ID, eval); err != nil {
			t.Fatalf("evaluate %s: %v", agent, err)
		}
	}
	if _, err := c.Finalize(ctx, comp.ID, "poster"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	var total int64
	for agent, want := range map[string]int64{"w1": 150, "w2": 90, "w3": 60} {
		a, err := s.GetAgent(ctx, agent)
		if err != nil {
			t.Fatalf("get agent %s: %v", agent, err)
		}
		if a.SaltBalance != want {
			t.Fatalf("%s balance = %d, want %d", agent, a.SaltBalance, want)
		}
		total += a.SaltBalance
	}
	if total != 300 {
		t.Fatalf("prize total = %d, want 300", total)
	}
}

// A Salt pool smaller than the entry count yields per-entry shares below one
// whole Salt under proportional split. Those shares are skipped rather than
// aborting the finalize, and the truncation remainder goes to the top rank.
func TestFinalize_ProportionalSubUnitShares(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencySalt, "2")

	comp, err := c.Create(ctx, l.ID, "poster", Config{
		Method: models.EvalHarness, Distribution: models.DistProportional, MaxSubmissionsPerAgent: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	eval := &fixedEvaluator{scores: map[string]float64{
		"https://example.com/a": 50,
		"https://example.com/b": 50,
		"https://example.com/c": 50,
	}}
	for _, sub := range []struct{ agent, url string }{
		{"w1", "https://example.com/a"},
		{"w2", "https://example.com/b"},
		{"w3", "https://example.com/c"},
	} {
		e, err := c.Submit(ctx, comp.ID, sub.agent, art(sub.url))
		if err != nil {
			t.Fatalf("submit %s: %v", sub.agent, err)
		}
		if _, err := c.Evaluate(ctx, e.ID, eval); err != nil {
			t.Fatalf("evaluate %s: %v", sub.agent, err)
		}
	}

	final, err := c.Finalize(ctx, comp.ID, "poster")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Status != models.CompetitionFinalized || final.WinnerID != "w1" {
		t.Fatalf("competition = %+v, want finalized with winner w1", final)
	}

	// Equal scores: w1 ranks first on submission time and takes the whole
	// truncated pool; the others keep their ranks unpaid.
	if got := mustBalance(t, s, "w1"); got != 2 {
		t.Fatalf("w1 balance = %d, want 2", got)
	}
	for _, id := range []string{"w2", "w3"} {
		if got := mustBalance(t, s, id); got != 0 {
			t.Fatalf("%s balance = %d, want 0", id, got)
		}
	}
	entries, err := s.EntriesForCompetition(ctx, comp.ID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	for _, e := range entries {
		if e.Rank == nil {
			t.Fatalf("entry %s lost its rank", e.ID)
		}
	}
}

func TestFinalize_WinnerTakeAllAndNoScoredEntries(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()
	l := seedBountyListing(t, s, models.CurrencySalt, "200")

	comp, _ := c.Create(ctx, l.ID, "poster", Config{Method: models.EvalHarness, Distribution: models.DistWinnerTakeAll})

	if _, err := c.Finalize(ctx, comp.ID, "poster"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("finalize with no entries: err = %v, want ErrInvalidState", err)
	}

	e, _ := c.Submit(ctx, comp.ID, "w1", art("https://example.com/a"))
	if _, err := c.Evaluate(ctx, e.ID, &fixedEvaluator{scores: map[string]float64{"https://example.com/a": 60}}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := c.Finalize(ctx, comp.ID, "poster"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	a, _ := s.GetAgent(ctx, "w1")
	if a.SaltBalance != 200 {
		t.Fatalf("winner-take-all balance = %d, want 200", a.SaltBalance)
	}
}
