package competition

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saltdig/engine/internal/events"
	"github.com/saltdig/engine/internal/payout"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// EvalResult is the external evaluator's verdict on one entry. Harness
// evaluation runs in the acceptance sandbox; manual and vote evaluation
// come from operator callbacks.
type EvalResult struct {
	Success  bool    `json:"success"`
	Score    float64 `json:"score"`
	Details  string  `json:"details,omitempty"`
	Feedback string  `json:"feedback,omitempty"`
}

// Evaluator scores artifacts against a listing. The controller treats it as
// an opaque collaborator; a returned error disqualifies the entry.
type Evaluator interface {
	Evaluate(ctx context.Context, listingID string, artifacts []models.Artifact) (*EvalResult, error)
}

// Controller admits entries, dispatches evaluation, and resolves the
// contest into a ranked prize distribution paid over the listing's rail.
type Controller struct {
	store store.Store
	rails *payout.Router
	bus   *events.Bus
}

func NewController(s store.Store, rails *payout.Router, bus *events.Bus) *Controller {
	return &Controller{store: s, rails: rails, bus: bus}
}

func (c *Controller) emit(listingID string, payload interface{}) {
	if c.bus != nil {
		c.bus.Emit("market:"+listingID, events.Event{Type: "competition_transition", Payload: payload})
	}
}

type Config struct {
	MaxSubmissionsPerAgent int
	Method                 models.EvaluationMethod
	Distribution           models.PrizeDistribution
	Percentages            []float64
	MinScore               float64
	Deadline               *time.Time
}

// Create opens the contest on a trade-mode (bounty) listing. One
// competition per listing; top-3 defaults to a 50/30/20 split.
func (c *Controller) Create(ctx context.Context, listingID, agentID string, cfg Config) (*models.Competition, error) {
	l, err := c.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster opens a competition: %w", models.ErrForbidden)
	}
	if l.Mode != models.ModeTrade {
		return nil, fmt.Errorf("competitions require a bounty listing: %w", models.ErrInvalidState)
	}
	if _, err := c.store.CompetitionForListing(ctx, listingID); err == nil {
		return nil, fmt.Errorf("listing %s already has a competition: %w", listingID, models.ErrConflict)
	}

	switch cfg.Method {
	case models.EvalHarness, models.EvalManual, models.EvalVote:
	default:
		return nil, fmt.Errorf("evaluation method %q: %w", cfg.Method, models.ErrInvalidArgument)
	}

	if cfg.MaxSubmissionsPerAgent <= 0 {
		cfg.MaxSubmissionsPerAgent = 1
	}
	switch cfg.Distribution {
	case models.DistWinnerTakeAll, models.DistProportional:
	case models.DistTop3:
		if len(cfg.Percentages) == 0 {
			cfg.Percentages = []float64{50, 30, 20}
		}
		var sum float64
		for _, p := range cfg.Percentages {
			sum += p
		}
		if len(cfg.Percentages) != 3 || sum < 99.99 || sum > 100.01 {
			return nil, fmt.Errorf("top-3 percentages must be 3 values summing to 100: %w", models.ErrInvalidArgument)
		}
	default:
		return nil, fmt.Errorf("prize distribution %q: %w", cfg.Distribution, models.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	comp := &models.Competition{
		ID:                     uuid.NewString(),
		ListingID:              listingID,
		MaxSubmissionsPerAgent: cfg.MaxSubmissionsPerAgent,
		Method:                 cfg.Method,
		Distribution:           cfg.Distribution,
		Percentages:            cfg.Percentages,
		MinScore:               cfg.MinScore,
		Deadline:               cfg.Deadline,
		Status:                 models.CompetitionActive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := c.store.CreateCompetition(ctx, comp); err != nil {
		return nil, err
	}
	c.emit(listingID, map[string]string{"competitionId": comp.ID, "status": "active"})
	return comp, nil
}

// Submit admits an entry: competition active, deadline not passed, agent
// under its submission cap.
func (c *Controller) Submit(ctx context.Context, competitionID, agentID string, artifacts []models.Artifact) (*models.CompetitionEntry, error) {
	comp, err := c.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if comp.Status != models.CompetitionActive {
		return nil, fmt.Errorf("competition is %s: %w", comp.Status, models.ErrInvalidState)
	}
	if comp.Deadline != nil && time.Now().After(*comp.Deadline) {
		return nil, fmt.Errorf("competition deadline passed: %w", models.ErrInvalidState)
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("at least one artifact required: %w", models.ErrInvalidArgument)
	}
	n, err := c.store.CountEntries(ctx, competitionID, agentID)
	if err != nil {
		return nil, err
	}
	if n >= comp.MaxSubmissionsPerAgent {
		return nil, fmt.Errorf("agent %s at submission cap %d: %w", agentID, comp.MaxSubmissionsPerAgent, models.ErrInvalidState)
	}

	now := time.Now().UTC()
	entry := &models.CompetitionEntry{
		ID:            uuid.NewString(),
		CompetitionID: competitionID,
		AgentID:       agentID,
		Artifacts:     artifacts,
		Status:        models.EntryPending,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	if err := c.store.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	c.emit(comp.ListingID, map[string]string{"entryId": entry.ID, "status": "pending"})
	return entry, nil
}

// Evaluate scores one entry through the evaluator. Evaluation failure
// disqualifies the entry with the failure reason; success stores the score.
func (c *Controller) Evaluate(ctx context.Context, entryID string, evaluator Evaluator) (*models.CompetitionEntry, error) {
	entry, err := c.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.EntryPending {
		return nil, fmt.Errorf("entry %s is %s: %w", entryID, entry.Status, models.ErrInvalidState)
	}
	comp, err := c.store.GetCompetition(ctx, entry.CompetitionID)
	if err != nil {
		return nil, err
	}
	if evaluator == nil {
		return nil, fmt.Errorf("no evaluator for method %s: %w", comp.Method, models.ErrInvalidArgument)
	}

	evaluating := models.EntryEvaluating
	if err := c.store.UpdateEntry(ctx, entryID, store.EntryUpdate{Status: &evaluating}); err != nil {
		return nil, err
	}

	result, evalErr := evaluator.Evaluate(ctx, comp.ListingID, entry.Artifacts)
	if evalErr != nil || result == nil || !result.Success {
		reason := "evaluation failed"
		if evalErr != nil {
			reason = evalErr.Error()
		} else if result != nil && result.Details != "" {
			reason = result.Details
		}
		dq := models.EntryDisqualified
		if err := c.store.UpdateEntry(ctx, entryID, store.EntryUpdate{Status: &dq, Reason: &reason}); err != nil {
			return nil, err
		}
		entry.Status = dq
		entry.Reason = reason
		c.emit(comp.ListingID, map[string]string{"entryId": entryID, "status": "disqualified"})
		return entry, nil
	}

	scored := models.EntryScored
	if err := c.store.UpdateEntry(ctx, entryID, store.EntryUpdate{Status: &scored, Score: &result.Score}); err != nil {
		return nil, err
	}
	entry.Status = scored
	entry.Score = &result.Score
	c.emit(comp.ListingID, map[string]string{"entryId": entryID, "status": "scored"})
	return entry, nil
}

// Finalize ranks scored entries and distributes the prize pool. Ranks order
// by score descending, ties broken by earlier submission. The full
// assignment of ranks, prizes and the winner commits in one transaction.
func (c *Controller) Finalize(ctx context.Context, competitionID, agentID string) (*models.Competition, error) {
	comp, err := c.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	l, err := c.store.GetListing(ctx, comp.ListingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster finalizes: %w", models.ErrForbidden)
	}
	if comp.Status == models.CompetitionFinalized {
		return nil, fmt.Errorf("competition already finalized: %w", models.ErrConflict)
	}
	if comp.Status != models.CompetitionActive && comp.Status != models.CompetitionEvaluating {
		return nil, fmt.Errorf("competition is %s: %w", comp.Status, models.ErrInvalidState)
	}

	entries, err := c.store.EntriesForCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	scored := make([]*models.CompetitionEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status == models.EntryScored && e.Score != nil {
			scored = append(scored, e)
		}
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("no scored entries: %w", models.ErrInvalidState)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if *scored[i].Score != *scored[j].Score {
			return *scored[i].Score > *scored[j].Score
		}
		return scored[i].SubmittedAt.Before(scored[j].SubmittedAt)
	})

	total, err := decimal.NewFromString(l.Price)
	if err != nil {
		return nil, fmt.Errorf("listing price %q: %w", l.Price, models.ErrInvalidArgument)
	}
	prizes := computePrizes(comp, scored, total)
	normalizePrizes(prizes, scored, total, l.Currency)

	err = c.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		for i, e := range scored {
			rank := i + 1
			upd := store.EntryUpdate{Rank: &rank}
			prize := prizes[e.ID]
			if prize.Sign() > 0 {
				ps := prize.String()
				upd.PrizeAmount = &ps
			}
			if rank == 1 {
				winner := models.EntryWinner
				upd.Status = &winner
			}
			if err := tx.UpdateEntry(ctx, e.ID, upd); err != nil {
				return err
			}
			if prize.Sign() > 0 {
				if err := c.rails.Pay(ctx, tx, l.Currency, e.AgentID, prize, "competition_prize",
					fmt.Sprintf("rank %d in competition %s", rank, competitionID)); err != nil {
					return err
				}
			}
		}
		finalized := models.CompetitionFinalized
		return tx.UpdateCompetition(ctx, competitionID, store.CompetitionUpdate{
			Status: &finalized, WinnerID: &scored[0].AgentID,
		})
	})
	if err != nil {
		return nil, err
	}

	comp.Status = models.CompetitionFinalized
	comp.WinnerID = scored[0].AgentID
	c.emit(comp.ListingID, map[string]string{"competitionId": competitionID, "status": "finalized", "winner": comp.WinnerID})
	return comp, nil
}

// computePrizes maps entry id to prize amount under the configured
// distribution. Ranked input is already sorted best first.
func computePrizes(comp *models.Competition, ranked []*models.CompetitionEntry, total decimal.Decimal) map[string]decimal.Decimal {
	prizes := make(map[string]decimal.Decimal, len(ranked))
	hundred := decimal.NewFromInt(100)

	switch comp.Distribution {
	case models.DistWinnerTakeAll:
		prizes[ranked[0].ID] = total

	case models.DistTop3:
		pcts := comp.Percentages
		if len(pcts) == 0 {
			pcts = []float64{50, 30, 20}
		}
		n := len(ranked)
		if n > 3 {
			n = 3
		}
		for i := 0; i < n; i++ {
			share := total.Mul(decimal.NewFromFloat(pcts[i])).Div(hundred)
			prizes[ranked[i].ID] = share
		}
		// Fewer entries than slots: the unclaimed shares fold into rank 1 so
		// the pool is fully distributed.
		if n < 3 {
			var paid decimal.Decimal
			for _, p := range prizes {
				paid = paid.Add(p)
			}
			prizes[ranked[0].ID] = prizes[ranked[0].ID].Add(total.Sub(paid))
		}

	case models.DistProportional:
		eligible := make([]*models.CompetitionEntry, 0, len(ranked))
		var scoreSum decimal.Decimal
		for _, e := range ranked {
			if *e.Score >= comp.MinScore {
				eligible = append(eligible, e)
				scoreSum = scoreSum.Add(decimal.NewFromFloat(*e.Score))
			}
		}
		if scoreSum.Sign() <= 0 {
			return prizes
		}
		for _, e := range eligible {
			prizes[e.ID] = total.Mul(decimal.NewFromFloat(*e.Score)).Div(scoreSum)
		}
	}
	return prizes
}

// normalizePrizes truncates each share to the currency's settleable unit
// (whole Salt, micro-USDC) and hands the truncation remainder to the top
// rank, so the pool conserves and no share ends up un-payable. An entry
// whose share truncates to zero keeps its rank and is simply not paid.
func normalizePrizes(prizes map[string]decimal.Decimal, ranked []*models.CompetitionEntry, total decimal.Decimal, currency models.Currency) {
	if len(prizes) == 0 {
		return
	}
	var places int32
	if currency == models.CurrencyUSDC {
		places = 6
	}
	var sum decimal.Decimal
	for id, p := range prizes {
		q := p.Truncate(places)
		prizes[id] = q
		sum = sum.Add(q)
	}
	// ranked[0] always holds a prize when any entry does: it has the top
	// score, and every distribution pays the top scorer first.
	if rem := total.Sub(sum).Truncate(places); rem.Sign() > 0 {
		prizes[ranked[0].ID] = prizes[ranked[0].ID].Add(rem)
	}
}
