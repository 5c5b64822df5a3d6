package milestone

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saltdig/engine/internal/events"
	"github.com/saltdig/engine/internal/payout"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// budgetTolerance is the allowed drift on the percentage sum.
const budgetTolerance = 0.01

// Controller orchestrates milestone plans: ordered, percentage-weighted
// partial releases against a single listing budget. Approvals on the Salt
// rail pay out through the ledger; USDC approvals mark the record and leave
// the chain movement to the final single release.
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
		c.bus.Emit("market:"+listingID, events.Event{Type: "milestone_transition", Payload: payload})
	}
}

type PlanItem struct {
	Title              string  `json:"title"`
	Description        string  `json:"description"`
	BudgetPercentage   float64 `json:"budgetPercentage"`
	AcceptanceCriteria string  `json:"acceptanceCriteria"`
}

// CreatePlan installs the milestone plan on a frozen listing. Poster-only,
// one plan per listing, percentages in (0,100] summing to 100 +-0.01.
// OrderIndex is the input position.
func (c *Controller) CreatePlan(ctx context.Context, listingID, agentID string, items []PlanItem) ([]*models.Milestone, error) {
	l, err := c.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster plans milestones: %w", models.ErrForbidden)
	}
	if l.Status != models.ListingFrozen {
		return nil, fmt.Errorf("listing %s is %s, plan requires frozen: %w", listingID, l.Status, models.ErrInvalidState)
	}
	if existing, err := c.store.MilestonesForListing(ctx, listingID); err == nil && len(existing) > 0 {
		return nil, fmt.Errorf("listing %s already has a plan: %w", listingID, models.ErrConflict)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty plan: %w", models.ErrInvalidArgument)
	}

	var sum float64
	for i, it := range items {
		if strings.TrimSpace(it.Title) == "" {
			return nil, fmt.Errorf("milestone %d: title required: %w", i, models.ErrInvalidArgument)
		}
		if it.BudgetPercentage <= 0 || it.BudgetPercentage > 100 {
			return nil, fmt.Errorf("milestone %d: percentage %.2f out of (0,100]: %w", i, it.BudgetPercentage, models.ErrInvalidArgument)
		}
		sum += it.BudgetPercentage
	}
	if math.Abs(sum-100) > budgetTolerance {
		return nil, fmt.Errorf("budget percentages sum to %.2f, need 100: %w", sum, models.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	ms := make([]*models.Milestone, len(items))
	for i, it := range items {
		ms[i] = &models.Milestone{
			ID:                 uuid.NewString(),
			ListingID:          listingID,
			Title:              it.Title,
			Description:        it.Description,
			BudgetPercentage:   it.BudgetPercentage,
			AcceptanceCriteria: it.AcceptanceCriteria,
			OrderIndex:         i,
			Status:             models.MilestonePending,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
	}
	if err := c.store.CreateMilestones(ctx, ms); err != nil {
		return nil, err
	}
	c.emit(listingID, map[string]interface{}{"listingId": listingID, "planSize": len(ms)})
	return ms, nil
}

// Start assigns the agent and opens the milestone. Gated on every
// lower-indexed milestone being approved.
func (c *Controller) Start(ctx context.Context, milestoneID, agentID string) (*models.Milestone, error) {
	m, err := c.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MilestonePending {
		return nil, fmt.Errorf("milestone %s is %s: %w", milestoneID, m.Status, models.ErrInvalidState)
	}

	siblings, err := c.store.MilestonesForListing(ctx, m.ListingID)
	if err != nil {
		return nil, err
	}
	for _, sib := range siblings {
		if sib.OrderIndex < m.OrderIndex && sib.Status != models.MilestoneApproved {
			return nil, fmt.Errorf("milestone %d (%s) not approved yet: %w", sib.OrderIndex, sib.Title, models.ErrInvalidState)
		}
	}

	status := models.MilestoneInProgress
	if err := c.store.UpdateMilestone(ctx, milestoneID, store.MilestoneUpdate{Status: &status, AssigneeID: &agentID}); err != nil {
		return nil, err
	}
	m.Status = status
	m.AssigneeID = agentID
	c.emit(m.ListingID, m)
	return m, nil
}

// Submit files the assignee's work. Every artifact needs type, url and
// description.
func (c *Controller) Submit(ctx context.Context, milestoneID, agentID string, artifacts []models.Artifact) (*models.MilestoneSubmission, error) {
	m, err := c.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if m.AssigneeID != agentID {
		return nil, fmt.Errorf("only the assignee submits: %w", models.ErrForbidden)
	}
	if m.Status != models.MilestoneInProgress {
		return nil, fmt.Errorf("milestone %s is %s: %w", milestoneID, m.Status, models.ErrInvalidState)
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("at least one artifact required: %w", models.ErrInvalidArgument)
	}
	for i, a := range artifacts {
		if a.Type == "" || a.URL == "" || a.Description == "" {
			return nil, fmt.Errorf("artifact %d incomplete: %w", i, models.ErrInvalidArgument)
		}
	}

	now := time.Now().UTC()
	sub := &models.MilestoneSubmission{
		ID:          uuid.NewString(),
		MilestoneID: milestoneID,
		AgentID:     agentID,
		Artifacts:   artifacts,
		Status:      models.SubmissionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = c.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateSubmission(ctx, sub); err != nil {
			return err
		}
		status := models.MilestoneSubmitted
		return tx.UpdateMilestone(ctx, milestoneID, store.MilestoneUpdate{Status: &status})
	})
	if err != nil {
		return nil, err
	}
	c.emit(m.ListingID, map[string]string{"milestoneId": milestoneID, "status": "submitted"})
	return sub, nil
}

// Approve releases this milestone's slice of the budget. Salt listings pay
// the assignee system-to-agent inside the transaction; approving the last
// milestone completes the listing.
func (c *Controller) Approve(ctx context.Context, milestoneID, agentID string) (*models.Milestone, error) {
	m, err := c.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	l, err := c.store.GetListing(ctx, m.ListingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster approves: %w", models.ErrForbidden)
	}
	if m.Status != models.MilestoneSubmitted {
		return nil, fmt.Errorf("milestone %s is %s: %w", milestoneID, m.Status, models.ErrInvalidState)
	}

	price, err := decimal.NewFromString(l.Price)
	if err != nil {
		return nil, fmt.Errorf("listing price %q: %w", l.Price, models.ErrInvalidArgument)
	}
	release := price.Mul(decimal.NewFromFloat(m.BudgetPercentage)).Div(decimal.NewFromInt(100))

	err = c.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		approved := models.MilestoneApproved
		if err := tx.UpdateMilestone(ctx, milestoneID, store.MilestoneUpdate{Status: &approved}); err != nil {
			return err
		}
		if sub, err := tx.LatestSubmission(ctx, milestoneID); err == nil {
			subApproved := models.SubmissionApproved
			if err := tx.UpdateSubmission(ctx, sub.ID, store.SubmissionUpdate{Status: &subApproved}); err != nil {
				return err
			}
		}
		if err := c.rails.Pay(ctx, tx, l.Currency, m.AssigneeID, release, "milestone_payment",
			fmt.Sprintf("milestone %q on listing %s", m.Title, l.ID)); err != nil {
			return err
		}
		if err := tx.UpdateAgent(ctx, m.AssigneeID, store.AgentUpdate{ReputationDelta: 1}); err != nil {
			return err
		}

		siblings, err := tx.MilestonesForListing(ctx, m.ListingID)
		if err != nil {
			return err
		}
		allDone := true
		for _, sib := range siblings {
			if sib.ID != milestoneID && sib.Status != models.MilestoneApproved {
				allDone = false
				break
			}
		}
		if allDone {
			completed := models.ListingCompleted
			return tx.UpdateListing(ctx, m.ListingID, store.ListingUpdate{Status: &completed})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.Status = models.MilestoneApproved
	c.emit(m.ListingID, map[string]string{"milestoneId": milestoneID, "status": "approved"})
	return m, nil
}

// Reject returns the milestone to the assignee with mandatory feedback.
func (c *Controller) Reject(ctx context.Context, milestoneID, agentID, feedback string) (*models.Milestone, error) {
	m, err := c.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	l, err := c.store.GetListing(ctx, m.ListingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != agentID {
		return nil, fmt.Errorf("only the poster rejects: %w", models.ErrForbidden)
	}
	if m.Status != models.MilestoneSubmitted {
		return nil, fmt.Errorf("milestone %s is %s: %w", milestoneID, m.Status, models.ErrInvalidState)
	}
	if strings.TrimSpace(feedback) == "" {
		return nil, fmt.Errorf("rejection feedback required: %w", models.ErrInvalidArgument)
	}

	err = c.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		// Back to in_progress, assignee retained.
		inProgress := models.MilestoneInProgress
		if err := tx.UpdateMilestone(ctx, milestoneID, store.MilestoneUpdate{Status: &inProgress}); err != nil {
			return err
		}
		sub, err := tx.LatestSubmission(ctx, milestoneID)
		if err != nil {
			return err
		}
		rejected := models.SubmissionRejected
		return tx.UpdateSubmission(ctx, sub.ID, store.SubmissionUpdate{Status: &rejected, Feedback: &feedback})
	})
	if err != nil {
		return nil, err
	}

	m.Status = models.MilestoneInProgress
	c.emit(m.ListingID, map[string]string{"milestoneId": milestoneID, "status": "rejected"})
	return m, nil
}

// Progress summarizes a listing's plan state.
type Progress struct {
	Total                    int                 `json:"total"`
	Completed                int                 `json:"completed"`
	BudgetReleasedPercentage float64             `json:"budgetReleasedPercentage"`
	CurrentMilestone         *models.Milestone   `json:"currentMilestone,omitempty"`
	Milestones               []*models.Milestone `json:"milestones"`
}

// Progress reports totals and the current milestone: the first in order
// that is in_progress, submitted or pending.
func (c *Controller) Progress(ctx context.Context, listingID string) (*Progress, error) {
	ms, err := c.store.MilestonesForListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, fmt.Errorf("no plan for listing %s: %w", listingID, models.ErrNotFound)
	}

	p := &Progress{Total: len(ms), Milestones: ms}
	for _, m := range ms {
		if m.Status == models.MilestoneApproved {
			p.Completed++
			p.BudgetReleasedPercentage += m.BudgetPercentage
		}
	}
	for _, m := range ms {
		if m.Status == models.MilestoneInProgress || m.Status == models.MilestoneSubmitted || m.Status == models.MilestonePending {
			p.CurrentMilestone = m
			break
		}
	}
	return p, nil
}
