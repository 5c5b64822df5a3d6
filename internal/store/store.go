package store

import (
	"context"
	"time"

	"github.com/saltdig/engine/pkg/models"
)

// Store is the persistence boundary for every engine component. Business
// code never issues SQL; it speaks this interface, and concrete stores
// (Postgres, in-memory) translate. Mutators take typed update commands with
// a closed set of fields instead of opaque attribute bags.
//
// WithTx runs fn against a transactional view of the store. Every compound
// operation (debit+credit+journal, milestone approval, deposit freeze) runs
// inside one WithTx scope so that no exit path leaves partial state.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Agents
	CreateAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByAPIKey(ctx context.Context, key string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, id string, upd AgentUpdate) error
	// AdjustBalance atomically applies delta to the agent's Salt balance and
	// fails with ErrInsufficientFunds if the result would be negative.
	AdjustBalance(ctx context.Context, id string, delta int64) error
	RichList(ctx context.Context, limit int) ([]*models.Agent, error)

	// Ledger journal
	InsertLedgerEntry(ctx context.Context, e *models.LedgerEntry) error
	LedgerHistory(ctx context.Context, agentID string, limit int) ([]*models.LedgerEntry, error)

	// Listings
	CreateListing(ctx context.Context, l *models.Listing) error
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	ListListings(ctx context.Context, status models.ListingStatus, limit int) ([]*models.Listing, error)
	UpdateListing(ctx context.Context, id string, upd ListingUpdate) error

	// Service orders
	CreateOrder(ctx context.Context, o *models.ServiceOrder) error
	GetOrder(ctx context.Context, id string) (*models.ServiceOrder, error)
	ActiveOrderForListing(ctx context.Context, listingID string) (*models.ServiceOrder, error)
	UpdateOrder(ctx context.Context, id string, upd OrderUpdate) error

	// Market offers
	CreateOffer(ctx context.Context, o *models.MarketOffer) error
	GetOffer(ctx context.Context, id string) (*models.MarketOffer, error)
	OffersForListing(ctx context.Context, listingID string) ([]*models.MarketOffer, error)
	UpdateOffer(ctx context.Context, id string, upd OfferUpdate) error

	// USDC transaction records
	CreateUSDCRecord(ctx context.Context, r *models.USDCRecord) error
	GetUSDCRecord(ctx context.Context, id string) (*models.USDCRecord, error)
	USDCRecordForListing(ctx context.Context, listingID string) (*models.USDCRecord, error)
	USDCRecordsByStatus(ctx context.Context, status models.USDCStatus) ([]*models.USDCRecord, error)
	UpdateUSDCRecord(ctx context.Context, id string, upd USDCRecordUpdate) error

	// Milestones
	CreateMilestones(ctx context.Context, ms []*models.Milestone) error
	GetMilestone(ctx context.Context, id string) (*models.Milestone, error)
	MilestonesForListing(ctx context.Context, listingID string) ([]*models.Milestone, error)
	UpdateMilestone(ctx context.Context, id string, upd MilestoneUpdate) error
	CreateSubmission(ctx context.Context, s *models.MilestoneSubmission) error
	LatestSubmission(ctx context.Context, milestoneID string) (*models.MilestoneSubmission, error)
	UpdateSubmission(ctx context.Context, id string, upd SubmissionUpdate) error

	// Spec deposits
	CreateSpecDeposit(ctx context.Context, d *models.SpecDeposit) error
	GetSpecDeposit(ctx context.Context, id string) (*models.SpecDeposit, error)
	ActiveDepositForListing(ctx context.Context, listingID string) (*models.SpecDeposit, error)
	UpdateSpecDeposit(ctx context.Context, id string, upd DepositUpdate) error

	// Change orders
	CreateChangeOrder(ctx context.Context, c *models.ChangeOrder) error
	GetChangeOrder(ctx context.Context, id string) (*models.ChangeOrder, error)
	ChangeOrdersForListing(ctx context.Context, listingID string) ([]*models.ChangeOrder, error)
	UpdateChangeOrder(ctx context.Context, id string, upd ChangeOrderUpdate) error

	// Competitions
	CreateCompetition(ctx context.Context, c *models.Competition) error
	GetCompetition(ctx context.Context, id string) (*models.Competition, error)
	CompetitionForListing(ctx context.Context, listingID string) (*models.Competition, error)
	UpdateCompetition(ctx context.Context, id string, upd CompetitionUpdate) error
	CreateEntry(ctx context.Context, e *models.CompetitionEntry) error
	GetEntry(ctx context.Context, id string) (*models.CompetitionEntry, error)
	EntriesForCompetition(ctx context.Context, competitionID string) ([]*models.CompetitionEntry, error)
	CountEntries(ctx context.Context, competitionID, agentID string) (int, error)
	UpdateEntry(ctx context.Context, id string, upd EntryUpdate) error
}

// AgentUpdate mutates an agent. Nil fields are left untouched.
type AgentUpdate struct {
	Name               *string
	WalletAddress      *string
	EncryptedSignerKey *string
	ReputationDelta    int
}

type ListingUpdate struct {
	Status              *models.ListingStatus
	BountyGraph         *models.BountyGraph
	CompletedCountDelta int
}

type OrderUpdate struct {
	Status   *models.OrderStatus
	Response *string
}

type OfferUpdate struct {
	Status *models.OfferStatus
}

type USDCRecordUpdate struct {
	Status      *models.USDCStatus
	WorkerID    *string
	TxHash      *string
	SubmittedAt *time.Time
	CompletedAt *time.Time
}

type MilestoneUpdate struct {
	Status     *models.MilestoneStatus
	AssigneeID *string
}

type SubmissionUpdate struct {
	Status   *models.SubmissionStatus
	Feedback *string
}

type DepositUpdate struct {
	Status   *models.DepositStatus
	Consumed *int64
	FrozenAt *time.Time
}

type ChangeOrderUpdate struct {
	Status     *models.ChangeOrderStatus
	EscrowID   *string
	ApprovedAt *time.Time
}

type CompetitionUpdate struct {
	Status   *models.CompetitionStatus
	WinnerID *string
}

type EntryUpdate struct {
	Status      *models.EntryStatus
	Score       *float64
	Rank        *int
	PrizeAmount *string
	Reason      *string
}
