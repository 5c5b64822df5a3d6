package models

import "time"

// Currency tags the settlement rail for a listing. Salt settles on the
// internal double-entry ledger; USDC settles on the on-chain escrow.
type Currency string

const (
	CurrencySalt Currency = "salt"
	CurrencyUSDC Currency = "usdc"
)

// ListingMode distinguishes one-shot trades from service engagements.
type ListingMode string

const (
	ModeTrade   ListingMode = "trade"
	ModeService ListingMode = "service"
)

// Listing statuses. Transitions are owned by the market state machine;
// nothing else mutates Listing.Status.
type ListingStatus string

const (
	ListingActive     ListingStatus = "active"
	ListingClarifying ListingStatus = "clarifying"
	ListingFrozen     ListingStatus = "frozen"
	ListingCompleted  ListingStatus = "completed"
	ListingCancelled  ListingStatus = "cancelled"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in_progress"
	OrderDelivered  OrderStatus = "delivered"
	OrderAccepted   OrderStatus = "accepted"
	OrderDisputed   OrderStatus = "disputed"
	OrderCancelled  OrderStatus = "cancelled"
)

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCountered OfferStatus = "countered"
)

// USDCStatus shadows the on-chain escrow status enum. The record is a mirror:
// it must reflect the chain as of the last observation, never lead it.
type USDCStatus string

const (
	USDCCreated      USDCStatus = "created"
	USDCClaimed      USDCStatus = "claimed"
	USDCSubmitted    USDCStatus = "submitted"
	USDCApproved     USDCStatus = "approved"
	USDCAutoReleased USDCStatus = "auto_released"
	USDCDisputed     USDCStatus = "disputed"
	USDCCancelled    USDCStatus = "cancelled"
)

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneSubmitted  MilestoneStatus = "submitted"
	MilestoneApproved   MilestoneStatus = "approved"
	MilestoneRejected   MilestoneStatus = "rejected"
)

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

type DepositStatus string

const (
	DepositActive    DepositStatus = "active"
	DepositFrozen    DepositStatus = "frozen"
	DepositConsumed  DepositStatus = "consumed"
	DepositConverted DepositStatus = "converted"
)

type ChangeOrderStatus string

const (
	ChangeOrderPending     ChangeOrderStatus = "pending"
	ChangeOrderApproved    ChangeOrderStatus = "approved"
	ChangeOrderRejected    ChangeOrderStatus = "rejected"
	ChangeOrderImplemented ChangeOrderStatus = "implemented"
)

type CompetitionStatus string

const (
	CompetitionActive     CompetitionStatus = "active"
	CompetitionEvaluating CompetitionStatus = "evaluating"
	CompetitionFinalized  CompetitionStatus = "finalized"
	CompetitionCancelled  CompetitionStatus = "cancelled"
)

type EntryStatus string

const (
	EntryPending      EntryStatus = "pending"
	EntryEvaluating   EntryStatus = "evaluating"
	EntryScored       EntryStatus = "scored"
	EntryWinner       EntryStatus = "winner"
	EntryDisqualified EntryStatus = "disqualified"
)

// EvaluationMethod selects how competition entries are scored.
type EvaluationMethod string

const (
	EvalHarness EvaluationMethod = "harness"
	EvalManual  EvaluationMethod = "manual"
	EvalVote    EvaluationMethod = "vote"
)

// PrizeDistribution selects how the pool is split on finalize.
type PrizeDistribution string

const (
	DistWinnerTakeAll PrizeDistribution = "winner_take_all"
	DistTop3          PrizeDistribution = "top_3"
	DistProportional  PrizeDistribution = "proportional"
)

// Agent is a principal: an API key, a Salt balance, and optionally an
// on-chain address with an encrypted signer key. The balance is mutated
// only through the Ledger.
type Agent struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	APIKey             string    `json:"-"`
	SaltBalance        int64     `json:"saltBalance"`
	WalletAddress      string    `json:"walletAddress,omitempty"`
	EncryptedSignerKey string    `json:"-"`
	Reputation         int       `json:"reputation"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Listing is a posted unit of work (a bounty). Price is a decimal string:
// integer Salt, or six-decimal USDC.
type Listing struct {
	ID             string        `json:"id"`
	PosterID       string        `json:"posterId"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Currency       Currency      `json:"currency"`
	Price          string        `json:"price"`
	Category       string        `json:"category"`
	Mode           ListingMode   `json:"mode"`
	Status         ListingStatus `json:"status"`
	DeliveryTime   string        `json:"deliveryTime,omitempty"`
	BountyGraph    *BountyGraph  `json:"bountyGraph,omitempty"`
	CompletedCount int           `json:"completedCount"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// ServiceOrder pairs a buyer with the seller of a service-mode listing.
// Price is snapshotted from the listing at order time.
type ServiceOrder struct {
	ID        string      `json:"id"`
	ListingID string      `json:"listingId"`
	BuyerID   string      `json:"buyerId"`
	SellerID  string      `json:"sellerId"`
	Price     string      `json:"price"`
	Status    OrderStatus `json:"status"`
	Request   string      `json:"request,omitempty"`
	Response  string      `json:"response,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// MarketOffer is an advisory offer against a listing. Accepting an offer on
// a Salt listing moves funds on the ledger.
type MarketOffer struct {
	ID        string      `json:"id"`
	ListingID string      `json:"listingId"`
	AgentID   string      `json:"agentId"`
	Text      string      `json:"text"`
	Price     string      `json:"price"`
	Status    OfferStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// USDCRecord mirrors one on-chain bounty. BountyHash is keccak256 of the
// listing id and keys the escrow contract's bounties mapping.
type USDCRecord struct {
	ID          string     `json:"id"`
	ListingID   string     `json:"listingId"`
	BountyHash  string     `json:"bountyHash"`
	PosterID    string     `json:"posterId"`
	WorkerID    string     `json:"workerId,omitempty"`
	Amount      string     `json:"amount"`
	WorkerStake string     `json:"workerStake"`
	Status      USDCStatus `json:"status"`
	TxHash      string     `json:"txHash,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Milestone is a weighted deliverable within a listing. BudgetPercentage is
// in (0,100]; per listing the percentages sum to 100 and OrderIndex values
// are a permutation of 0..n-1.
type Milestone struct {
	ID                 string          `json:"id"`
	ListingID          string          `json:"listingId"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	BudgetPercentage   float64         `json:"budgetPercentage"`
	AcceptanceCriteria string          `json:"acceptanceCriteria"`
	OrderIndex         int             `json:"orderIndex"`
	Status             MilestoneStatus `json:"status"`
	AssigneeID         string          `json:"assigneeId,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Artifact is one deliverable reference inside a submission or entry.
type Artifact struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// MilestoneSubmission is the work submitted against a milestone. At most one
// submission per milestone is in a non-terminal state.
type MilestoneSubmission struct {
	ID          string           `json:"id"`
	MilestoneID string           `json:"milestoneId"`
	AgentID     string           `json:"agentId"`
	Artifacts   []Artifact       `json:"artifacts"`
	Status      SubmissionStatus `json:"status"`
	Feedback    string           `json:"feedback,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// SpecDeposit is the poster's commitment stake during the clarify phase.
// Consumed never exceeds Amount; at most one active deposit per listing.
type SpecDeposit struct {
	ID          string        `json:"id"`
	ListingID   string        `json:"listingId"`
	DepositorID string        `json:"depositorId"`
	Amount      int64         `json:"amount"`
	Currency    Currency      `json:"currency"`
	Consumed    int64         `json:"consumed"`
	Status      DepositStatus `json:"status"`
	FrozenAt    *time.Time    `json:"frozenAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// ChangeOrder prices a post-freeze scope change over the bounty graph.
type ChangeOrder struct {
	ID            string            `json:"id"`
	ListingID     string            `json:"listingId"`
	RequesterID   string            `json:"requesterId"`
	Description   string            `json:"description"`
	AffectedNodes []string          `json:"affectedNodes"`
	DeltaCost     int64             `json:"deltaCost"`
	DeltaCurrency Currency          `json:"deltaCurrency"`
	Status        ChangeOrderStatus `json:"status"`
	EscrowID      string            `json:"escrowId,omitempty"`
	ApprovedAt    *time.Time        `json:"approvedAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Competition is a multi-entry contest over a listing's prize pool.
// Percentages apply to the top-3 distribution; MinScore gates the
// proportional distribution.
type Competition struct {
	ID                     string            `json:"id"`
	ListingID              string            `json:"listingId"`
	MaxSubmissionsPerAgent int               `json:"maxSubmissionsPerAgent"`
	Method                 EvaluationMethod  `json:"method"`
	Distribution           PrizeDistribution `json:"distribution"`
	Percentages            []float64         `json:"percentages,omitempty"`
	MinScore               float64           `json:"minScore,omitempty"`
	Deadline               *time.Time        `json:"deadline,omitempty"`
	Status                 CompetitionStatus `json:"status"`
	WinnerID               string            `json:"winnerId,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
}

// CompetitionEntry is one agent's submission into a competition.
type CompetitionEntry struct {
	ID            string      `json:"id"`
	CompetitionID string      `json:"competitionId"`
	AgentID       string      `json:"agentId"`
	Artifacts     []Artifact  `json:"artifacts"`
	Score         *float64    `json:"score,omitempty"`
	Rank          *int        `json:"rank,omitempty"`
	Status        EntryStatus `json:"status"`
	PrizeAmount   string      `json:"prizeAmount,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	SubmittedAt   time.Time   `json:"submittedAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// LedgerEntry is one row of the Salt journal. A nil FromAgentID means the
// system issued the amount; a nil ToAgentID means escrow or burn.
type LedgerEntry struct {
	ID          string    `json:"id"`
	FromAgentID *string   `json:"fromAgentId"`
	ToAgentID   *string   `json:"toAgentId"`
	Amount      int64     `json:"amount"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}
