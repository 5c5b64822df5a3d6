package escrow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saltdig/engine/pkg/models"
)

// On-chain bounty status enum, wire order fixed by the contract.
const (
	StatusOpen = iota
	StatusClaimed
	StatusSubmitted
	StatusApproved
	StatusDisputed
	StatusCancelled
	StatusAutoReleased
)

var statusLabels = [...]string{
	StatusOpen:         "Open",
	StatusClaimed:      "Claimed",
	StatusSubmitted:    "Submitted",
	StatusApproved:     "Approved",
	StatusDisputed:     "Disputed",
	StatusCancelled:    "Cancelled",
	StatusAutoReleased: "AutoReleased",
}

// StatusLabel returns the human-readable name for a wire status.
func StatusLabel(status uint8) string {
	if int(status) < len(statusLabels) {
		return statusLabels[status]
	}
	return "Unknown"
}

// RecordStatus maps a wire status to the shadow record status. Used by the
// reconciler for drift correction.
func RecordStatus(status uint8) models.USDCStatus {
	switch status {
	case StatusOpen:
		return models.USDCCreated
	case StatusClaimed:
		return models.USDCClaimed
	case StatusSubmitted:
		return models.USDCSubmitted
	case StatusApproved:
		return models.USDCApproved
	case StatusDisputed:
		return models.USDCDisputed
	case StatusCancelled:
		return models.USDCCancelled
	case StatusAutoReleased:
		return models.USDCAutoReleased
	}
	return models.USDCCreated
}

// OnChainBounty is the decoded bounties(hash) tuple with USDC amounts
// rescaled from six-decimal raw units.
type OnChainBounty struct {
	Poster      string          `json:"poster"`
	Worker      string          `json:"worker"`
	Amount      decimal.Decimal `json:"amount"`
	WorkerStake decimal.Decimal `json:"workerStake"`
	Deadline    int64           `json:"deadline"`
	SubmittedAt int64           `json:"submittedAt"`
	Status      uint8           `json:"status"`
	StatusLabel string          `json:"statusLabel"`
	BountyID    string          `json:"bountyId"`
}

// Gateway is the typed wrapper over the escrow contract. It owns no state;
// it translates between engine types and the ABI. Fund-moving writes
// (CreateBounty, ClaimBounty) raise the ERC-20 allowance first when needed,
// and every write waits for one confirmation before returning its tx hash.
// Failures surface as models.ErrEscrowRPC and are retryable.
type Gateway interface {
	ComputeBountyHash(listingID string) [32]byte
	GetBounty(ctx context.Context, hash [32]byte) (*OnChainBounty, error)
	CreateBounty(ctx context.Context, signerKey, listingID string, amount decimal.Decimal, deadline time.Time) (string, error)
	ClaimBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error)
	SubmitBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error)
	ApproveBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error)
	DisputeBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error)
	CancelBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error)
	AutoRelease(ctx context.Context, hash [32]byte) (string, error)
}
