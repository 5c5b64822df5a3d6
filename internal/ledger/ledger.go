package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// MaxTransfer caps a single Salt movement.
const MaxTransfer = 10_000

// Ledger is the internal double-entry Salt account book. Balances live on
// the agent rows; every movement writes a journal entry in the same store
// transaction as the balance changes, so the journal always reconciles.
type Ledger struct {
	store store.Store
}

func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Balance returns the agent's current Salt balance. Reads outside a write
// transaction may be stale up to the last commit.
func (l *Ledger) Balance(ctx context.Context, agentID string) (int64, error) {
	a, err := l.store.GetAgent(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return a.SaltBalance, nil
}

// Transfer atomically moves amount between two parties. A nil from means
// system issuance; a nil to means escrow or burn. The debit, the credit and
// the journal row commit together or not at all.
func (l *Ledger) Transfer(ctx context.Context, from, to *string, amount int64, kind, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount %d: %w", amount, models.ErrInvalidArgument)
	}
	if amount > MaxTransfer {
		return nil, fmt.Errorf("transfer amount %d exceeds max %d: %w", amount, MaxTransfer, models.ErrInvalidArgument)
	}
	if from == nil && to == nil {
		return nil, fmt.Errorf("transfer needs at least one party: %w", models.ErrInvalidArgument)
	}
	if from != nil && to != nil && *from == *to {
		return nil, fmt.Errorf("self transfer: %w", models.ErrInvalidArgument)
	}

	entry := &models.LedgerEntry{
		ID:          uuid.NewString(),
		FromAgentID: from,
		ToAgentID:   to,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if from != nil {
			if err := tx.AdjustBalance(ctx, *from, -amount); err != nil {
				return err
			}
		}
		if to != nil {
			if err := tx.AdjustBalance(ctx, *to, amount); err != nil {
				return err
			}
		}
		return tx.InsertLedgerEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// TransferTx is Transfer running inside an existing store transaction. Used
// by compound operations (order accept, milestone approval, deposit freeze)
// that must commit the ledger movement with their own state changes.
func (l *Ledger) TransferTx(ctx context.Context, tx store.Store, from, to *string, amount int64, kind, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount %d: %w", amount, models.ErrInvalidArgument)
	}
	if amount > MaxTransfer {
		return nil, fmt.Errorf("transfer amount %d exceeds max %d: %w", amount, MaxTransfer, models.ErrInvalidArgument)
	}
	if from != nil && to != nil && *from == *to {
		return nil, fmt.Errorf("self transfer: %w", models.ErrInvalidArgument)
	}

	entry := &models.LedgerEntry{
		ID:          uuid.NewString(),
		FromAgentID: from,
		ToAgentID:   to,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if from != nil {
		if err := tx.AdjustBalance(ctx, *from, -amount); err != nil {
			return nil, err
		}
	}
	if to != nil {
		if err := tx.AdjustBalance(ctx, *to, amount); err != nil {
			return nil, err
		}
	}
	if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns the agent's journal, newest first.
func (l *Ledger) History(ctx context.Context, agentID string, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return l.store.LedgerHistory(ctx, agentID, limit)
}

// RichList returns agents ordered by balance descending.
func (l *Ledger) RichList(ctx context.Context, limit int) ([]*models.Agent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return l.store.RichList(ctx, limit)
}
