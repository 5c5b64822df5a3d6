package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

func newTestLedger(t *testing.T, balances map[string]int64) (*Ledger, store.Store) {
	t.Helper()
	s := store.NewMemStore()
	for id, bal := range balances {
		if err := s.CreateAgent(context.Background(), &models.Agent{
			ID:          id,
			Name:        id,
			APIKey:      "key-" + id,
			SaltBalance: bal,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			t.Fatalf("seed agent %s: %v", id, err)
		}
	}
	return New(s), s
}

func ptr(s string) *string { return &s }

func TestTransfer_MovesBalanceAndJournals(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int64{"alice": 500, "bob": 100})
	ctx := context.Background()

	entry, err := l.Transfer(ctx, ptr("alice"), ptr("bob"), 200, "market_sale", "trade")
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if entry.Amount != 200 || entry.Kind != "market_sale" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if bal, _ := l.Balance(ctx, "alice"); bal != 300 {
		t.Fatalf("alice balance = %d, want 300", bal)
	}
	if bal, _ := l.Balance(ctx, "bob"); bal != 300 {
		t.Fatalf("bob balance = %d, want 300", bal)
	}

	hist, err := l.History(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].ID != entry.ID {
		t.Fatalf("expected 1 journal row for alice, got %d", len(hist))
	}
}

func TestTransfer_RejectsBadAmounts(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int64{"alice": 500, "bob": 0})
	ctx := context.Background()

	cases := []struct {
		name   string
		amount int64
	}{
		{"zero", 0},
		{"negative", -5},
		{"over max", MaxTransfer + 1},
	}
	for _, tc := range cases {
		if _, err := l.Transfer(ctx, ptr("alice"), ptr("bob"), tc.amount, "x", ""); !errors.Is(err, models.ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", tc.name, err)
		}
	}
}

func TestTransfer_RejectsSelfTransfer(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int64{"alice": 500})
	if _, err := l.Transfer(context.Background(), ptr("alice"), ptr("alice"), 10, "x", ""); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for self transfer, got %v", err)
	}
}

func TestTransfer_NoNegativeBalances(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int64{"alice": 50, "bob": 0})
	ctx := context.Background()

	_, err := l.Transfer(ctx, ptr("alice"), ptr("bob"), 100, "x", "")
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Failed transfer must leave both sides untouched.
	if bal, _ := l.Balance(ctx, "alice"); bal != 50 {
		t.Fatalf("alice balance mutated on failed transfer: %d", bal)
	}
	if bal, _ := l.Balance(ctx, "bob"); bal != 0 {
		t.Fatalf("bob balance mutated on failed transfer: %d", bal)
	}
}

func TestTransfer_IssuanceAndBurn(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int64{"alice": 0})
	ctx := context.Background()

	if _, err := l.Transfer(ctx, nil, ptr("alice"), 1000, "milestone_payment", "issue"); err != nil {
		t.Fatalf("issuance failed: %v", err)
	}
	if bal, _ := l.Balance(ctx, "alice"); bal != 1000 {
		t.Fatalf("alice balance = %d after issuance, want 1000", bal)
	}

	if _, err := l.Transfer(ctx, ptr("alice"), nil, 400, "order_escrow", "lock"); err != nil {
		t.Fatalf("burn failed: %v", err)
	}
	if bal, _ := l.Balance(ctx, "alice"); bal != 600 {
		t.Fatalf("alice balance = %d after burn, want 600", bal)
	}

	if _, err := l.Transfer(ctx, nil, nil, 5, "x", ""); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for nil/nil transfer, got %v", err)
	}
}

// Conservation: any sequence of two-sided transfers leaves the total supply
// unchanged.
func TestTransfer_Conservation(t *testing.T) {
	l, s := newTestLedger(t, map[string]int64{"a": 1000, "b": 1000, "c": 1000})
	ctx := context.Background()

	total := func() int64 {
		agents, err := s.RichList(ctx, 0)
		if err != nil {
			t.Fatalf("rich list: %v", err)
		}
		var sum int64
		for _, a := range agents {
			sum += a.SaltBalance
		}
		return sum
	}

	before := total()
	moves := []struct {
		from, to string
		amount   int64
	}{
		{"a", "b", 300}, {"b", "c", 500}, {"c", "a", 50},
		{"a", "c", 700}, {"c", "b", 1}, {"b", "a", 777},
	}
	for _, mv := range moves {
		if _, err := l.Transfer(ctx, ptr(mv.from), ptr(mv.to), mv.amount, "shuffle", ""); err != nil {
			t.Fatalf("transfer %s->%s %d: %v", mv.from, mv.to, mv.amount, err)
		}
	}
	if after := total(); after != before {
		t.Fatalf("supply changed: before=%d after=%d", before, after)
	}
}

func TestRichList_OrderedByBalance(t *testing.T) {
	l, _ := newTestLedger(t, map[string]int64{"low": 10, "high": 9000, "mid": 500})
	out, err := l.RichList(context.Background(), 3)
	if err != nil {
		t.Fatalf("rich list: %v", err)
	}
	if len(out) != 3 || out[0].ID != "high" || out[1].ID != "mid" || out[2].ID != "low" {
		ids := make([]string, len(out))
		for i, a := range out {
			ids[i] = a.ID
		}
		t.Fatalf("unexpected order: %v", ids)
	}
}
