package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saltdig/engine/internal/escrow"
	"github.com/saltdig/engine/internal/events"
	"github.com/saltdig/engine/internal/ledger"
	"github.com/saltdig/engine/internal/keyvault"
	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// Service is the bounty state machine: it owns every status transition on
// listings, offers, service orders and USDC shadow records. Handlers call
// it; it coordinates the ledger for Salt and the escrow gateway for USDC,
// and emits market events on the bus as it mutates.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	gw     escrow.Gateway
	bus    *events.Bus
	vault  *keyvault.Vault
}

func NewService(s store.Store, l *ledger.Ledger, gw escrow.Gateway, bus *events.Bus, vault *keyvault.Vault) *Service {
	return &Service{store: s, ledger: l, gw: gw, bus: bus, vault: vault}
}

// Topic returns the bus topic for a listing.
func Topic(listingID string) string {
	return "market:" + listingID
}

func (s *Service) emit(listingID, eventType string, payload interface{}) {
	if s.bus != nil {
		s.bus.Emit(Topic(listingID), events.Event{Type: eventType, Payload: payload})
	}
}

// validatePrice enforces the wire format: integer Salt, at most six decimal
// places of USDC, strictly positive either way.
func validatePrice(currency models.Currency, price string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %q: %w", price, models.ErrInvalidArgument)
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price must be positive: %w", models.ErrInvalidArgument)
	}
	switch currency {
	case models.CurrencySalt:
		if !d.IsInteger() {
			return decimal.Zero, fmt.Errorf("salt price must be an integer: %w", models.ErrInvalidArgument)
		}
	case models.CurrencyUSDC:
		if d.Exponent() < -6 {
			return decimal.Zero, fmt.Errorf("usdc price beyond six decimals: %w", models.ErrInvalidArgument)
		}
	default:
		return decimal.Zero, fmt.Errorf("currency %q: %w", currency, models.ErrInvalidArgument)
	}
	return d, nil
}

type CreateListingInput struct {
	Title        string
	Description  string
	Currency     models.Currency
	Price        string
	Category     string
	Mode         models.ListingMode
	DeliveryTime string
}

func (s *Service) CreateListing(ctx context.Context, posterID string, in CreateListingInput) (*models.Listing, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("title required: %w", models.ErrInvalidArgument)
	}
	if in.Mode != models.ModeTrade && in.Mode != models.ModeService {
		return nil, fmt.Errorf("mode %q: %w", in.Mode, models.ErrInvalidArgument)
	}
	if _, err := validatePrice(in.Currency, in.Price); err != nil {
		return nil, err
	}
	if _, err := s.store.GetAgent(ctx, posterID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	l := &models.Listing{
		ID:           uuid.NewString(),
		PosterID:     posterID,
		Title:        in.Title,
		Description:  in.Description,
		Currency:     in.Currency,
		Price:        in.Price,
		Category:     in.Category,
		Mode:         in.Mode,
		Status:       models.ListingActive,
		DeliveryTime: in.DeliveryTime,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateListing(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	return s.store.GetListing(ctx, id)
}

func (s *Service) ListListings(ctx context.Context, status models.ListingStatus, limit int) ([]*models.Listing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListListings(ctx, status, limit)
}

// UpdateBountyGraph replaces the listing's task DAG. Poster-only, and only
// before the spec is frozen.
func (s *Service) UpdateBountyGraph(ctx context.Context, listingID, agentID string, graph *models.BountyGraph) error {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if l.PosterID != agentID {
		return fmt.Errorf("only the poster updates the bounty graph: %w", models.ErrForbidden)
	}
	if l.Status != models.ListingActive && l.Status != models.ListingClarifying {
		return fmt.Errorf("listing %s is %s: %w", listingID, l.Status, models.ErrInvalidState)
	}
	return s.store.UpdateListing(ctx, listingID, store.ListingUpdate{BountyGraph: graph})
}

// CancelListing cancels a listing when no worker is committed: no active
// order, no claimed-or-beyond escrow.
func (s *Service) CancelListing(ctx context.Context, listingID, agentID string) error {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if l.PosterID != agentID {
		return fmt.Errorf("only the poster cancels: %w", models.ErrForbidden)
	}
	if l.Status == models.ListingCompleted || l.Status == models.ListingCancelled {
		return fmt.Errorf("listing %s is %s: %w", listingID, l.Status, models.ErrInvalidState)
	}
	if _, err := s.store.ActiveOrderForListing(ctx, listingID); err == nil {
		return fmt.Errorf("listing has an active order: %w", models.ErrInvalidState)
	}
	if rec, err := s.store.USDCRecordForListing(ctx, listingID); err == nil {
		if rec.Status != models.USDCCancelled {
			return fmt.Errorf("listing has a live escrow (%s): %w", rec.Status, models.ErrInvalidState)
		}
	}
	// An assigned, unapproved milestone means a worker is committed (and may
	// already hold a partial release).
	if ms, err := s.store.MilestonesForListing(ctx, listingID); err == nil {
		for _, m := range ms {
			if m.AssigneeID != "" && m.Status != models.MilestoneApproved {
				return fmt.Errorf("milestone %q is %s with an assignee: %w", m.Title, m.Status, models.ErrInvalidState)
			}
		}
	}

	status := models.ListingCancelled
	if err := s.store.UpdateListing(ctx, listingID, store.ListingUpdate{Status: &status}); err != nil {
		return err
	}
	s.emit(listingID, "order_transition", map[string]string{"listingId": listingID, "status": "cancelled"})
	return nil
}

// ── Market offers ───────────────────────────────────────────────────

func (s *Service) CreateOffer(ctx context.Context, listingID, agentID, text, price string) (*models.MarketOffer, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.Status != models.ListingActive {
		return nil, fmt.Errorf("listing %s is %s: %w", listingID, l.Status, models.ErrInvalidState)
	}
	if l.PosterID == agentID {
		return nil, fmt.Errorf("poster cannot offer on own listing: %w", models.ErrForbidden)
	}
	if _, err := validatePrice(l.Currency, price); err != nil {
		return nil, err
	}

	o := &models.MarketOffer{
		ID:        uuid.NewString(),
		ListingID: listingID,
		AgentID:   agentID,
		Text:      text,
		Price:     price,
		Status:    models.OfferPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateOffer(ctx, o); err != nil {
		return nil, err
	}
	s.emit(listingID, "offer", o)
	return o, nil
}

func (s *Service) OffersForListing(ctx context.Context, listingID string) ([]*models.MarketOffer, error) {
	if _, err := s.store.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.store.OffersForListing(ctx, listingID)
}

// RespondOffer applies the poster's decision. Offers are advisory except
// acceptance on a Salt listing, which settles the sale on the ledger and
// completes the listing in the same transaction.
func (s *Service) RespondOffer(ctx context.Context, offerID, posterID, action string) (*models.MarketOffer, error) {
	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	l, err := s.store.GetListing(ctx, o.ListingID)
	if err != nil {
		return nil, err
	}
	if l.PosterID != posterID {
		return nil, fmt.Errorf("only the poster responds to offers: %w", models.ErrForbidden)
	}
	if o.Status != models.OfferPending {
		return nil, fmt.Errorf("offer %s is %s: %w", offerID, o.Status, models.ErrInvalidState)
	}

	var status models.OfferStatus
	switch action {
	case "accept":
		status = models.OfferAccepted
	case "reject":
		status = models.OfferRejected
	case "counter":
		status = models.OfferCountered
	default:
		return nil, fmt.Errorf("action %q: %w", action, models.ErrInvalidArgument)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.UpdateOffer(ctx, offerID, store.OfferUpdate{Status: &status}); err != nil {
			return err
		}
		if status != models.OfferAccepted || l.Currency != models.CurrencySalt {
			return nil
		}
		price, err := validatePrice(l.Currency, o.Price)
		if err != nil {
			return err
		}
		buyer := o.AgentID
		seller := l.PosterID
		if _, err := s.ledger.TransferTx(ctx, tx, &buyer, &seller, price.IntPart(), "market_sale",
			fmt.Sprintf("offer %s accepted on listing %s", offerID, l.ID)); err != nil {
			return err
		}
		completed := models.ListingCompleted
		return tx.UpdateListing(ctx, l.ID, store.ListingUpdate{Status: &completed})
	})
	if err != nil {
		return nil, err
	}

	o.Status = status
	s.emit(l.ID, "offer_response", map[string]interface{}{"offerId": offerID, "status": status})
	return o, nil
}
