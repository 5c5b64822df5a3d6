package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// Service order lifecycle (service-mode listings):
//
//	pending → in_progress           seller starts
//	pending|in_progress → delivered seller delivers (response required)
//	delivered → accepted            buyer accepts, Salt pays out
//	delivered|in_progress → disputed either party
//
// At most one non-terminal order exists per listing (store-enforced).

// CreateOrder opens an order against a service listing. On the Salt rail
// the buyer's funds move into system escrow immediately.
func (s *Service) CreateOrder(ctx context.Context, listingID, buyerID, request string) (*models.ServiceOrder, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.Mode != models.ModeService {
		return nil, fmt.Errorf("listing %s is not a service: %w", listingID, models.ErrInvalidState)
	}
	if l.Status != models.ListingActive {
		return nil, fmt.Errorf("listing %s is %s: %w", listingID, l.Status, models.ErrInvalidState)
	}
	if l.PosterID == buyerID {
		return nil, fmt.Errorf("cannot order own service: %w", models.ErrForbidden)
	}
	price, err := validatePrice(l.Currency, l.Price)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &models.ServiceOrder{
		ID:        uuid.NewString(),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  l.PosterID,
		Price:     l.Price,
		Status:    models.OrderPending,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}
		if l.Currency != models.CurrencySalt {
			return nil
		}
		buyer := buyerID
		_, err := s.ledger.TransferTx(ctx, tx, &buyer, nil, price.IntPart(), "order_escrow",
			fmt.Sprintf("escrow for order %s on listing %s", o.ID, listingID))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(listingID, "order_transition", map[string]string{"orderId": o.ID, "status": string(o.Status)})
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*models.ServiceOrder, error) {
	return s.store.GetOrder(ctx, id)
}

// StartOrder: seller moves pending → in_progress.
func (s *Service) StartOrder(ctx context.Context, orderID, agentID string) (*models.ServiceOrder, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != agentID {
		return nil, fmt.Errorf("only the seller starts the order: %w", models.ErrForbidden)
	}
	if o.Status != models.OrderPending {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, o.Status, models.ErrInvalidState)
	}
	status := models.OrderInProgress
	if err := s.store.UpdateOrder(ctx, orderID, store.OrderUpdate{Status: &status}); err != nil {
		return nil, err
	}
	o.Status = status
	s.emit(o.ListingID, "order_transition", map[string]string{"orderId": orderID, "status": string(status)})
	return o, nil
}

// DeliverOrder: seller moves pending|in_progress → delivered. A response
// artifact is mandatory.
func (s *Service) DeliverOrder(ctx context.Context, orderID, agentID, response string) (*models.ServiceOrder, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != agentID {
		return nil, fmt.Errorf("only the seller delivers: %w", models.ErrForbidden)
	}
	if o.Status != models.OrderPending && o.Status != models.OrderInProgress {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, o.Status, models.ErrInvalidState)
	}
	if strings.TrimSpace(response) == "" {
		return nil, fmt.Errorf("delivery response required: %w", models.ErrInvalidArgument)
	}
	status := models.OrderDelivered
	if err := s.store.UpdateOrder(ctx, orderID, store.OrderUpdate{Status: &status, Response: &response}); err != nil {
		return nil, err
	}
	o.Status = status
	o.Response = response
	s.emit(o.ListingID, "order_transition", map[string]string{"orderId": orderID, "status": string(status)})
	return o, nil
}

// AcceptOrder: buyer accepts the delivery. On the Salt rail the escrowed
// price pays out to the seller; the listing completes and its completed
// counter advances, all in one transaction.
func (s *Service) AcceptOrder(ctx context.Context, orderID, agentID string) (*models.ServiceOrder, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != agentID {
		return nil, fmt.Errorf("only the buyer accepts: %w", models.ErrForbidden)
	}
	if o.Status != models.OrderDelivered {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, o.Status, models.ErrInvalidState)
	}
	l, err := s.store.GetListing(ctx, o.ListingID)
	if err != nil {
		return nil, err
	}
	price, err := validatePrice(l.Currency, o.Price)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		status := models.OrderAccepted
		if err := tx.UpdateOrder(ctx, orderID, store.OrderUpdate{Status: &status}); err != nil {
			return err
		}
		if l.Currency == models.CurrencySalt {
			seller := o.SellerID
			if _, err := s.ledger.TransferTx(ctx, tx, nil, &seller, price.IntPart(), "order_payment",
				fmt.Sprintf("payout for order %s", orderID)); err != nil {
				return err
			}
		}
		completed := models.ListingCompleted
		if err := tx.UpdateListing(ctx, l.ID, store.ListingUpdate{Status: &completed, CompletedCountDelta: 1}); err != nil {
			return err
		}
		return tx.UpdateAgent(ctx, o.SellerID, store.AgentUpdate{ReputationDelta: 1})
	})
	if err != nil {
		return nil, err
	}

	o.Status = models.OrderAccepted
	s.emit(o.ListingID, "order_transition", map[string]string{"orderId": orderID, "status": "accepted"})
	return o, nil
}

// DisputeOrder: either party moves delivered|in_progress → disputed. The
// outcome is decided by an operator, not by the engine.
func (s *Service) DisputeOrder(ctx context.Context, orderID, agentID string) (*models.ServiceOrder, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != agentID && o.SellerID != agentID {
		return nil, fmt.Errorf("only a participant disputes: %w", models.ErrForbidden)
	}
	if o.Status != models.OrderDelivered && o.Status != models.OrderInProgress {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, o.Status, models.ErrInvalidState)
	}
	status := models.OrderDisputed
	if err := s.store.UpdateOrder(ctx, orderID, store.OrderUpdate{Status: &status}); err != nil {
		return nil, err
	}
	o.Status = status
	s.emit(o.ListingID, "order_transition", map[string]string{"orderId": orderID, "status": string(status)})
	return o, nil
}
