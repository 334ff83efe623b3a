package service

import (
	"context"
	"errors"
	"log"

	"github.com/fjod/go_stock/internal/domain"
	"github.com/fjod/go_stock/internal/store"
)

// checkoutAttempts bounds how often a checkout retries after losing a
// reservation race. Each retry re-runs warehouse selection because the
// previously chosen warehouse may no longer qualify.
const checkoutAttempts = 3

// CheckoutService is the order orchestrator's view of the engine: pick a
// warehouse for the whole cart, hold the stock, then settle the hold when
// payment resolves.
type CheckoutService struct {
	selector     *WarehouseSelector
	reservations *ReservationManager
}

func NewCheckoutService(selector *WarehouseSelector, reservations *ReservationManager) *CheckoutService {
	return &CheckoutService{selector: selector, reservations: reservations}
}

// Checkout runs warehouse selection and reserves the cart for the order.
// A reservation race (stock vanished between selection and reserve) is
// retried with a fresh selection; anything else propagates as-is.
func (s *CheckoutService) Checkout(ctx context.Context, orderID string, cart []domain.CartLine) (*domain.Reservation, error) {
	var lastErr error
	for attempt := 1; attempt <= checkoutAttempts; attempt++ {
		chosen, err := s.selector.Select(ctx, cart)
		if err != nil {
			return nil, err
		}

		reservation, err := s.reservations.ReserveForOrder(ctx, orderID, chosen.WarehouseID, cart)
		if err == nil {
			return reservation, nil
		}
		if !errors.Is(err, store.ErrInsufficientStock) {
			return nil, err
		}

		log.Printf("checkout %s lost reservation race at warehouse %d (attempt %d): %v",
			orderID, chosen.WarehouseID, attempt, err)
		lastErr = err
	}
	return nil, lastErr
}

// CompletePayment commits the order's reservation after successful payment
func (s *CheckoutService) CompletePayment(ctx context.Context, orderID string) error {
	return s.reservations.Commit(ctx, orderID)
}

// Cancel releases the order's reservation on cancellation or payment failure
func (s *CheckoutService) Cancel(ctx context.Context, orderID string) error {
	return s.reservations.Release(ctx, orderID)
}
