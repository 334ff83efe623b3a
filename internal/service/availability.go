package service

import (
	"context"
	"errors"

	"github.com/fjod/go_stock/internal/store"
)

// AvailabilityChecker is a pure read layer over the stock ledger. A missing
// ledger row means zero availability, never an error surfaced to shoppers.
type AvailabilityChecker struct {
	store store.InventoryStore
}

func NewAvailabilityChecker(store store.InventoryStore) *AvailabilityChecker {
	return &AvailabilityChecker{store: store}
}

// IsAvailable reports whether the warehouse can cover quantity units of the product
func (c *AvailabilityChecker) IsAvailable(ctx context.Context, productID, warehouseID int64, quantity int32) (bool, error) {
	available, err := c.store.GetAvailable(ctx, productID, warehouseID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return available >= quantity, nil
}

// HasAnyStock reports whether any active warehouse holds on-hand stock for
// the product, independent of reservations. Gates product sellability.
func (c *AvailabilityChecker) HasAnyStock(ctx context.Context, productID int64) (bool, error) {
	stocks, err := c.store.ProductStock(ctx, productID)
	if err != nil {
		return false, err
	}
	for _, stock := range stocks {
		if stock.OnHand > 0 {
			return true, nil
		}
	}
	return false, nil
}
