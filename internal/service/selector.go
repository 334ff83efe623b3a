package service

import (
	"context"

	"github.com/fjod/go_stock/internal/domain"
	"github.com/fjod/go_stock/internal/store"
)

const (
	coverageWeight = 0.7
	stockBonus     = 30.0
)

// WarehouseSelector picks the single warehouse that can fulfill a whole cart.
// Partial fulfillment across warehouses is not supported: an order ships from
// exactly one warehouse, so a warehouse missing stock for even one line is
// disqualified no matter how much it holds of the others. Selection is purely
// stock-driven; proximity belongs to a shipping-rate collaborator.
type WarehouseSelector struct {
	store store.InventoryStore
}

func NewWarehouseSelector(store store.InventoryStore) *WarehouseSelector {
	return &WarehouseSelector{store: store}
}

// Select scores every active warehouse against the cart and returns the best
// qualified one. When none qualifies it returns *NoQualifyingWarehouseError
// carrying the highest partial coverage found. Availability is fetched with
// one batched read per warehouse, bounding query cost to O(warehouses).
func (s *WarehouseSelector) Select(ctx context.Context, lines []domain.CartLine) (*domain.WarehouseScore, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	warehouses, err := s.store.ActiveWarehouses(ctx)
	if err != nil {
		return nil, err
	}

	productIDs := make([]int64, len(lines))
	for i, line := range lines {
		productIDs[i] = line.ProductID
	}

	var chosen *domain.WarehouseScore
	var bestPartial *domain.WarehouseScore

	// Warehouses come back in creation order; strict-greater comparisons
	// below make the earliest warehouse win all remaining ties.
	for _, warehouse := range warehouses {
		availability, err := s.store.WarehouseAvailability(ctx, warehouse.ID, productIDs)
		if err != nil {
			return nil, err
		}

		score := scoreWarehouse(warehouse.ID, lines, availability)

		if score.Qualified {
			if chosen == nil || score.Score > chosen.Score ||
				(score.Score == chosen.Score && score.TotalStock > chosen.TotalStock) {
				cp := score
				chosen = &cp
			}
		}
		if bestPartial == nil || score.LinesCovered > bestPartial.LinesCovered ||
			(score.LinesCovered == bestPartial.LinesCovered && score.TotalStock > bestPartial.TotalStock) {
			cp := score
			bestPartial = &cp
		}
	}

	if chosen == nil {
		return nil, &NoQualifyingWarehouseError{BestPartial: bestPartial}
	}
	return chosen, nil
}

func scoreWarehouse(warehouseID int64, lines []domain.CartLine, availability map[int64]int32) domain.WarehouseScore {
	score := domain.WarehouseScore{
		WarehouseID: warehouseID,
		TotalLines:  len(lines),
	}
	for _, line := range lines {
		available := availability[line.ProductID]
		if available > 0 {
			score.TotalStock += int64(available)
		}
		if available >= line.Quantity {
			score.LinesCovered++
		}
	}
	score.Qualified = score.LinesCovered == score.TotalLines

	if score.Qualified {
		bonus := 0.0
		if score.TotalStock > 0 {
			bonus = stockBonus
		}
		score.Score = score.CoveragePercent()*coverageWeight + bonus
	}
	return score
}
