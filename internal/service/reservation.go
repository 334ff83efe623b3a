package service

import (
	"context"
	"sort"
	"time"

	"github.com/fjod/go_stock/internal/domain"
	"github.com/fjod/go_stock/internal/store"
)

// DefaultReservationTTL is how long a pending reservation survives before
// the sweep releases it.
const DefaultReservationTTL = 5 * time.Minute

// ReservationManager owns the reservation lifecycle
// (PENDING -> COMMITTED | RELEASED). It is the only component allowed to
// mutate reserved quantities on the ledger.
type ReservationManager struct {
	products ProductReader
	store    store.InventoryStore
	ttl      time.Duration
}

func NewReservationManager(products ProductReader, inventoryStore store.InventoryStore, ttl time.Duration) *ReservationManager {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &ReservationManager{products: products, store: inventoryStore, ttl: ttl}
}

// ReserveForOrder atomically holds stock for every cart line at the given
// warehouse. All-or-nothing: a single line failing availability rolls the
// whole attempt back with an insufficient-stock error naming that product.
// Duplicate product lines are merged and the result is processed in
// productID order, which is the lock order both stores rely on.
func (m *ReservationManager) ReserveForOrder(ctx context.Context, orderID string, warehouseID int64, lines []domain.CartLine) (*domain.Reservation, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	merged := make(map[int64]int32, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		merged[line.ProductID] += line.Quantity
	}

	reservationLines := make([]domain.ReservationLine, 0, len(merged))
	for productID, quantity := range merged {
		reservationLines = append(reservationLines, domain.ReservationLine{
			ProductID: productID,
			Quantity:  quantity,
		})
	}
	sort.Slice(reservationLines, func(i, j int) bool {
		return reservationLines[i].ProductID < reservationLines[j].ProductID
	})

	// Unsellable products never reach the ledger
	for _, line := range reservationLines {
		product, err := m.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.Active {
			return nil, ErrProductInactive
		}
		if !product.AllowsSale {
			return nil, ErrSaleNotAllowed
		}
	}

	return m.store.Reserve(ctx, orderID, warehouseID, reservationLines, m.ttl)
}

// Commit marks the order's reservation paid. Idempotent; committing after
// the sweep expired the hold fails with store.ErrReservationExpired and the
// caller must restart checkout.
func (m *ReservationManager) Commit(ctx context.Context, orderID string) error {
	return m.store.CommitOrder(ctx, orderID)
}

// Release returns the order's held stock on cancellation, checkout timeout
// or payment failure. Idempotent.
func (m *ReservationManager) Release(ctx context.Context, orderID string) error {
	return m.store.ReleaseOrder(ctx, orderID)
}

// Get returns the order's reservation for diagnostics
func (m *ReservationManager) Get(ctx context.Context, orderID string) (*domain.Reservation, error) {
	return m.store.ReservationByOrder(ctx, orderID)
}
