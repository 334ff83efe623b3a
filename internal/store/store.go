package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_stock/internal/domain"
)

// Common errors returned by the store
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrWarehouseNotFound   = errors.New("warehouse not found")
	ErrRecordNotFound      = errors.New("no inventory record for product at warehouse")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation has expired")
	ErrInvalidStatus       = errors.New("invalid reservation status for this operation")
	ErrDuplicateOrder      = errors.New("order already holds a reservation")
	ErrStockBelowReserved  = errors.New("on-hand quantity below reserved quantity")
)

// InsufficientStockError names the first cart line that failed the
// availability check during a reservation attempt. It matches
// ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	Requested   int32
	Available   int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d at warehouse %d: requested %d, available %d",
		e.ProductID, e.WarehouseID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// OutboxEvent is a reservation state change waiting to be published.
// Events are appended in the same transaction (or mutex scope) as the
// ledger mutation they describe, so publishing never blocks the core.
type OutboxEvent struct {
	ID          int64
	AggregateID string // order id, used as the message key for ordering
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Outbox event types
const (
	EventReservationCreated   = "reservation.created"
	EventReservationCommitted = "reservation.committed"
	EventReservationReleased  = "reservation.released"
	EventReservationExpired   = "reservation.expired"
)

// InventoryStore is the stock ledger plus reservation persistence. Reads are
// consistent with the latest committed mutation; the reserved quantity is
// mutated only through Reserve/CommitOrder/ReleaseOrder/ReleaseExpired so the
// reserved <= onHand invariant is enforced in one place.
type InventoryStore interface {
	// GetProduct returns the product or ErrProductNotFound
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)

	// SaveProduct creates or replaces a product record
	SaveProduct(ctx context.Context, p *domain.Product) error

	// SaveWarehouse creates or replaces a warehouse record
	SaveWarehouse(ctx context.Context, w *domain.Warehouse) error

	// ActiveWarehouses returns active warehouses ordered by creation time,
	// which is the selector's deterministic tie-break order
	ActiveWarehouses(ctx context.Context) ([]domain.Warehouse, error)

	// GetAvailable returns onHand-reserved for the pair, or ErrRecordNotFound
	// when the pair has no ledger row. Callers treat a missing row as zero
	// availability, not as a fault.
	GetAvailable(ctx context.Context, productID, warehouseID int64) (int32, error)

	// WarehouseAvailability returns availability for every given product at
	// one warehouse in a single batched read. Products without a ledger row
	// map to zero.
	WarehouseAvailability(ctx context.Context, warehouseID int64, productIDs []int64) (map[int64]int32, error)

	// ProductStock returns the product's ledger rows at active warehouses
	ProductStock(ctx context.Context, productID int64) ([]domain.StockInfo, error)

	// WarehouseStock returns every ledger row held at the given warehouse
	WarehouseStock(ctx context.Context, warehouseID int64) ([]domain.StockInfo, error)

	// SetStock sets the on-hand level for a pair (restock, manual correction).
	// Fails with ErrStockBelowReserved when onHand would drop below the
	// quantity currently reserved.
	SetStock(ctx context.Context, productID, warehouseID int64, onHand int32) error

	// Reserve atomically checks availability and holds stock for every line,
	// creating a PENDING reservation that expires after ttl. All-or-nothing:
	// the first failing line aborts the whole attempt with
	// *InsufficientStockError and no stock held. Lines must be sorted by
	// productID; implementations take the per-pair locks in that order.
	Reserve(ctx context.Context, orderID string, warehouseID int64, lines []domain.ReservationLine, ttl time.Duration) (*domain.Reservation, error)

	// CommitOrder moves the order's reservation to COMMITTED. Idempotent:
	// committing twice is a no-op. Committing after the sweep expired the
	// reservation returns ErrReservationExpired.
	CommitOrder(ctx context.Context, orderID string) error

	// ReleaseOrder returns the order's held stock to the available pool and
	// moves the reservation to RELEASED. Idempotent and safe to race with
	// CommitOrder: stock is never double-released.
	ReleaseOrder(ctx context.Context, orderID string) error

	// ReservationByOrder returns the order's reservation or ErrReservationNotFound
	ReservationByOrder(ctx context.Context, orderID string) (*domain.Reservation, error)

	// ReleaseExpired releases every PENDING reservation whose window passed,
	// marking it EXPIRED. Returns the number of reservations released.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)

	// UnprocessedEvents returns up to limit unpublished outbox events, oldest first
	UnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)

	// MarkEventProcessed records that the event reached the broker
	MarkEventProcessed(ctx context.Context, eventID int64) error

	// Close shuts down the store
	Close() error
}
