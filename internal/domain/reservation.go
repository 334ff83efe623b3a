package domain

import "time"

// ReservationStatus represents the state of a stock reservation
type ReservationStatus string

const (
	// StatusPending is set at checkout; stock is held but not yet sold.
	StatusPending ReservationStatus = "PENDING"
	// StatusCommitted means payment was confirmed; the hold stays until fulfillment.
	StatusCommitted ReservationStatus = "COMMITTED"
	// StatusReleased means the hold was returned to the available pool.
	StatusReleased ReservationStatus = "RELEASED"
	// StatusExpired is a release performed by the background sweep. A commit
	// arriving after expiry is rejected, unlike a commit after a manual release.
	StatusExpired ReservationStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusReleased || s == StatusExpired
}

// String representation (for logging)
func (s ReservationStatus) String() string {
	return string(s)
}

// CanTransitionTo enforces the reservation state machine:
// PENDING -> COMMITTED | RELEASED | EXPIRED, COMMITTED -> RELEASED.
func CanTransitionTo(from, to ReservationStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusCommitted || to == StatusReleased || to == StatusExpired
	case StatusCommitted:
		return to == StatusReleased
	default:
		return false
	}
}

// ReservationLine is a single product hold within a reservation.
type ReservationLine struct {
	ProductID int64
	Quantity  int32
}

// Reservation is a durable claim against inventory created at checkout.
// An order is always fulfilled from exactly one warehouse, so all lines
// share the same WarehouseID.
type Reservation struct {
	ID          string
	OrderID     string
	WarehouseID int64
	Lines       []ReservationLine
	Status      ReservationStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired checks if the reservation has outlived its checkout window.
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
