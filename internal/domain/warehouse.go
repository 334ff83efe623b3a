package domain

import "time"

// Warehouse is a physical stock location. Inactive warehouses are never
// selected for fulfillment and never count toward availability.
type Warehouse struct {
	ID        int64
	Name      string
	Active    bool
	CreatedAt time.Time
}
