package domain

// StockInfo is one ledger row: on-hand and reserved quantities for a
// product at a warehouse. Invariant: 0 <= Reserved <= OnHand.
type StockInfo struct {
	ProductID   int64
	WarehouseID int64
	OnHand      int32
	Reserved    int32
}

// Available returns the quantity open for new reservations (on-hand minus reserved).
func (s StockInfo) Available() int32 {
	return s.OnHand - s.Reserved
}

// CartLine is a (product, quantity) pair as requested by a shopper.
type CartLine struct {
	ProductID int64
	Quantity  int32
}
