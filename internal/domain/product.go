package domain

// Product is the sellable unit tracked by the inventory ledger.
type Product struct {
	ID         int64
	Name       string
	BusinessID int64 // owning business, zero when unassigned
	Active     bool
	AllowsSale bool
}

// Sellable reports whether the product may take part in cart mutations
// and reservations at all, independent of stock levels.
func (p *Product) Sellable() bool {
	return p.Active && p.AllowsSale && p.BusinessID != 0
}
