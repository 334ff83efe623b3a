package service

import (
	"context"
	"errors"

	"github.com/fjod/go_stock/internal/domain"
	"github.com/fjod/go_stock/internal/store"
)

// ProductReader is the product lookup the validator and reservation manager
// depend on. Satisfied by the store directly or by the read-through cache.
type ProductReader interface {
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
}

// CartValidator gatekeeps cart mutations against current availability. This
// is the cheap per-item tier: it approximates the requested product's
// coverage in isolation, while the authoritative multi-line check runs in the
// warehouse selector at checkout. Cart-time and checkout-time availability
// diverge under concurrent shoppers, so passing here never guarantees the
// later reserve succeeds.
type CartValidator struct {
	products ProductReader
	store    store.InventoryStore
}

func NewCartValidator(products ProductReader, store store.InventoryStore) *CartValidator {
	return &CartValidator{products: products, store: store}
}

// CanAdd checks whether quantity units of the product may join the cart.
// cart holds the shopper's current lines; an existing line for the same
// product counts toward the total the warehouse must cover.
func (v *CartValidator) CanAdd(ctx context.Context, cart []domain.CartLine, productID int64, quantity int32) error {
	total := quantity
	for _, line := range cart {
		if line.ProductID == productID {
			total += line.Quantity
		}
	}
	return v.validate(ctx, productID, quantity, total)
}

// CanUpdate checks whether the cart line for the product may change to
// newQuantity. Removals (quantity zero) are always allowed upstream and do
// not pass through here.
func (v *CartValidator) CanUpdate(ctx context.Context, productID int64, newQuantity int32) error {
	return v.validate(ctx, productID, newQuantity, newQuantity)
}

// validate applies the rejection gates in priority order: product checks
// first, then inventory presence, then stock, then coverage.
func (v *CartValidator) validate(ctx context.Context, productID int64, quantity, total int32) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	product, err := v.products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !product.Active {
		return ErrProductInactive
	}
	if !product.AllowsSale {
		return ErrSaleNotAllowed
	}
	if product.BusinessID == 0 {
		return ErrNoBusinessOwner
	}

	stocks, err := v.store.ProductStock(ctx, productID)
	if err != nil {
		return err
	}
	if len(stocks) == 0 {
		return ErrNoInventory
	}

	totalOnHand := int32(0)
	covered := false
	var bestAvailable int32
	for _, stock := range stocks {
		totalOnHand += stock.OnHand
		if available := stock.Available(); available > bestAvailable {
			bestAvailable = available
		}
		if stock.Available() >= total {
			covered = true
		}
	}
	if totalOnHand == 0 {
		return ErrZeroStock
	}
	if !covered {
		return &store.InsufficientStockError{
			ProductID: productID,
			Requested: total,
			Available: bestAvailable,
		}
	}
	return nil
}

// IsRejection reports whether the error is a cart rejection rather than a
// system fault, so callers can map it to a client response.
func IsRejection(err error) bool {
	return errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrSaleNotAllowed) ||
		errors.Is(err, ErrNoBusinessOwner) ||
		errors.Is(err, ErrNoInventory) ||
		errors.Is(err, ErrZeroStock) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, store.ErrInsufficientStock) ||
		errors.Is(err, store.ErrProductNotFound)
}
