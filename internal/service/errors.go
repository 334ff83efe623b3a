package service

import (
	"errors"
	"fmt"

	"github.com/fjod/go_stock/internal/domain"
)

// Cart mutation rejections, in gate order
var (
	ErrProductInactive = errors.New("product is not active")
	ErrSaleNotAllowed  = errors.New("product does not allow sale")
	ErrNoBusinessOwner = errors.New("product has no owning business")
	ErrNoInventory     = errors.New("product has no inventory records")
	ErrZeroStock       = errors.New("product is out of stock everywhere")
)

var (
	ErrEmptyCart       = errors.New("cart is empty, nothing to select or reserve")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// NoQualifyingWarehouseError means no single active warehouse covers every
// cart line in full. BestPartial names the warehouse with the highest raw
// coverage for operator messaging; it must not be used to fulfill the order.
type NoQualifyingWarehouseError struct {
	BestPartial *domain.WarehouseScore
}

func (e *NoQualifyingWarehouseError) Error() string {
	if e.BestPartial == nil {
		return "no qualifying warehouse for cart"
	}
	return fmt.Sprintf("no qualifying warehouse for cart: best partial is warehouse %d covering %d of %d lines",
		e.BestPartial.WarehouseID, e.BestPartial.LinesCovered, e.BestPartial.TotalLines)
}
