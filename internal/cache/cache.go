package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_stock/internal/domain"
)

// ProductCache caches product metadata (active/allows-sale/business flags)
// consulted on every cart mutation. Stock levels are never cached: the
// ledger's reads must always reflect the latest committed mutation.
type ProductCache interface {
	Get(ctx context.Context, productID int64) (*domain.Product, error)
	Set(ctx context.Context, product *domain.Product) error
	Delete(ctx context.Context, productID int64) error
}

var ErrCacheMiss = errors.New("cache miss")
