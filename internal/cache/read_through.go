package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_stock/internal/domain"
)

// ProductSource is where products live when the cache misses
type ProductSource interface {
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
}

// ReadThrough serves product lookups from the cache, falling back to the
// source on a miss. Satisfies service.ProductReader.
type ReadThrough struct {
	source ProductSource
	cache  ProductCache
	sfg    singleflight.Group // Prevents cache stampede
}

func NewReadThrough(source ProductSource, cache ProductCache) *ReadThrough {
	return &ReadThrough{source: source, cache: cache}
}

func (r *ReadThrough) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := r.sfg.Do(strconv.FormatInt(productID, 10), func() (interface{}, error) {
		product, err := r.cache.Get(ctx, productID)
		if err == nil {
			return product, nil
		}

		if !errors.Is(err, ErrCacheMiss) {
			log.Printf("cache get error: %v", err) // log cache error but continue
		}

		product, errGet := r.source.GetProduct(ctx, productID)
		if errGet != nil {
			return nil, errGet
		}

		// Best effort: a failed fill means the next miss reloads from source
		if errSet := r.cache.Set(ctx, product); errSet != nil {
			log.Printf("cache set error: %v", errSet)
		}

		return product, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*domain.Product), nil
}

// Invalidate drops the cached entry after a product update
func (r *ReadThrough) Invalidate(ctx context.Context, productID int64) error {
	if err := r.cache.Delete(ctx, productID); err != nil {
		return fmt.Errorf("cache invalidate failed: %w", err)
	}
	return nil
}
