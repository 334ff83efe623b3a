package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_stock/internal/domain"
)

func setupTestRedis(t *testing.T) *RedisCache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client)
}

func TestRedisCache_SetGet(t *testing.T) {
	cache := setupTestRedis(t)
	ctx := context.Background()

	product := &domain.Product{ID: 1, Name: "Laptop", BusinessID: 1, Active: true, AllowsSale: true}
	require.NoError(t, cache.Set(ctx, product))

	got, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, product, got)
}

func TestRedisCache_GetMiss(t *testing.T) {
	cache := setupTestRedis(t)

	_, err := cache.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_Delete(t *testing.T) {
	cache := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, &domain.Product{ID: 1, Name: "Laptop"}))
	require.NoError(t, cache.Delete(ctx, 1))

	_, err := cache.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Deleting an absent key is a no-op
	assert.NoError(t, cache.Delete(ctx, 1))
}
