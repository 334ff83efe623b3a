package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_stock/internal/domain"
	"github.com/fjod/go_stock/internal/store"
)

func setupStore(t *testing.T) *store.MemoryStore {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.SaveWarehouse(ctx, &domain.Warehouse{
		ID: 1, Name: "Central", Active: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.SaveProduct(ctx, &domain.Product{
		ID: 1, Name: "Laptop", BusinessID: 1, Active: true, AllowsSale: true,
	}))
	require.NoError(t, s.SetStock(ctx, 1, 1, 10))
	return s
}

func TestSweeper_ReleasesExpiredReservations(t *testing.T) {
	s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Reserve(ctx, "order-1", 1,
		[]domain.ReservationLine{{ProductID: 1, Quantity: 4}}, 10*time.Millisecond)
	require.NoError(t, err)

	sweeper := NewSweeper(s, 20*time.Millisecond)
	go sweeper.Run(ctx)

	require.Eventually(t, func() bool {
		reservation, err := s.ReservationByOrder(ctx, "order-1")
		return err == nil && reservation.Status == domain.StatusExpired
	}, 2*time.Second, 10*time.Millisecond)

	available, err := s.GetAvailable(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(10), available)
}

func TestSweeper_LeavesFreshReservationsAlone(t *testing.T) {
	s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Reserve(ctx, "order-1", 1,
		[]domain.ReservationLine{{ProductID: 1, Quantity: 4}}, time.Hour)
	require.NoError(t, err)

	sweeper := NewSweeper(s, 10*time.Millisecond)
	go sweeper.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	reservation, err := s.ReservationByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, reservation.Status)
}

func TestSweeper_DefaultInterval(t *testing.T) {
	sweeper := NewSweeper(nil, 0)
	assert.Equal(t, DefaultInterval, sweeper.interval)
}
