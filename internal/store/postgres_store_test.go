package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fjod/go_stock/internal/domain"
)

func setupTestDB(t *testing.T) *PostgresStore {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	s, err := NewPostgresStore(creds)
	require.NoError(t, err)

	err = s.RunMigrations(creds)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	return s
}

func seedTestDB(t *testing.T, s *PostgresStore) {
	ctx := context.Background()

	require.NoError(t, s.SaveWarehouse(ctx, &domain.Warehouse{
		ID: 1, Name: "Central", Active: true, CreatedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, s.SaveWarehouse(ctx, &domain.Warehouse{
		ID: 2, Name: "North", Active: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.SaveProduct(ctx, &domain.Product{
		ID: 1, Name: "Laptop", BusinessID: 1, Active: true, AllowsSale: true,
	}))
	require.NoError(t, s.SaveProduct(ctx, &domain.Product{
		ID: 2, Name: "Mouse", BusinessID: 1, Active: true, AllowsSale: true,
	}))
	require.NoError(t, s.SetStock(ctx, 1, 1, 100))
	require.NoError(t, s.SetStock(ctx, 2, 1, 50))
}

func TestPostgresStore_GetAvailable(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	available, err := s.GetAvailable(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(100), available)

	_, err = s.GetAvailable(ctx, 99, 1)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPostgresStore_WarehouseAvailability(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	availability, err := s.WarehouseAvailability(ctx, 1, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int32(100), availability[1])
	assert.Equal(t, int32(50), availability[2])
	assert.Equal(t, int32(0), availability[3])
}

func TestPostgresStore_ReserveCommitReleaseLifecycle(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	lines := []domain.ReservationLine{
		{ProductID: 1, Quantity: 10},
		{ProductID: 2, Quantity: 5},
	}
	reservation, err := s.Reserve(ctx, "order-pg-1", 1, lines, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, reservation.Status)

	available, _ := s.GetAvailable(ctx, 1, 1)
	assert.Equal(t, int32(90), available)

	// Read back joins the per-product rows into one reservation
	got, err := s.ReservationByOrder(ctx, "order-pg-1")
	require.NoError(t, err)
	assert.Equal(t, reservation.ID, got.ID)
	assert.Len(t, got.Lines, 2)

	require.NoError(t, s.CommitOrder(ctx, "order-pg-1"))
	require.NoError(t, s.CommitOrder(ctx, "order-pg-1")) // idempotent

	require.NoError(t, s.ReleaseOrder(ctx, "order-pg-1"))
	require.NoError(t, s.ReleaseOrder(ctx, "order-pg-1")) // idempotent

	available, _ = s.GetAvailable(ctx, 1, 1)
	assert.Equal(t, int32(100), available)
	available, _ = s.GetAvailable(ctx, 2, 1)
	assert.Equal(t, int32(50), available)
}

func TestPostgresStore_Reserve_InsufficientStockRollsBack(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	lines := []domain.ReservationLine{
		{ProductID: 1, Quantity: 10},
		{ProductID: 2, Quantity: 500},
	}
	_, err := s.Reserve(ctx, "order-pg-2", 1, lines, time.Minute)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(2), insufficientErr.ProductID)

	available, _ := s.GetAvailable(ctx, 1, 1)
	assert.Equal(t, int32(100), available)
}

func TestPostgresStore_ExpiredCommitRejected(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "order-pg-3", 1,
		[]domain.ReservationLine{{ProductID: 1, Quantity: 1}}, time.Millisecond)
	require.NoError(t, err)

	released, err := s.ReleaseExpired(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	err = s.CommitOrder(ctx, "order-pg-3")
	assert.ErrorIs(t, err, ErrReservationExpired)
}

func TestPostgresStore_ReleasedOrderMayStartOver(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	lines := []domain.ReservationLine{{ProductID: 1, Quantity: 10}}
	first, err := s.Reserve(ctx, "order-pg-6", 1, lines, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.ReleaseOrder(ctx, "order-pg-6"))

	// The terminal rows must not block the order's next attempt
	second, err := s.Reserve(ctx, "order-pg-6", 1, lines, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, domain.StatusPending, second.Status)

	available, _ := s.GetAvailable(ctx, 1, 1)
	assert.Equal(t, int32(90), available)
}

func TestPostgresStore_ExpiredOrderMayStartOver(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "order-pg-7", 1,
		[]domain.ReservationLine{{ProductID: 1, Quantity: 5}}, time.Millisecond)
	require.NoError(t, err)

	released, err := s.ReleaseExpired(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, released)

	reservation, err := s.Reserve(ctx, "order-pg-7", 1,
		[]domain.ReservationLine{{ProductID: 1, Quantity: 5}}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, reservation.Status)

	got, err := s.ReservationByOrder(ctx, "order-pg-7")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	require.Len(t, got.Lines, 1)
}

func TestPostgresStore_ConcurrentReserve_NoOversell(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	require.NoError(t, s.SaveProduct(ctx, &domain.Product{
		ID: 3, Name: "Monitor", BusinessID: 1, Active: true, AllowsSale: true,
	}))
	require.NoError(t, s.SetStock(ctx, 3, 1, 1))

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			orderID := "order-race-" + string(rune('a'+n))
			_, err := s.Reserve(ctx, orderID, 1,
				[]domain.ReservationLine{{ProductID: 3, Quantity: 1}}, time.Minute)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, succeeded)

	available, _ := s.GetAvailable(ctx, 3, 1)
	assert.Equal(t, int32(0), available)
}

func TestPostgresStore_OutboxLifecycle(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "order-pg-4", 1,
		[]domain.ReservationLine{{ProductID: 1, Quantity: 2}}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.CommitOrder(ctx, "order-pg-4"))

	events, err := s.UnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventReservationCreated, events[0].EventType)
	assert.Equal(t, EventReservationCommitted, events[1].EventType)

	require.NoError(t, s.MarkEventProcessed(ctx, events[0].ID))
	events, err = s.UnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPostgresStore_SetStock_BelowReserved(t *testing.T) {
	s := setupTestDB(t)
	seedTestDB(t, s)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "order-pg-5", 1,
		[]domain.ReservationLine{{ProductID: 1, Quantity: 20}}, time.Minute)
	require.NoError(t, err)

	err = s.SetStock(ctx, 1, 1, 10)
	assert.ErrorIs(t, err, ErrStockBelowReserved)
}
