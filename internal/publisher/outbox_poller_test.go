package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_stock/internal/domain"
	"github.com/fjod/go_stock/internal/store"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func setupOutbox(t *testing.T) *store.MemoryStore {
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

	_, err := s.Reserve(ctx, "order-1", 1,
		[]domain.ReservationLine{{ProductID: 1, Quantity: 2}}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.CommitOrder(ctx, "order-1"))
	return s
}

func TestPoller_PublishesAndMarksEvents(t *testing.T) {
	s := setupOutbox(t)
	ctx := context.Background()

	writer := &fakeWriter{}
	poller := newPoller(s, writer)

	poller.processUnpublishedEvents(ctx)

	// Reserve plus commit produced two events, keyed by order for ordering
	require.Len(t, writer.messages, 2)
	assert.Equal(t, []byte("order-1"), writer.messages[0].Key)
	assert.Equal(t, []byte(store.EventReservationCreated), writer.messages[0].Headers[0].Value)
	assert.Equal(t, []byte(store.EventReservationCommitted), writer.messages[1].Headers[0].Value)

	remaining, err := s.UnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPoller_BrokerFailureLeavesEventsUnprocessed(t *testing.T) {
	s := setupOutbox(t)
	ctx := context.Background()

	writer := &fakeWriter{err: errors.New("broker down")}
	poller := newPoller(s, writer)

	poller.processUnpublishedEvents(ctx)

	remaining, err := s.UnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	// Broker recovers; next tick drains the backlog
	writer.err = nil
	poller.processUnpublishedEvents(ctx)

	remaining, err = s.UnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPoller_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	writer := &fakeWriter{err: errors.New("broker down")}
	poller := newPoller(s, writer)

	event := &store.OutboxEvent{ID: 1, AggregateID: "order-1", EventType: store.EventReservationCreated}
	for i := 0; i < 5; i++ {
		assert.Error(t, poller.publish(context.Background(), event))
	}

	// Breaker now rejects without touching the writer
	writer.err = nil
	err := poller.publish(context.Background(), event)
	assert.Error(t, err)
	assert.Empty(t, writer.messages)
}
