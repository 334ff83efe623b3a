// Package publisher drains the reservation outbox to Kafka. State changes
// are written to the outbox inside the same transaction as the ledger
// mutation, so the core never blocks on broker delivery.
package publisher

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"

	"github.com/fjod/go_stock/internal/store"
)

const (
	defaultTopic = "inventory-events"
	batchSize    = 100
)

// messageWriter is the slice of kafka.Writer the poller needs; tests swap in
// a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type OutboxPoller struct {
	tick   time.Duration
	store  store.InventoryStore
	writer messageWriter
	cb     *gobreaker.CircuitBreaker[any]
}

func NewOutboxPoller(inventoryStore store.InventoryStore, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  defaultTopic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return newPoller(inventoryStore, w)
}

func newPoller(inventoryStore store.InventoryStore, w messageWriter) *OutboxPoller {
	// The breaker keeps a dead broker from wedging every tick; while open,
	// events simply stay unprocessed in the outbox.
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "kafka-writer",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &OutboxPoller{
		tick:   time.Second,
		store:  inventoryStore,
		writer: w,
		cb:     cb,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.store.UnprocessedEvents(ctx, batchSize)
	if err != nil {
		log.Printf("failed to fetch outbox events: %v", err)
		return
	}

	for _, event := range events {
		if errPublish := p.publish(ctx, event); errPublish != nil {
			log.Printf("failed to publish event id = %v with error %v", event.ID, errPublish)
			continue
		}

		if errMark := p.store.MarkEventProcessed(ctx, event.ID); errMark != nil {
			log.Printf("failed to mark event as processed id = %v with error %v", event.ID, errMark)
			continue
		}
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *store.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id for per-order ordering
		Value: event.Payload,             // already JSON from the store
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	return err
}
