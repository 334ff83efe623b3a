package store

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_stock/internal/domain"
	"github.com/google/uuid"
)

type pairKey struct {
	productID   int64
	warehouseID int64
}

// MemoryStore implements InventoryStore with in-memory storage. The single
// mutex serializes reservation attempts, which is the per-pair exclusion
// scope the postgres store gets from row locks.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[int64]*domain.Product
	warehouses   map[int64]*domain.Warehouse
	stocks       map[pairKey]*domain.StockInfo
	reservations map[string]*domain.Reservation // orderID -> reservation
	outbox       []*OutboxEvent
	nextEventID  int64
}

// NewMemoryStore creates a new in-memory inventory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[int64]*domain.Product),
		warehouses:   make(map[int64]*domain.Warehouse),
		stocks:       make(map[pairKey]*domain.StockInfo),
		reservations: make(map[string]*domain.Reservation),
		nextEventID:  1,
	}
}

func (s *MemoryStore) GetProduct(_ context.Context, productID int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.products[productID]
	if !exists {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SaveProduct(_ context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStore) SaveWarehouse(_ context.Context, w *domain.Warehouse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *w
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.warehouses[w.ID] = &cp
	return nil
}

func (s *MemoryStore) ActiveWarehouses(_ context.Context) ([]domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Warehouse, 0, len(s.warehouses))
	for _, w := range s.warehouses {
		if w.Active {
			result = append(result, *w)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) GetAvailable(_ context.Context, productID, warehouseID int64) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock, exists := s.stocks[pairKey{productID, warehouseID}]
	if !exists {
		return 0, ErrRecordNotFound
	}
	return stock.Available(), nil
}

func (s *MemoryStore) WarehouseAvailability(_ context.Context, warehouseID int64, productIDs []int64) (map[int64]int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]int32, len(productIDs))
	for _, id := range productIDs {
		if stock, exists := s.stocks[pairKey{id, warehouseID}]; exists {
			result[id] = stock.Available()
		} else {
			result[id] = 0
		}
	}
	return result, nil
}

func (s *MemoryStore) ProductStock(_ context.Context, productID int64) ([]domain.StockInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.StockInfo
	for key, stock := range s.stocks {
		if key.productID != productID {
			continue
		}
		w, exists := s.warehouses[key.warehouseID]
		if !exists || !w.Active {
			continue
		}
		result = append(result, *stock)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].WarehouseID < result[j].WarehouseID })
	return result, nil
}

func (s *MemoryStore) WarehouseStock(_ context.Context, warehouseID int64) ([]domain.StockInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.StockInfo
	for key, stock := range s.stocks {
		if key.warehouseID == warehouseID {
			result = append(result, *stock)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}

func (s *MemoryStore) SetStock(_ context.Context, productID, warehouseID int64, onHand int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{productID, warehouseID}
	if existing, exists := s.stocks[key]; exists {
		if onHand < existing.Reserved {
			return ErrStockBelowReserved
		}
		existing.OnHand = onHand
		return nil
	}
	if onHand < 0 {
		return ErrStockBelowReserved
	}
	s.stocks[key] = &domain.StockInfo{
		ProductID:   productID,
		WarehouseID: warehouseID,
		OnHand:      onHand,
		Reserved:    0,
	}
	return nil
}

// Reserve creates a new PENDING reservation for the order. The check and the
// increment happen under one lock so two racing checkouts can never both
// take the last unit.
func (s *MemoryStore) Reserve(_ context.Context, orderID string, warehouseID int64, lines []domain.ReservationLine, ttl time.Duration) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.warehouses[warehouseID]
	if !exists || !w.Active {
		return nil, ErrWarehouseNotFound
	}
	if existing, exists := s.reservations[orderID]; exists && !existing.Status.IsTerminal() {
		return nil, ErrDuplicateOrder
	}

	// First pass: validate all lines against current availability
	for _, line := range lines {
		stock, exists := s.stocks[pairKey{line.ProductID, warehouseID}]
		available := int32(0)
		if exists {
			available = stock.Available()
		}
		if available < line.Quantity {
			return nil, &InsufficientStockError{
				ProductID:   line.ProductID,
				WarehouseID: warehouseID,
				Requested:   line.Quantity,
				Available:   available,
			}
		}
	}

	// Second pass: hold stock for all lines
	for _, line := range lines {
		s.stocks[pairKey{line.ProductID, warehouseID}].Reserved += line.Quantity
	}

	now := time.Now()
	reservation := &domain.Reservation{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		WarehouseID: warehouseID,
		Lines:       lines,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	s.reservations[orderID] = reservation
	s.appendEvent(reservation, EventReservationCreated, now)

	cp := cloneReservation(reservation)
	return cp, nil
}

// CommitOrder finalizes the reservation after successful payment. The held
// stock stays reserved until fulfillment adjusts on-hand, so a later
// cancellation can still return it.
func (s *MemoryStore) CommitOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, exists := s.reservations[orderID]
	if !exists {
		return ErrReservationNotFound
	}

	switch reservation.Status {
	case domain.StatusCommitted:
		return nil // idempotent
	case domain.StatusExpired:
		return ErrReservationExpired
	case domain.StatusReleased:
		return ErrInvalidStatus
	}

	reservation.Status = domain.StatusCommitted
	s.appendEvent(reservation, EventReservationCommitted, time.Now())
	return nil
}

// ReleaseOrder returns held stock to the available pool on cancellation,
// payment failure or checkout timeout.
func (s *MemoryStore) ReleaseOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, exists := s.reservations[orderID]
	if !exists {
		return ErrReservationNotFound
	}
	if reservation.Status.IsTerminal() {
		return nil // already released, nothing to give back
	}

	s.releaseLocked(reservation, domain.StatusReleased, EventReservationReleased)
	return nil
}

func (s *MemoryStore) ReservationByOrder(_ context.Context, orderID string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservation, exists := s.reservations[orderID]
	if !exists {
		return nil, ErrReservationNotFound
	}
	return cloneReservation(reservation), nil
}

// ReleaseExpired finds PENDING reservations past their window and expires them
func (s *MemoryStore) ReleaseExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, reservation := range s.reservations {
		if reservation.Status == domain.StatusPending && reservation.IsExpired(now) {
			s.releaseLocked(reservation, domain.StatusExpired, EventReservationExpired)
			released++
		}
	}
	return released, nil
}

// releaseLocked gives held stock back and moves the reservation to a terminal
// status. Caller holds the write lock.
func (s *MemoryStore) releaseLocked(reservation *domain.Reservation, status domain.ReservationStatus, eventType string) {
	for _, line := range reservation.Lines {
		if stock, exists := s.stocks[pairKey{line.ProductID, reservation.WarehouseID}]; exists {
			stock.Reserved -= line.Quantity
		}
	}
	reservation.Status = status
	s.appendEvent(reservation, eventType, time.Now())
}

func (s *MemoryStore) UnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*OutboxEvent, 0, limit)
	for _, event := range s.outbox {
		if event.ProcessedAt != nil {
			continue
		}
		cp := *event
		result = append(result, &cp)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkEventProcessed(_ context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.outbox {
		if event.ID == eventID {
			now := time.Now()
			event.ProcessedAt = &now
			return nil
		}
	}
	return ErrRecordNotFound
}

func (s *MemoryStore) Close() error {
	return nil
}

// appendEvent records a state change in the outbox. Caller holds the write
// lock, so the event lands in the same critical section as the mutation.
func (s *MemoryStore) appendEvent(reservation *domain.Reservation, eventType string, at time.Time) {
	payload, err := json.Marshal(reservationEventPayload(reservation))
	if err != nil {
		log.Printf("failed to marshal outbox event %s for order %s: %v", eventType, reservation.OrderID, err)
		return
	}
	s.outbox = append(s.outbox, &OutboxEvent{
		ID:          s.nextEventID,
		AggregateID: reservation.OrderID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   at,
	})
	s.nextEventID++
}

func cloneReservation(r *domain.Reservation) *domain.Reservation {
	cp := *r
	cp.Lines = make([]domain.ReservationLine, len(r.Lines))
	copy(cp.Lines, r.Lines)
	return &cp
}

// reservationEventPayload shapes the outbox payload shared by both stores
func reservationEventPayload(r *domain.Reservation) map[string]interface{} {
	lines := make([]map[string]interface{}, len(r.Lines))
	for i, line := range r.Lines {
		lines[i] = map[string]interface{}{
			"product_id": line.ProductID,
			"quantity":   line.Quantity,
		}
	}
	return map[string]interface{}{
		"reservation_id": r.ID,
		"order_id":       r.OrderID,
		"warehouse_id":   r.WarehouseID,
		"status":         r.Status.String(),
		"lines":          lines,
	}
}
