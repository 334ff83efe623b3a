package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fjod/go_stock/internal/domain"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// PostgresStore implements InventoryStore on a relational datastore. The
// per-(product, warehouse) exclusion scope required for the check-and-hold
// step is a SELECT ... FOR UPDATE row lock held until the transaction commits.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(cred *Credentials) (*PostgresStore, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	query := `SELECT id, name, business_id, active, allows_sale FROM products WHERE id = $1`

	var p domain.Product
	err := s.db.QueryRowContext(ctx, query, productID).Scan(
		&p.ID, &p.Name, &p.BusinessID, &p.Active, &p.AllowsSale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveProduct(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (id, name, business_id, active, allows_sale)
              VALUES ($1, $2, $3, $4, $5)
              ON CONFLICT (id) DO UPDATE
              SET name = $2, business_id = $3, active = $4, allows_sale = $5`

	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.BusinessID, p.Active, p.AllowsSale)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveWarehouse(ctx context.Context, w *domain.Warehouse) error {
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := `INSERT INTO warehouses (id, name, active, created_at)
              VALUES ($1, $2, $3, $4)
              ON CONFLICT (id) DO UPDATE
              SET name = $2, active = $3`

	_, err := s.db.ExecContext(ctx, query, w.ID, w.Name, w.Active, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save warehouse: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	query := `SELECT id, name, active, created_at FROM warehouses
              WHERE active ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list warehouses: %w", err)
	}
	defer rows.Close()

	var result []domain.Warehouse
	for rows.Next() {
		var w domain.Warehouse
		if e2 := rows.Scan(&w.ID, &w.Name, &w.Active, &w.CreatedAt); e2 != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", e2)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetAvailable(ctx context.Context, productID, warehouseID int64) (int32, error) {
	query := `SELECT on_hand - reserved FROM inventory_records
              WHERE product_id = $1 AND warehouse_id = $2`

	var available int32
	err := s.db.QueryRowContext(ctx, query, productID, warehouseID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get availability: %w", err)
	}
	return available, nil
}

func (s *PostgresStore) WarehouseAvailability(ctx context.Context, warehouseID int64, productIDs []int64) (map[int64]int32, error) {
	query := `SELECT product_id, on_hand - reserved FROM inventory_records
              WHERE warehouse_id = $1 AND product_id = ANY($2)`

	rows, err := s.db.QueryContext(ctx, query, warehouseID, pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to batch availability: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]int32, len(productIDs))
	for _, id := range productIDs {
		result[id] = 0
	}
	for rows.Next() {
		var productID int64
		var available int32
		if e2 := rows.Scan(&productID, &available); e2 != nil {
			return nil, fmt.Errorf("failed to scan availability: %w", e2)
		}
		result[productID] = available
	}
	return result, rows.Err()
}

func (s *PostgresStore) ProductStock(ctx context.Context, productID int64) ([]domain.StockInfo, error) {
	query := `SELECT r.product_id, r.warehouse_id, r.on_hand, r.reserved
              FROM inventory_records r
              JOIN warehouses w ON w.id = r.warehouse_id AND w.active
              WHERE r.product_id = $1
              ORDER BY r.warehouse_id`

	return s.queryStock(ctx, query, productID)
}

func (s *PostgresStore) WarehouseStock(ctx context.Context, warehouseID int64) ([]domain.StockInfo, error) {
	query := `SELECT product_id, warehouse_id, on_hand, reserved
              FROM inventory_records
              WHERE warehouse_id = $1
              ORDER BY product_id`

	return s.queryStock(ctx, query, warehouseID)
}

func (s *PostgresStore) queryStock(ctx context.Context, query string, arg int64) ([]domain.StockInfo, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock: %w", err)
	}
	defer rows.Close()

	var result []domain.StockInfo
	for rows.Next() {
		var info domain.StockInfo
		if e2 := rows.Scan(&info.ProductID, &info.WarehouseID, &info.OnHand, &info.Reserved); e2 != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", e2)
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SetStock(ctx context.Context, productID, warehouseID int64, onHand int32) error {
	query := `INSERT INTO inventory_records (product_id, warehouse_id, on_hand, reserved)
              VALUES ($1, $2, $3, 0)
              ON CONFLICT (product_id, warehouse_id) DO UPDATE
              SET on_hand = $3
              WHERE inventory_records.reserved <= $3`

	result, err := s.db.ExecContext(ctx, query, productID, warehouseID, onHand)
	if err != nil {
		if isCheckViolation(err) {
			return ErrStockBelowReserved
		}
		return fmt.Errorf("failed to set stock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read set stock result: %w", err)
	}
	if affected == 0 {
		return ErrStockBelowReserved
	}
	return nil
}

// Reserve holds stock for every line inside one transaction. Rows are locked
// in productID order so two overlapping multi-line reservations cannot
// deadlock. Rolling back the transaction undoes every hold taken so far,
// which gives the all-or-nothing contract for free.
func (s *PostgresStore) Reserve(ctx context.Context, orderID string, warehouseID int64, lines []domain.ReservationLine, ttl time.Duration) (*domain.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRowContext(ctx, `SELECT active FROM warehouses WHERE id = $1`, warehouseID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
		return nil, ErrWarehouseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check warehouse: %w", err)
	}

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE order_id = $1 AND status IN ($2, $3)`,
		orderID, domain.StatusPending, domain.StatusCommitted).Scan(&existing)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing reservation: %w", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateOrder
	}

	// A released or expired order may start over; its terminal rows still
	// occupy the (order_id, product_id) key, so clear them before inserting.
	_, err = tx.ExecContext(ctx, `DELETE FROM reservations WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear terminal reservation: %w", err)
	}

	for _, line := range lines {
		var onHand, reserved int32
		err = tx.QueryRowContext(ctx,
			`SELECT on_hand, reserved FROM inventory_records
             WHERE product_id = $1 AND warehouse_id = $2 FOR UPDATE`,
			line.ProductID, warehouseID).Scan(&onHand, &reserved)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &InsufficientStockError{
				ProductID:   line.ProductID,
				WarehouseID: warehouseID,
				Requested:   line.Quantity,
				Available:   0,
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock inventory row: %w", err)
		}
		if onHand-reserved < line.Quantity {
			return nil, &InsufficientStockError{
				ProductID:   line.ProductID,
				WarehouseID: warehouseID,
				Requested:   line.Quantity,
				Available:   onHand - reserved,
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE inventory_records SET reserved = reserved + $3
             WHERE product_id = $1 AND warehouse_id = $2`,
			line.ProductID, warehouseID, line.Quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to hold stock: %w", err)
		}
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

	for _, line := range lines {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reservations (order_id, product_id, reservation_id, warehouse_id, quantity, status, created_at, expires_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			orderID, line.ProductID, reservation.ID, warehouseID, line.Quantity,
			reservation.Status, reservation.CreatedAt, reservation.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert reservation line: %w", err)
		}
	}

	if err = insertOutboxEvent(ctx, tx, reservation, EventReservationCreated); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return reservation, nil
}

func (s *PostgresStore) CommitOrder(ctx context.Context, orderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	reservation, err := lockReservation(ctx, tx, orderID)
	if err != nil {
		return err
	}

	switch reservation.Status {
	case domain.StatusCommitted:
		return nil // idempotent
	case domain.StatusExpired:
		return ErrReservationExpired
	case domain.StatusReleased:
		return ErrInvalidStatus
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE reservations SET status = $2 WHERE order_id = $1`,
		orderID, domain.StatusCommitted)
	if err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	reservation.Status = domain.StatusCommitted
	if err = insertOutboxEvent(ctx, tx, reservation, EventReservationCommitted); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) ReleaseOrder(ctx context.Context, orderID string) error {
	_, err := s.release(ctx, orderID, domain.StatusReleased, EventReservationReleased, false)
	return err
}

func (s *PostgresStore) ReservationByOrder(ctx context.Context, orderID string) (*domain.Reservation, error) {
	query := `SELECT order_id, product_id, reservation_id, warehouse_id, quantity, status, created_at, expires_at
              FROM reservations WHERE order_id = $1 ORDER BY product_id`

	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservation: %w", err)
	}
	defer rows.Close()

	reservation, err := scanReservation(rows)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, ErrReservationNotFound
	}
	return reservation, nil
}

func (s *PostgresStore) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT order_id FROM reservations
         WHERE status = $1 AND expires_at < $2`,
		domain.StatusPending, now)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired reservations: %w", err)
	}

	var orderIDs []string
	for rows.Next() {
		var orderID string
		if e2 := rows.Scan(&orderID); e2 != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan order id: %w", e2)
		}
		orderIDs = append(orderIDs, orderID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}

	// Release one order per transaction; a commit racing the sweep wins on
	// the row lock and the expiry is skipped inside the transaction.
	count := 0
	for _, orderID := range orderIDs {
		released, e2 := s.release(ctx, orderID, domain.StatusExpired, EventReservationExpired, true)
		if e2 != nil {
			return count, e2
		}
		if released {
			count++
		}
	}
	return count, nil
}

// release gives held stock back and moves the reservation to a terminal
// status. With onlyExpiredPending set it re-checks status and expiry under
// the row lock and silently skips otherwise (the sweep path).
func (s *PostgresStore) release(ctx context.Context, orderID string, status domain.ReservationStatus, eventType string, onlyExpiredPending bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	reservation, err := lockReservation(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	if reservation.Status.IsTerminal() {
		return false, nil // idempotent
	}
	if onlyExpiredPending &&
		(reservation.Status != domain.StatusPending || !reservation.IsExpired(time.Now())) {
		return false, nil
	}

	// Lock ledger rows in productID order (Lines come back sorted)
	for _, line := range reservation.Lines {
		var reserved int32
		err = tx.QueryRowContext(ctx,
			`SELECT reserved FROM inventory_records
             WHERE product_id = $1 AND warehouse_id = $2 FOR UPDATE`,
			line.ProductID, reservation.WarehouseID).Scan(&reserved)
		if errors.Is(err, sql.ErrNoRows) {
			continue // ledger row was removed by a correction, nothing to give back
		}
		if err != nil {
			return false, fmt.Errorf("failed to lock inventory row: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE inventory_records SET reserved = reserved - $3
             WHERE product_id = $1 AND warehouse_id = $2`,
			line.ProductID, reservation.WarehouseID, line.Quantity)
		if err != nil {
			return false, fmt.Errorf("failed to release stock: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE reservations SET status = $2 WHERE order_id = $1`,
		orderID, status)
	if err != nil {
		return false, fmt.Errorf("failed to update reservation status: %w", err)
	}

	reservation.Status = status
	if err = insertOutboxEvent(ctx, tx, reservation, eventType); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit release: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) UnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at, processed_at
              FROM outbox_events
              WHERE processed_at IS NULL
              ORDER BY created_at, id
              LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var result []*OutboxEvent
	for rows.Next() {
		var event OutboxEvent
		if e2 := rows.Scan(&event.ID, &event.AggregateID, &event.EventType,
			&event.Payload, &event.CreatedAt, &event.ProcessedAt); e2 != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", e2)
		}
		result = append(result, &event)
	}
	return result, rows.Err()
}

func (s *PostgresStore) MarkEventProcessed(ctx context.Context, eventID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read mark result: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// lockReservation reads and locks every line of the order's reservation,
// sorted by productID. Returns ErrReservationNotFound for unknown orders.
func lockReservation(ctx context.Context, tx *sql.Tx, orderID string) (*domain.Reservation, error) {
	query := `SELECT order_id, product_id, reservation_id, warehouse_id, quantity, status, created_at, expires_at
              FROM reservations WHERE order_id = $1 ORDER BY product_id FOR UPDATE`

	rows, err := tx.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}
	defer rows.Close()

	reservation, err := scanReservation(rows)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, ErrReservationNotFound
	}
	return reservation, nil
}

// scanReservation folds per-line rows back into one order-level reservation.
// All lines of an order share id, warehouse, status and timestamps.
func scanReservation(rows *sql.Rows) (*domain.Reservation, error) {
	var reservation *domain.Reservation
	for rows.Next() {
		var orderID, reservationID string
		var productID, warehouseID int64
		var quantity int32
		var status domain.ReservationStatus
		var createdAt, expiresAt time.Time
		if err := rows.Scan(&orderID, &productID, &reservationID, &warehouseID,
			&quantity, &status, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation line: %w", err)
		}
		if reservation == nil {
			reservation = &domain.Reservation{
				ID:          reservationID,
				OrderID:     orderID,
				WarehouseID: warehouseID,
				Status:      status,
				CreatedAt:   createdAt,
				ExpiresAt:   expiresAt,
			}
		}
		reservation.Lines = append(reservation.Lines, domain.ReservationLine{
			ProductID: productID,
			Quantity:  quantity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reservation, nil
}

func insertOutboxEvent(ctx context.Context, tx *sql.Tx, reservation *domain.Reservation, eventType string) error {
	payload, err := json.Marshal(reservationEventPayload(reservation))
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		reservation.OrderID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}
