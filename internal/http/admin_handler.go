// Package http exposes an operator surface over the stock ledger and
// reservation state: stock and reservation reads plus a manual release for
// stuck reservations. Shopper-facing flows never pass through here.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_stock/internal/service"
	"github.com/fjod/go_stock/internal/store"
)

type AdminHandler struct {
	store        store.InventoryStore
	reservations *service.ReservationManager
	timeout      time.Duration
}

func NewAdminHandler(inventoryStore store.InventoryStore, reservations *service.ReservationManager, timeout time.Duration) *AdminHandler {
	return &AdminHandler{
		store:        inventoryStore,
		reservations: reservations,
		timeout:      timeout,
	}
}

type StockResponse struct {
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
	OnHand      int32 `json:"on_hand"`
	Reserved    int32 `json:"reserved"`
	Available   int32 `json:"available"`
}

type WarehouseStockResponse struct {
	WarehouseID int64           `json:"warehouse_id"`
	Stock       []StockResponse `json:"stock"`
}

type ReservationLineResponse struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

type ReservationResponse struct {
	ReservationID string                    `json:"reservation_id"`
	OrderID       string                    `json:"order_id"`
	WarehouseID   int64                     `json:"warehouse_id"`
	Status        string                    `json:"status"`
	Lines         []ReservationLineResponse `json:"lines"`
	CreatedAt     time.Time                 `json:"created_at"`
	ExpiresAt     time.Time                 `json:"expires_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// GET /api/v1/warehouses/{warehouse_id}/stock
func (h *AdminHandler) GetWarehouseStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "warehouse_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_warehouse_id", "warehouse_id must be an integer")
		return
	}

	stocks, err := h.store.WarehouseStock(ctx, warehouseID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to read stock")
		return
	}

	response := WarehouseStockResponse{
		WarehouseID: warehouseID,
		Stock:       make([]StockResponse, len(stocks)),
	}
	for i, stock := range stocks {
		response.Stock[i] = StockResponse{
			ProductID:   stock.ProductID,
			WarehouseID: stock.WarehouseID,
			OnHand:      stock.OnHand,
			Reserved:    stock.Reserved,
			Available:   stock.Available(),
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// GET /api/v1/reservations/{order_id}
func (h *AdminHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	reservation, err := h.store.ReservationByOrder(ctx, orderID)
	if errors.Is(err, store.ErrReservationNotFound) {
		respondError(w, http.StatusNotFound, "reservation_not_found", "no reservation for order")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to read reservation")
		return
	}

	response := ReservationResponse{
		ReservationID: reservation.ID,
		OrderID:       reservation.OrderID,
		WarehouseID:   reservation.WarehouseID,
		Status:        reservation.Status.String(),
		Lines:         make([]ReservationLineResponse, len(reservation.Lines)),
		CreatedAt:     reservation.CreatedAt,
		ExpiresAt:     reservation.ExpiresAt,
	}
	for i, line := range reservation.Lines {
		response.Lines[i] = ReservationLineResponse{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// POST /api/v1/reservations/{order_id}/release
// Manual override for support: frees a hold that is blocking stock.
func (h *AdminHandler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	err := h.reservations.Release(ctx, orderID)
	if errors.Is(err, store.ErrReservationNotFound) {
		respondError(w, http.StatusNotFound, "reservation_not_found", "no reservation for order")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to release reservation")
		return
	}

	log.Printf("operator released reservation for order %s", orderID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
