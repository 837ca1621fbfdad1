package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	platformobservability "github.com/shestoi/mimo-inventory/platform/observability"

	"github.com/shestoi/mimo-inventory/internal/authctx"
	"github.com/shestoi/mimo-inventory/internal/catalog"
	"github.com/shestoi/mimo-inventory/internal/repository"
	"github.com/shestoi/mimo-inventory/internal/service"
)

// Handler содержит HTTP-обработчики Inventory Service
// Зависит от service слоя, но не знает о деталях хранилища
type Handler struct {
	inventoryService  *service.InventoryService
	lowStockThreshold int32
	logger            *zap.Logger
}

// NewHandler создаёт новый HTTP handler.
// lowStockThreshold используется в GET /inventories/low, если threshold не передан.
func NewHandler(inventoryService *service.InventoryService, lowStockThreshold int32, logger *zap.Logger) *Handler {
	return &Handler{
		inventoryService:  inventoryService,
		lowStockThreshold: lowStockThreshold,
		logger:            logger,
	}
}

// AddInventoryRequest - тело POST /inventories
type AddInventoryRequest struct {
	ProductID   *string `json:"product_id"`
	VariantID   *string `json:"variant_id"`
	WarehouseID *string `json:"warehouse_id"`
	Quantity    *int32  `json:"quantity"`
}

// UpdateInventoryRequest - тело PUT /inventories/{id}
type UpdateInventoryRequest struct {
	Quantity *int32 `json:"quantity"`
}

// ReserveRequest - тело PUT /inventories/{id}/reservation
type ReserveRequest struct {
	Quantity *int32 `json:"quantity"`
}

// InventoryResponse представляет запись остатка в HTTP ответе
type InventoryResponse struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	VariantID        string    `json:"variant_id,omitempty"`
	WarehouseID      string    `json:"warehouse_id,omitempty"`
	Quantity         int32     `json:"quantity"`
	ReservedQuantity int32     `json:"reserved_quantity"`
	Available        int32     `json:"available"`
	LastUpdatedBy    string    `json:"last_updated_by,omitempty"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// InventoryDetailsResponse - запись остатка с данными каталога
type InventoryDetailsResponse struct {
	InventoryResponse
	Product *catalog.Product `json:"product"`
	Variant *catalog.Variant `json:"variant,omitempty"`
}

// ReservationResponse представляет резерв в HTTP ответе
type ReservationResponse struct {
	ID          string    `json:"id"`
	InventoryID string    `json:"inventory_id"`
	RequesterID string    `json:"requester_id"`
	Quantity    int32     `json:"quantity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AvailabilityResponse - ответ GET /inventories/{id}/availability
type AvailabilityResponse struct {
	InventoryID string `json:"inventory_id"`
	Requested   int32  `json:"requested"`
	CurrentHold int32  `json:"current_hold"`
	Available   int32  `json:"available"`
	OK          bool   `json:"ok"`
}

// ValidationResponse - ответ GET /catalog/validate
type ValidationResponse struct {
	Product catalog.Product  `json:"product"`
	Variant *catalog.Variant `json:"variant,omitempty"`
}

func toInventoryResponse(inv repository.Inventory) InventoryResponse {
	return InventoryResponse{
		ID:               inv.ID,
		ProductID:        inv.ProductID,
		VariantID:        inv.VariantID,
		WarehouseID:      inv.WarehouseID,
		Quantity:         inv.Quantity,
		ReservedQuantity: inv.ReservedQuantity,
		Available:        inv.Available(),
		LastUpdatedBy:    inv.LastUpdatedBy,
		Version:          inv.Version,
		CreatedAt:        inv.CreatedAt,
		UpdatedAt:        inv.UpdatedAt,
	}
}

func toInventoryResponses(items []repository.Inventory) []InventoryResponse {
	out := make([]InventoryResponse, 0, len(items))
	for _, inv := range items {
		out = append(out, toInventoryResponse(inv))
	}
	return out
}

func toReservationResponse(res repository.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:          res.ID,
		InventoryID: res.InventoryID,
		RequesterID: res.RequesterID,
		Quantity:    res.Quantity,
		CreatedAt:   res.CreatedAt,
		UpdatedAt:   res.UpdatedAt,
	}
}

// log возвращает logger запроса (с trace_id), если его положил HTTPMiddleware
func (h *Handler) log(r *http.Request) *zap.Logger {
	if l := platformobservability.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.logger
}

// PostInventories обрабатывает POST /inventories - создание записи остатка
func (h *Handler) PostInventories(w http.ResponseWriter, r *http.Request) {
	var req AddInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.ProductID == nil || *req.ProductID == "" || req.Quantity == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "product_id and quantity are required")
		return
	}

	input := service.AddInventoryInput{
		ProductID: *req.ProductID,
		Quantity:  *req.Quantity,
	}
	if req.VariantID != nil {
		input.VariantID = *req.VariantID
	}
	if req.WarehouseID != nil {
		input.WarehouseID = *req.WarehouseID
	}
	input.UpdatedBy, _ = authctx.UserIDFromContext(r.Context())

	inv, err := h.inventoryService.AddInventory(r.Context(), input)
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, toInventoryResponse(inv))
}

// GetInventories обрабатывает GET /inventories - все записи с данными каталога
func (h *Handler) GetInventories(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventoryService.GetInventoriesWithProductAndVariant(r.Context())
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}

	out := make([]InventoryDetailsResponse, 0, len(items))
	for _, d := range items {
		out = append(out, InventoryDetailsResponse{
			InventoryResponse: toInventoryResponse(d.Inventory),
			Product:           d.Product,
			Variant:           d.Variant,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetLowInventories обрабатывает GET /inventories/low?threshold=N
func (h *Handler) GetLowInventories(w http.ResponseWriter, r *http.Request) {
	threshold := h.lowStockThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := parseInt32(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "threshold must be an integer")
			return
		}
		threshold = v
	}

	items, err := h.inventoryService.GetLowQuantityProducts(r.Context(), threshold)
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponses(items))
}

// GetInventoryLookup обрабатывает GET /inventories/lookup?product_id=&variant_id=
func (h *Handler) GetInventoryLookup(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "product_id is required")
		return
	}

	inv, err := h.inventoryService.GetInventoryByProductAndVariant(r.Context(), productID, r.URL.Query().Get("variant_id"))
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

// GetInventory обрабатывает GET /inventories/{id}
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request, id string) {
	inv, err := h.inventoryService.GetInventory(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

// PutInventory обрабатывает PUT /inventories/{id} - пополнение склада
func (h *Handler) PutInventory(w http.ResponseWriter, r *http.Request, id string) {
	var req UpdateInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Quantity == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "quantity is required")
		return
	}

	updatedBy, _ := authctx.UserIDFromContext(r.Context())
	inv, err := h.inventoryService.UpdateInventory(r.Context(), id, *req.Quantity, updatedBy)
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

// GetAvailability обрабатывает GET /inventories/{id}/availability?quantity=N.
// Учитывает текущий резерв пользователя сессии, ничего не записывает.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request, id string) {
	quantity, err := parseInt32(r.URL.Query().Get("quantity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "quantity must be an integer")
		return
	}

	userID, _ := authctx.UserIDFromContext(r.Context())
	av, err := h.inventoryService.CheckAvailability(r.Context(), id, userID, quantity)
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{
		InventoryID: av.InventoryID,
		Requested:   av.Requested,
		CurrentHold: av.CurrentHold,
		Available:   av.Available,
		OK:          av.OK,
	})
}

// GetReservations обрабатывает GET /inventories/{id}/reservations
func (h *Handler) GetReservations(w http.ResponseWriter, r *http.Request, id string) {
	items, err := h.inventoryService.ListReservations(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}

	out := make([]ReservationResponse, 0, len(items))
	for _, res := range items {
		out = append(out, toReservationResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

// PutReservation обрабатывает PUT /inventories/{id}/reservation - установить резерв пользователя сессии
func (h *Handler) PutReservation(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := authctx.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "session is required")
		return
	}

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Quantity == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "quantity is required")
		return
	}

	res, err := h.inventoryService.ReserveStock(r.Context(), id, userID, *req.Quantity)
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

// DeleteReservation обрабатывает DELETE /inventories/{id}/reservation?mode=cancel|finalize.
// Без mode резерв отменяется.
func (h *Handler) DeleteReservation(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := authctx.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "session is required")
		return
	}

	mode := service.ReleaseCancel
	if raw := r.URL.Query().Get("mode"); raw != "" {
		parsed, err := service.ParseReleaseMode(raw)
		if err != nil {
			writeServiceError(w, h.log(r), err)
			return
		}
		mode = parsed
	}

	inv, err := h.inventoryService.ReleaseStock(r.Context(), id, userID, mode)
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

// GetCatalogValidate обрабатывает GET /catalog/validate?product_id=&variant_id=
func (h *Handler) GetCatalogValidate(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "product_id is required")
		return
	}

	result, err := h.inventoryService.ValidateProductAndVariant(r.Context(), productID, r.URL.Query().Get("variant_id"))
	if err != nil {
		writeServiceError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, ValidationResponse{Product: result.Product, Variant: result.Variant})
}

func parseInt32(raw string) (int32, error) {
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}
