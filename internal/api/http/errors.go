package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/shestoi/mimo-inventory/internal/service"
)

// ErrorResponse - тело ответа при ошибке
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorKind struct {
	err    error
	kind   string
	status int
}

// errorKinds сопоставляет sentinel ошибки service слоя с HTTP статусом и kind в теле ответа
var errorKinds = []errorKind{
	{service.ErrProductNotFound, "product_not_found", http.StatusNotFound},
	{service.ErrVariantNotFound, "variant_not_found", http.StatusNotFound},
	{service.ErrInventoryNotFound, "inventory_not_found", http.StatusNotFound},
	{service.ErrReservationNotFound, "reservation_not_found", http.StatusNotFound},
	{service.ErrVariantRequired, "variant_required", http.StatusUnprocessableEntity},
	{service.ErrVariantMismatch, "variant_mismatch", http.StatusUnprocessableEntity},
	{service.ErrUnexpectedVariant, "unexpected_variant", http.StatusUnprocessableEntity},
	{service.ErrInvalidQuantity, "invalid_quantity", http.StatusUnprocessableEntity},
	{service.ErrInvalidReleaseMode, "invalid_release_mode", http.StatusUnprocessableEntity},
	{service.ErrInvalidRequester, "invalid_requester", http.StatusUnprocessableEntity},
	{service.ErrDuplicateInventory, "duplicate_inventory", http.StatusConflict},
	{service.ErrInsufficientStock, "insufficient_stock", http.StatusConflict},
	{service.ErrInventoryInvariantViolation, "inventory_invariant_violation", http.StatusConflict},
}

// writeServiceError пишет ошибку service слоя. Неизвестные ошибки отдаются как 500 без деталей.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			writeError(w, k.status, k.kind, err.Error())
			return
		}
	}

	logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
