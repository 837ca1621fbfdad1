package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/mimo-inventory/internal/api/http/middleware"
	"github.com/shestoi/mimo-inventory/internal/catalog"
	"github.com/shestoi/mimo-inventory/internal/repository/memory"
	"github.com/shestoi/mimo-inventory/internal/service"
	"github.com/shestoi/mimo-inventory/internal/session"
)

type stubResolver map[string]string

func (s stubResolver) UserIDBySession(_ context.Context, sid string) (string, error) {
	uid, ok := s[sid]
	if !ok {
		return "", session.ErrSessionNotFound
	}
	return uid, nil
}

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := memory.NewMemoryRepository()
	lookup := catalog.NewMemoryLookup()
	lookup.AddProduct(catalog.Product{ID: "mug", Name: "Mug"})
	lookup.AddProduct(catalog.Product{ID: "shirt", Name: "T-Shirt", HasVariants: true})
	lookup.AddVariant(catalog.Variant{ID: "shirt-m", ProductID: "shirt", Name: "M", SKU: "TS-M"})

	svc := service.NewInventoryService(repo, repo, lookup, nil, zap.NewNop(), service.Options{LowStockThreshold: -1})
	handler := NewHandler(svc, 5, zap.NewNop())
	resolver := stubResolver{"sid-alice": "alice", "sid-bob": "bob", "sid-admin": "admin"}

	return &testServer{t: t, router: NewRouter(handler, resolver, nil, nil)}
}

func (s *testServer) do(method, path, sessionID string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if sessionID != "" {
		req.Header.Set(middleware.SessionIDHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (s *testServer) createInventory(productID, variantID string, quantity int32) InventoryResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/inventories", "sid-admin", map[string]interface{}{
		"product_id":   productID,
		"variant_id":   variantID,
		"warehouse_id": "main",
		"quantity":     quantity,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[InventoryResponse](s.t, rec)
}

func TestHandler_ReservationLifecycle(t *testing.T) {
	s := newTestServer(t)
	inv := s.createInventory("mug", "", 10)
	assert.Equal(t, "admin", inv.LastUpdatedBy)

	rec := s.do(http.MethodPut, "/inventories/"+inv.ID+"/reservation", "sid-alice", map[string]int32{"quantity": 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ReservationResponse](t, rec)
	assert.Equal(t, "alice", res.RequesterID)
	assert.Equal(t, int32(10), res.Quantity)

	rec = s.do(http.MethodPut, "/inventories/"+inv.ID+"/reservation", "sid-bob", map[string]int32{"quantity": 1})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/inventories/"+inv.ID+"/reservations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ReservationResponse](t, rec), 1)

	rec = s.do(http.MethodDelete, "/inventories/"+inv.ID+"/reservation?mode=finalize", "sid-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	after := decode[InventoryResponse](t, rec)
	assert.Equal(t, int32(0), after.Quantity)
	assert.Equal(t, int32(0), after.ReservedQuantity)

	rec = s.do(http.MethodDelete, "/inventories/"+inv.ID+"/reservation", "sid-alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "reservation_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestHandler_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	inv := s.createInventory("mug", "", 3)

	tests := []struct {
		name       string
		method     string
		path       string
		sessionID  string
		body       interface{}
		wantStatus int
		wantKind   string
	}{
		{
			name: "missing variant", method: http.MethodPost, path: "/inventories", sessionID: "sid-admin",
			body:       map[string]interface{}{"product_id": "shirt", "quantity": 1},
			wantStatus: http.StatusUnprocessableEntity, wantKind: "variant_required",
		},
		{
			name: "unexpected variant", method: http.MethodPost, path: "/inventories", sessionID: "sid-admin",
			body:       map[string]interface{}{"product_id": "mug", "variant_id": "shirt-m", "quantity": 1},
			wantStatus: http.StatusUnprocessableEntity, wantKind: "unexpected_variant",
		},
		{
			name: "duplicate", method: http.MethodPost, path: "/inventories", sessionID: "sid-admin",
			body:       map[string]interface{}{"product_id": "mug", "warehouse_id": "main", "quantity": 1},
			wantStatus: http.StatusConflict, wantKind: "duplicate_inventory",
		},
		{
			name: "unknown product", method: http.MethodPost, path: "/inventories", sessionID: "sid-admin",
			body:       map[string]interface{}{"product_id": "ghost", "quantity": 1},
			wantStatus: http.StatusNotFound, wantKind: "product_not_found",
		},
		{
			name: "unknown inventory", method: http.MethodGet, path: "/inventories/missing",
			wantStatus: http.StatusNotFound, wantKind: "inventory_not_found",
		},
		{
			name: "zero hold", method: http.MethodPut, path: "/inventories/" + inv.ID + "/reservation", sessionID: "sid-alice",
			body:       map[string]int32{"quantity": 0},
			wantStatus: http.StatusUnprocessableEntity, wantKind: "invalid_quantity",
		},
		{
			name: "bad release mode", method: http.MethodDelete, path: "/inventories/" + inv.ID + "/reservation?mode=refund", sessionID: "sid-alice",
			wantStatus: http.StatusUnprocessableEntity, wantKind: "invalid_release_mode",
		},
		{
			name: "restock below reserved is fine when nothing is reserved", method: http.MethodPut, path: "/inventories/" + inv.ID, sessionID: "sid-admin",
			body:       map[string]int32{"quantity": 1},
			wantStatus: http.StatusOK,
		},
		{
			name: "no session", method: http.MethodPut, path: "/inventories/" + inv.ID + "/reservation",
			body:       map[string]int32{"quantity": 1},
			wantStatus: http.StatusUnauthorized, wantKind: "unauthenticated",
		},
		{
			name: "unknown session", method: http.MethodPut, path: "/inventories/" + inv.ID + "/reservation", sessionID: "sid-eve",
			body:       map[string]int32{"quantity": 1},
			wantStatus: http.StatusUnauthorized, wantKind: "unauthenticated",
		},
		{
			name: "malformed threshold", method: http.MethodGet, path: "/inventories/low?threshold=abc",
			wantStatus: http.StatusBadRequest, wantKind: "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.sessionID, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, decode[ErrorResponse](t, rec).Error)
			}
		})
	}
}

func TestHandler_Queries(t *testing.T) {
	s := newTestServer(t)
	shirt := s.createInventory("shirt", "shirt-m", 4)
	s.createInventory("mug", "", 30)

	rec := s.do(http.MethodGet, "/inventories/lookup?product_id=shirt&variant_id=shirt-m", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, shirt.ID, decode[InventoryResponse](t, rec).ID)

	// порог по умолчанию из конфигурации = 5
	rec = s.do(http.MethodGet, "/inventories/low", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	low := decode[[]InventoryResponse](t, rec)
	require.Len(t, low, 1)
	assert.Equal(t, shirt.ID, low[0].ID)

	rec = s.do(http.MethodGet, "/inventories/low?threshold=100", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]InventoryResponse](t, rec), 2)

	rec = s.do(http.MethodGet, "/inventories", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[[]InventoryDetailsResponse](t, rec)
	require.Len(t, details, 2)
	for _, d := range details {
		require.NotNil(t, d.Product)
		if d.ProductID == "shirt" {
			require.NotNil(t, d.Variant)
			assert.Equal(t, "TS-M", d.Variant.SKU)
		}
	}

	rec = s.do(http.MethodGet, "/inventories/"+shirt.ID+"/availability?quantity=3", "sid-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[AvailabilityResponse](t, rec).OK)

	rec = s.do(http.MethodGet, "/inventories/"+shirt.ID+"/availability?quantity=5", "sid-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[AvailabilityResponse](t, rec).OK)

	rec = s.do(http.MethodGet, "/catalog/validate?product_id=shirt&variant_id=shirt-m", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[ValidationResponse](t, rec)
	assert.Equal(t, "shirt", v.Product.ID)
	require.NotNil(t, v.Variant)

	rec = s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
