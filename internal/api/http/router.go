package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/mimo-inventory/platform/health/http"
	platformobservability "github.com/shestoi/mimo-inventory/platform/observability"

	"github.com/shestoi/mimo-inventory/internal/api/http/middleware"
	"github.com/shestoi/mimo-inventory/internal/session"
)

// NewRouter создаёт и настраивает HTTP роутер Inventory Service.
// checks - проверки зависимостей для /health (ping Mongo, Redis), при ошибке любой из них /health отвечает 503.
// Мутирующие маршруты и маршруты, привязанные к покупателю, требуют x-session-id.
func NewRouter(handler *Handler, resolver session.Resolver, checks map[string]platformhealth.Check, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Observability: trace context + span на каждый запрос, logger с trace_id в контексте
	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("inventory", logger))
	} else {
		logger = zap.NewNop()
	}

	withID := func(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			fn(w, r, chi.URLParam(r, "id"))
		}
	}

	router.Route("/inventories", func(r chi.Router) {
		r.Get("/", handler.GetInventories)
		r.Get("/low", handler.GetLowInventories)
		r.Get("/lookup", handler.GetInventoryLookup)
		r.Get("/{id}", withID(handler.GetInventory))
		r.Get("/{id}/reservations", withID(handler.GetReservations))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(resolver, logger))
			r.Post("/", handler.PostInventories)
			r.Put("/{id}", withID(handler.PutInventory))
			r.Get("/{id}/availability", withID(handler.GetAvailability))
			r.Put("/{id}/reservation", withID(handler.PutReservation))
			r.Delete("/{id}/reservation", withID(handler.DeleteReservation))
		})
	})

	router.Get("/catalog/validate", handler.GetCatalogValidate)

	// Health без middleware (не требует сессии)
	router.Get("/health", platformhealth.Handler(checks))

	return router
}
