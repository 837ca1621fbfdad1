package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	platformobservability "github.com/shestoi/mimo-inventory/platform/observability"

	"github.com/shestoi/mimo-inventory/internal/authctx"
	"github.com/shestoi/mimo-inventory/internal/session"
)

// SessionIDHeader - заголовок с id сессии IAM
const SessionIDHeader = "x-session-id"

// RequireSession - HTTP middleware: читает заголовок x-session-id, резолвит его в user_id
// и кладёт оба значения в context. Нет заголовка или сессия не найдена - 401.
func RequireSession(resolver session.Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := platformobservability.L(ctx, logger)

			sid := r.Header.Get(SessionIDHeader)
			if sid == "" {
				log.Warn("session_id not found in headers", zap.String("path", r.URL.Path))
				writeUnauthorized(w, "session_id is required")
				return
			}

			userID, err := resolver.UserIDBySession(ctx, sid)
			if err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					log.Warn("invalid session", zap.String("path", r.URL.Path))
					writeUnauthorized(w, "invalid session")
					return
				}
				log.Error("session validation failed", zap.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "session_unavailable", "message": "session store unavailable"})
				return
			}

			ctx = authctx.WithSessionID(ctx, sid)
			ctx = authctx.WithUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated", "message": message})
}
