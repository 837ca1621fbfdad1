package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Check проверяет одну зависимость (Mongo, Redis и т.д.). nil означает, что зависимость доступна.
type Check func(ctx context.Context) error

// Response - тело ответа /health
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

const checkTimeout = 2 * time.Second

// Handler возвращает HTTP handler для /health.
// Все проверки выполняются с общим таймаутом; если хотя бы одна вернула ошибку, ответ 503.
// Без проверок handler всегда отвечает 200 {"status":"ok"}.
func Handler(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		resp := Response{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "not ready"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
