package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Health - обёртка над стандартным gRPC health service.
// Inventory поднимает gRPC сервер только ради health и reflection, бизнес-API живёт в HTTP.
type Health struct {
	srv *health.Server
}

// New создаёт Health с начальным статусом для всего сервера.
// Для readiness стоит начинать с NOT_SERVING и переключаться после ping зависимостей.
func New(initialStatus grpc_health_v1.HealthCheckResponse_ServingStatus) *Health {
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", initialStatus)
	return &Health{srv: healthServer}
}

// Register регистрирует health service на gRPC сервере. Вызывать до Serve.
func (h *Health) Register(grpcSrv *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcSrv, h.srv)
}

// SetServing переключает сервис в SERVING. Пустое имя означает весь сервер.
func (h *Health) SetServing(serviceName string) {
	h.srv.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
}

// SetNotServing переключает сервис в NOT_SERVING (graceful shutdown, потеря Mongo).
func (h *Health) SetNotServing(serviceName string) {
	h.srv.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Status возвращает текущий статус сервиса так же, как его увидит gRPC клиент.
func (h *Health) Status(ctx context.Context, serviceName string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.srv.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serving сообщает, находится ли весь сервер в SERVING. Используется HTTP /health.
func (h *Health) Serving(ctx context.Context) bool {
	st, err := h.Status(ctx, "")
	return err == nil && st == grpc_health_v1.HealthCheckResponse_SERVING
}
