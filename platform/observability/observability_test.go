package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestHTTPMiddleware_SpanPerRoute(t *testing.T) {
	sr := withRecorder(t)

	core, logs := observer.New(zap.InfoLevel)
	router := chi.NewRouter()
	router.Use(HTTPMiddleware("inventory", zap.New(core)))
	router.Route("/inventories", func(r chi.Router) {
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			l := LoggerFromContext(r.Context())
			require.NotNil(t, l)
			l.Info("lookup")
			w.WriteHeader(http.StatusNotFound)
		})
		r.Put("/{id}/reservation", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventories/inv-42", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/inventories/inv-42/reservation", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	get := spans[0]
	assert.Equal(t, "HTTP GET /inventories/{id}", get.Name())
	code, ok := attrValue(get.Attributes(), "http.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusNotFound), code.AsInt64())
	// 4xx - ошибка клиента, span не помечается ошибкой
	assert.Equal(t, codes.Unset, get.Status().Code)

	put := spans[1]
	assert.Equal(t, "HTTP PUT /inventories/{id}/reservation", put.Name())
	assert.Equal(t, codes.Error, put.Status().Code)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, get.SpanContext().TraceID().String(), fields["trace_id"])
}

func TestHTTPMiddleware_PropagatesIncomingTrace(t *testing.T) {
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() { otel.SetTextMapPropagator(prevProp) })
	// Init с Enabled=false ставит noop provider и W3C propagator, provider подменяем recorder'ом
	_, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	sr := withRecorder(t)

	router := chi.NewRouter()
	router.Use(HTTPMiddleware("inventory", zap.NewNop()))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	router.ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
}

func TestGRPCUnaryServerInterceptor(t *testing.T) {
	sr := withRecorder(t)

	interceptor := GRPCUnaryServerInterceptor("inventory")
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{})

	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(grpccodes.NotFound, "unknown service")
	})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "/grpc.health.v1.Health/Check", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)

	svc, _ := attrValue(span.Attributes(), "rpc.service")
	assert.Equal(t, "grpc.health.v1.Health", svc.AsString())
	method, _ := attrValue(span.Attributes(), "rpc.method")
	assert.Equal(t, "Check", method.AsString())
	grpcCode, _ := attrValue(span.Attributes(), "rpc.grpc.status_code")
	assert.Equal(t, int64(grpccodes.NotFound), grpcCode.AsInt64())
}

func TestParseGRPCFullMethod(t *testing.T) {
	svc, method := parseGRPCFullMethod("/grpc.reflection.v1.ServerReflection/ServerReflectionInfo")
	assert.Equal(t, "grpc.reflection.v1.ServerReflection", svc)
	assert.Equal(t, "ServerReflectionInfo", method)

	svc, method = parseGRPCFullMethod("weird")
	assert.Equal(t, "weird", svc)
	assert.Equal(t, "weird", method)
}

func TestL_WithoutSpan(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, L(context.Background(), base))
	assert.Nil(t, TraceFields(context.Background()))
	assert.Nil(t, LoggerFromContext(context.Background()))
}
