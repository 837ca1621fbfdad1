package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	platformgrpchealth "github.com/shestoi/mimo-inventory/platform/health/grpc"
	platformhttphealth "github.com/shestoi/mimo-inventory/platform/health/http"
	platformlogging "github.com/shestoi/mimo-inventory/platform/logging"
	platformobservability "github.com/shestoi/mimo-inventory/platform/observability"
	platformshutdown "github.com/shestoi/mimo-inventory/platform/shutdown"

	httpapi "github.com/shestoi/mimo-inventory/internal/api/http"
	"github.com/shestoi/mimo-inventory/internal/catalog"
	"github.com/shestoi/mimo-inventory/internal/config"
	"github.com/shestoi/mimo-inventory/internal/event/idempotency"
	kafkaevent "github.com/shestoi/mimo-inventory/internal/event/kafka"
	mongorepo "github.com/shestoi/mimo-inventory/internal/repository/mongo"
	"github.com/shestoi/mimo-inventory/internal/service"
	"github.com/shestoi/mimo-inventory/internal/session"
)

const (
	serviceName    = "inventory"
	connectTimeout = 10 * time.Second
)

// App содержит все зависимости для запуска и корректного shutdown Inventory Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	grpcServer  *grpc.Server
	listener    net.Listener
	consumer    *kafkaevent.OrderEventConsumer
	shutdownMgr *platformshutdown.Manager

	// stop отменяет фоновые горутины (consumer) и будит shutdownMgr при падении сервера
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// Build создаёт и настраивает все зависимости Inventory Service.
// При ошибке уже открытые ресурсы закрываются в обратном порядке.
func Build(cfg config.Config) (_ *App, err error) {
	const op = "app.Build"

	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: serviceName,
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	cfg.Log(logger)
	logger = logger.With(zap.String("op", op))

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)
	defer func() {
		if err != nil {
			shutdownMgr.Shutdown()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	otelShutdown, err := platformobservability.Init(ctx, platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           serviceName,
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: observability: %w", op, err)
	}
	shutdownMgr.Add("otel", otelShutdown)

	health := platformgrpchealth.New(grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// MongoDB: остатки, резервы и справочник каталога
	logger.Info("Connecting to MongoDB")
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("%s: mongo connect: %w", op, err)
	}
	shutdownMgr.Add("mongodb", platformshutdown.DisconnectMongo(mongoClient))
	if err = mongoClient.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: mongo ping: %w", op, err)
	}

	inventoryRepo := mongorepo.NewRepository(mongoClient, cfg.MongoDBName)
	if err = inventoryRepo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: mongo indexes: %w", op, err)
	}
	logger.Info("MongoDB connection established")

	// Redis: сессии, кэш каталога, обработанные event_id.
	// Недоступный Redis не мешает старту: кэш деградирует до Mongo, сессии отдают 503.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	shutdownMgr.Add("redis", platformshutdown.Close(redisClient))
	if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
		logger.Warn("Redis is not reachable at startup", zap.Error(pingErr))
	}

	lookup := catalog.NewCachedLookup(
		catalog.NewMongoLookup(mongoClient.Database(cfg.MongoDBName)),
		redisClient, cfg.CatalogCacheTTL, logger,
	)

	var publisher service.EventPublisher = service.NoopPublisher{}
	if cfg.Kafka.Enabled {
		stockPublisher := kafkaevent.NewStockEventPublisher(logger, cfg.Kafka.Brokers, cfg.Kafka.StockTopic)
		shutdownMgr.Add("kafka_publisher", platformshutdown.Close(stockPublisher))
		publisher = stockPublisher
		logger.Info("Kafka stock publisher enabled", zap.String("topic", cfg.Kafka.StockTopic))
	}

	inventoryService := service.NewInventoryService(inventoryRepo, inventoryRepo, lookup, publisher, logger, service.Options{
		MaxRetries:        cfg.ReservationMaxRetries,
		LowStockThreshold: cfg.LowStockThreshold,
	})

	var consumer *kafkaevent.OrderEventConsumer
	if cfg.Kafka.Enabled {
		consumer = kafkaevent.NewOrderEventConsumer(logger, cfg.Kafka, inventoryService, idempotency.NewRedisStore(redisClient))
		shutdownMgr.Add("kafka_consumer", platformshutdown.Close(consumer))
		logger.Info("Kafka order consumer enabled",
			zap.String("topic", cfg.Kafka.OrderTopic),
			zap.String("group", cfg.Kafka.ConsumerGroup))
	}

	// HTTP API
	checks := map[string]platformhttphealth.Check{
		"mongo": func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) },
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"grpc_health": func(ctx context.Context) error {
			if !health.Serving(ctx) {
				return errors.New("not serving")
			}
			return nil
		},
	}
	handler := httpapi.NewHandler(inventoryService, cfg.LowStockThreshold, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handler, session.NewRedisResolver(redisClient, logger), checks, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC только для health и reflection
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("%s: grpc listen: %w", op, err)
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(platformobservability.GRPCUnaryServerInterceptor(serviceName)),
	)
	if cfg.EnableGRPCReflection {
		reflection.Register(grpcServer)
		logger.Info("gRPC reflection enabled")
	}
	health.Register(grpcServer)

	// Остановка идёт в обратном порядке: health, HTTP, gRPC, затем Kafka, Redis и Mongo
	shutdownMgr.Add("grpc_server", platformshutdown.ShutdownGRPCServer(grpcServer))
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))
	shutdownMgr.Add("health_readiness", platformshutdown.SetHealthNotServing(health))

	health.SetServing("")
	logger.Info("Readiness status set to SERVING")

	appCtx, stop := context.WithCancel(context.Background())
	// consumer должен остановить FetchMessage раньше, чем закроется reader и Mongo
	shutdownMgr.Add("background", func(context.Context) error {
		stop()
		return nil
	})

	return &App{
		logger:      logger,
		httpServer:  httpServer,
		grpcServer:  grpcServer,
		listener:    listener,
		consumer:    consumer,
		shutdownMgr: shutdownMgr,
		ctx:         appCtx,
		stop:        stop,
	}, nil
}

// Run запускает HTTP, gRPC и consumer и блокируется до сигнала shutdown
// или до падения одного из серверов.
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting Inventory service",
		zap.String("http_addr", a.httpServer.Addr),
		zap.String("grpc_addr", a.listener.Addr().String()))

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.grpcServer.Serve(a.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.logger.Error("gRPC server error", zap.Error(err))
			a.stop()
		}
	}()
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
			a.stop()
		}
	}()

	if a.consumer != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.consumer.Start(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("order consumer stopped", zap.Error(err))
			}
		}()
	}

	a.shutdownMgr.WaitContext(a.ctx)

	a.wg.Wait()
	a.logger.Info("Inventory service stopped")
	return nil
}
