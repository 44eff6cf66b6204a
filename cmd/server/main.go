package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/order-reconciler/internal/adapter/gateway"
	"github.com/rl1809/order-reconciler/internal/adapter/handler"
	"github.com/rl1809/order-reconciler/internal/adapter/messaging"
	"github.com/rl1809/order-reconciler/internal/adapter/storage"
	"github.com/rl1809/order-reconciler/internal/config"
	"github.com/rl1809/order-reconciler/internal/core/service"
	"github.com/rl1809/order-reconciler/internal/core/signature"
	"github.com/rl1809/order-reconciler/internal/port"
	"github.com/rl1809/order-reconciler/internal/telemetry"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if missing := cfg.MissingSecrets(); len(missing) > 0 {
		logger.Warn("payment gateway secrets not set, affected requests will fail",
			zap.Strings("missing", missing))
	}

	shutdownTracing, err := telemetry.InitTracing(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	if err := storage.Migrate(ctx, db); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Redis is optional; without it duplicate webhooks are absorbed by the
	// conditional update alone.
	var cache port.CacheRepository
	var redisAdapter *storage.RedisAdapter
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, webhook dedupe disabled", zap.Error(err))
		rdb.Close()
		rdb = nil
	} else {
		redisAdapter = storage.NewRedisAdapter(rdb, cfg.DedupeTTL)
		cache = redisAdapter
		logger.Info("connected to redis")
	}

	// Event publisher
	var publisher port.EventPublisher
	var kafkaPublisher *messaging.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := messaging.NewSyncProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		kafkaPublisher = messaging.NewKafkaPublisher(producer, cfg.KafkaTopic, logger)
		publisher = kafkaPublisher
		logger.Info("publishing order events to kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	} else {
		publisher = messaging.NewLogPublisher(logger)
		logger.Info("no kafka brokers configured, logging order events")
	}

	// Gateway
	var paymentGateway port.PaymentGateway
	client, err := gateway.NewRazorpayClient(gateway.Config{
		BaseURL:      cfg.GatewayBaseURL,
		KeyID:        cfg.KeyID,
		KeySecret:    cfg.KeySecret,
		Timeout:      cfg.GatewayTimeout,
		MaxFailures:  cfg.BreakerFailures,
		ResetTimeout: cfg.BreakerReset,
	}, logger)
	if err != nil {
		paymentGateway = gateway.Unconfigured{Err: err}
	} else {
		paymentGateway = client
	}

	// Services
	mysqlAdapter := storage.NewMySQLAdapter(db)
	verifier := signature.NewVerifier(cfg.KeySecret, cfg.WebhookSecret)
	notifier := service.NewNotifier(cfg.QueueSize, logger)

	orderService := service.NewOrderService(
		verifier,
		paymentGateway,
		mysqlAdapter,
		service.NewNormalizer(cfg.DefaultCountry),
		service.NewValidator(cfg.AmountTolerance),
		notifier,
		logger,
	)
	webhookService := service.NewWebhookService(verifier, mysqlAdapter, cache, notifier, logger)

	// Worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			service.WorkerLoop(id, notifier.GetEventQueue(), publisher, logger)
		}(i)
	}
	logger.Info("started event workers", zap.Int("count", cfg.WorkerCount))

	// gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	handler.RegisterPaymentServiceServer(grpcServer, handler.NewGRPCHandler(orderService, logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP server
	checks := map[string]handler.HealthCheck{
		"mysql": db.PingContext,
	}
	if redisAdapter != nil {
		checks["redis"] = redisAdapter.Ping
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(handler.Recovery(logger))
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(handler.RequestID())
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.MetricsMiddleware())

	router.GET("/metrics", handler.PrometheusHandler())
	handler.NewHTTPHandler(orderService, webhookService, checks, logger).Register(router)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadWriteTimeout,
		WriteTimeout: cfg.ReadWriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Drain queued events before closing the publisher
	notifier.Close()
	wg.Wait()
	logger.Info("workers stopped")

	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("failed to close kafka producer", zap.Error(err))
		}
	}
	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	logger.Info("connections closed")
}
