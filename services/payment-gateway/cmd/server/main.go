// services/payment-gateway/cmd/server/main.go
// HTTP Server
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/audit"
	"globalpay/services/payment-gateway/internal/config"
	"globalpay/services/payment-gateway/internal/handler"
	"globalpay/services/payment-gateway/internal/metrics"
	"globalpay/services/payment-gateway/internal/models"
	"globalpay/services/payment-gateway/internal/publisher"
	"globalpay/services/payment-gateway/internal/repository"
	"globalpay/services/payment-gateway/internal/service"
	"globalpay/services/payment-gateway/internal/tradecrypto"
	"globalpay/services/payment-gateway/internal/traderef"
	"globalpay/shared/pkg/cache"
	"globalpay/shared/pkg/database"
	"globalpay/shared/pkg/logger"
	"globalpay/shared/pkg/middleware"
	"globalpay/shared/pkg/redis"
)

const serviceName = "payment-gateway"

// kvStore is the replay and redirect store plus its shutdown hook.
type kvStore interface {
	service.KeyValueStore
	Close() error
}

type eventPublisher interface {
	service.EventPublisher
	Close() error
}

type receiptArchive interface {
	service.ReceiptRecorder
	handler.ReceiptLister
	Close(ctx context.Context) error
}

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(serviceName, cfg.App.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gatewayEnv, err := cfg.ActiveEnvironment()
	if err != nil {
		log.Fatal("invalid gateway configuration", zap.String("mode", cfg.Gateway.Mode), zap.Error(err))
	}
	log.Info("gateway environment selected",
		zap.String("mode", gatewayEnv.Name),
		zap.String("merchant_id", logger.Redact(gatewayEnv.MerchantID)),
		zap.String("checkout_url", gatewayEnv.CheckoutURL))

	ctx := context.Background()

	// Initialize database
	db, err := database.NewPostgresDB(ctx, cfg.DB.URL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx, models.TransactionSchema, models.ConflictSchema); err != nil {
		log.Fatal("failed to apply schema", zap.Error(err))
	}

	kv := newKVStore(ctx, cfg.Redis, log)
	defer kv.Close()

	events := newPublisher(cfg.Kafka, log)
	defer events.Close()

	receipts := newReceiptArchive(ctx, cfg.Mongo, log)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = receipts.Close(closeCtx)
	}()

	metrics.RegisterMetrics(prometheus.DefaultRegisterer)

	// Initialize codecs
	codec, err := tradecrypto.NewCodec(gatewayEnv)
	if err != nil {
		log.Fatal("invalid gateway credentials", zap.String("mode", gatewayEnv.Name), zap.Error(err))
	}
	refs := traderef.NewCodec(traderef.WithLegacyHook(metrics.LegacyTradeReferences.Inc))

	// Initialize repositories
	txnRepo := repository.NewTransactionRepository(db.DB)
	conflictRepo := repository.NewConflictRepository(db.DB)

	// Initialize services
	reconciler := service.NewReconciler(txnRepo, refs, conflictRepo, events, service.Topics{
		Confirmed: cfg.Kafka.TopicConfirmed,
		Conflicts: cfg.Kafka.TopicConflicts,
	}, cfg.Gateway.AmountDivisor, log)

	initiator := service.NewInitiator(service.InitiatorConfig{
		Environment:   gatewayEnv,
		Version:       cfg.Gateway.Version,
		AmountDivisor: cfg.Gateway.AmountDivisor,
		RedirectTTL:   cfg.Gateway.RedirectTTL,
		ExpiryDays:    cfg.Gateway.PaymentExpiryDays,
		PublicBaseURL: cfg.App.PublicBaseURL,
	}, codec, refs, txnRepo, kv, log)

	notify := service.NewNotifyChannel(codec, reconciler, kv, cfg.Gateway.ReplayTTL, receipts, log)
	returns := service.NewReturnChannel(codec, reconciler, receipts, cfg.App.ReceiptBaseURL, cfg.App.StatusPageURL, log)
	refunds := service.NewRefundIssuer(service.RefundConfig{
		Environment:   gatewayEnv,
		AmountDivisor: cfg.Gateway.AmountDivisor,
		Timeout:       cfg.Gateway.HTTPTimeout,
	}, codec, nil, log)

	// Initialize handlers
	base := strings.TrimRight(cfg.App.PublicBaseURL, "/")
	gatewayHandler := handler.NewGatewayHandler(initiator, notify, returns, refunds, txnRepo, conflictRepo, receipts, handler.CallbackURLs{
		Notify: base + "/api/v1/gateway/notify",
		Return: base + "/checkout/return",
	}, log)

	// Setup router
	router := setupRouter(gatewayHandler, db, cfg, log)

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("starting server", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

func setupRouter(h *handler.GatewayHandler, db *database.PostgresDB, cfg *config.Config, log *zap.Logger) *gin.Engine {
	if cfg.App.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.App.AllowedOrigins))

	// Health checks
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		stats := db.Health(c.Request.Context())
		if stats["status"] != "up" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "database": stats})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "database": stats})
	})

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.Register(router)

	return router
}

// newKVStore uses Redis when configured. Without it redirects and replay
// markers live in process memory, which only suits a single instance.
func newKVStore(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) kvStore {
	if cfg.URL == "" {
		log.Warn("REDIS_URL not set, using in-memory store")
		mem := cache.NewMemoryStore()
		go sweepExpired(mem, time.Minute)
		return mem
	}

	client := redis.NewRedisClient(cfg.URL, cfg.Password, cfg.DB)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		log.Fatal("failed to connect to redis", zap.String("addr", cfg.URL), zap.Error(err))
	}
	return client
}

func sweepExpired(mem *cache.MemoryStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		mem.Sweep()
	}
}

func newPublisher(cfg config.KafkaConfig, log *zap.Logger) eventPublisher {
	if len(cfg.Brokers) == 0 {
		log.Info("KAFKA_BROKERS not set, settlement events are not published")
		return publisher.NopPublisher{}
	}
	return publisher.NewKafkaPublisher(cfg.Brokers, []string{cfg.TopicConfirmed, cfg.TopicConflicts}, publisher.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		Jitter:      true,
	}, log)
}

func newReceiptArchive(ctx context.Context, cfg config.MongoConfig, log *zap.Logger) receiptArchive {
	if cfg.URI == "" {
		return audit.NopRecorder{}
	}
	rec, err := audit.NewMongoRecorder(ctx, cfg.URI, cfg.Database, cfg.Collection)
	if err != nil {
		log.Fatal("failed to connect to mongo", zap.Error(err))
	}
	return rec
}
