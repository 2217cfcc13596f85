package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"motoshop-payments/cache"
	"motoshop-payments/config"
	"motoshop-payments/database"
	"motoshop-payments/handlers"
	"motoshop-payments/kafka"
	"motoshop-payments/middleware"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	// Initialize database
	db, err := database.InitDB(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis cache
	redisClient, err := cache.InitRedis(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(cfg.KafkaBroker, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing("payments-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("payments-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	checkoutHandler := handlers.NewCheckoutHandler(db, cfg.PayU, logger)
	confirmationHandler := handlers.NewConfirmationHandler(db, cfg.PayU, producer, redisClient, cfg.KafkaTopic, logger)
	responseHandler := handlers.NewResponseHandler(logger)
	transactionHandler := handlers.NewTransactionHandler(db, logger)

	auth := middleware.AuthMiddleware(cfg.JWTSecret)

	// The confirmation endpoint is unauthenticated by design: the gateway
	// proves itself with the payload signature, nothing else.
	router.POST("/payment/confirmation/", confirmationHandler.Confirm)
	router.GET("/payment/response/", responseHandler.Response)
	router.POST("/payment/response/", responseHandler.Response)
	router.GET("/payment/checkout/:id", auth, checkoutHandler.Checkout)
	router.GET("/payment/transactions/:id", auth, transactionHandler.ListByOrder)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Payments service started", zap.String("addr", cfg.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	logger.Info("Server exited")
}
