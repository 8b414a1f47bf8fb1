package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hospital-supply/replenishment-service/pkg/contracts"
	"github.com/hospital-supply/replenishment-service/pkg/events"
	"github.com/hospital-supply/replenishment-service/pkg/idempotency"
	"github.com/hospital-supply/replenishment-service/pkg/kafka"
	"github.com/hospital-supply/replenishment-service/pkg/logging"
	"github.com/hospital-supply/replenishment-service/pkg/metrics"
	"github.com/hospital-supply/replenishment-service/pkg/middleware"
	"github.com/hospital-supply/replenishment-service/pkg/mongodb"
	"github.com/hospital-supply/replenishment-service/pkg/outbox"
	"github.com/hospital-supply/replenishment-service/pkg/tracing"

	"github.com/hospital-supply/replenishment-service/internal/api/handlers"
	"github.com/hospital-supply/replenishment-service/internal/application"
	"github.com/hospital-supply/replenishment-service/internal/domain"
	mongoRepo "github.com/hospital-supply/replenishment-service/internal/infrastructure/mongodb"
)

const serviceName = "replenishment-api"

func main() {
	// Setup enhanced logger
	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.LogLevel(getEnv("LOG_LEVEL", "info"))
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting replenishment API")

	// Load configuration
	config := loadConfig()
	ctx := context.Background()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	tracingConfig.Environment = getEnv("ENVIRONMENT", "development")
	tracingConfig.Enabled = getEnv("TRACING_ENABLED", "true") == "true"

	tracerProvider, err := tracing.Initialize(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		// Continue without tracing - don't exit
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "endpoint", tracingConfig.OTLPEndpoint)
	}

	// Initialize Prometheus metrics
	metricsConfig := metrics.DefaultConfig(serviceName)
	m := metrics.New(metricsConfig)
	logger.Info("Metrics initialized")

	// Load replenishment policy
	policy := domain.DefaultPolicy()
	if config.PolicyFile != "" {
		loaded, err := domain.LoadPolicy(config.PolicyFile)
		if err != nil {
			logger.WithError(err).Error("Failed to load policy file, using defaults", "path", config.PolicyFile)
		} else {
			policy = loaded
		}
	}
	logger.Info("Replenishment policy loaded",
		"urgentBelowDays", policy.UrgentBelowDays,
		"triggerBelowDays", policy.TriggerBelowDays,
		"restockTargetDays", policy.RestockTargetDays,
	)

	// Initialize MongoDB with instrumentation and circuit breaker
	mongoClient, err := mongodb.NewProductionClient(ctx, config.MongoDB, m, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	defer mongoClient.Close(ctx)
	logger.Info("Connected to MongoDB", "database", config.MongoDB.Database)

	// Idempotency key store for client retries
	if err := idempotency.InitializeKeyIndexes(ctx, mongoClient.Database()); err != nil {
		logger.WithError(err).Error("Failed to initialize idempotency key indexes")
	}
	keyRepo := idempotency.NewMongoKeyRepository(mongoClient.Database())
	idempotencyConfig := idempotency.DefaultConfig(serviceName, keyRepo)
	idempotencyConfig.Metrics = idempotency.NewMetrics(m.Registry())

	// Initialize Kafka producer with circuit breaker and instrumentation
	producer := kafka.NewProductionProducer(config.Kafka, m, logger)
	defer producer.Close()
	logger.Info("Kafka producer initialized", "brokers", config.Kafka.Brokers)

	// Initialize CloudEvents factory
	eventFactory := events.NewEventFactory(events.SourceReplenishment)

	// Initialize decision ledger backed by MongoDB
	ledger := mongoRepo.NewLedgerRepository(mongoClient.Database(), eventFactory)

	// Initialize and start outbox publisher for order commands
	outboxPublisher := outbox.NewPublisher(
		ledger.GetOutboxRepository(),
		producer,
		logger,
		m,
		&outbox.PublisherConfig{
			PollInterval: 1 * time.Second,
			BatchSize:    100,
		},
	)
	if err := outboxPublisher.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start outbox publisher")
		os.Exit(1)
	}
	defer outboxPublisher.Stop()
	logger.Info("Outbox publisher started")

	// Initialize event schema validator for outbound commands
	commandSchemas, err := contracts.NewEventValidator()
	if err != nil {
		logger.WithError(err).Error("Failed to compile event schemas")
		os.Exit(1)
	}

	// Initialize business metrics helper
	businessMetrics := middleware.NewBusinessMetrics(m)

	// Initialize decision pipeline
	engine := domain.NewDecisionEngine(policy)
	pipeline := application.NewPipeline(
		application.NewReportValidator(),
		engine,
		ledger,
		commandSchemas,
		logger,
		businessMetrics,
	)
	batch := application.NewBatchProcessor(pipeline, config.BatchWorkers, logger)

	// Setup Gin router with middleware
	router := gin.New()

	// Apply standard middleware (includes recovery, request ID, correlation, logging, error handling)
	middlewareConfig := middleware.DefaultConfig(serviceName, logger.Logger)
	middleware.Setup(router, middlewareConfig)

	// Add metrics middleware
	router.Use(middleware.MetricsMiddleware(m))

	// Add tracing middleware
	router.Use(middleware.SimpleTracingMiddleware(serviceName))

	// Extract CloudEvents correlation headers
	router.Use(middleware.CloudEvents())

	// Handle 404 and 405 errors
	router.NoRoute(middleware.NoRoute())
	router.NoMethod(middleware.NoMethod())

	// Health check endpoints
	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, func() error {
		return mongoClient.HealthCheck(ctx)
	}))

	// Metrics endpoint
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	// API v1 routes with Idempotency-Key support on mutating requests
	v1 := router.Group("/api/v1")
	v1.Use(idempotency.Middleware(idempotencyConfig))
	reportHandlers := handlers.NewReportHandlers(pipeline, batch, ledger, logger)
	reportHandlers.RegisterRoutes(v1)

	// Start server
	srv := &http.Server{
		Addr:         config.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server error")
		}
	}()
	logger.Info("Server started", "addr", config.ServerAddr)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

// Config holds application configuration
type Config struct {
	ServerAddr   string
	PolicyFile   string
	BatchWorkers int
	MongoDB      *mongodb.Config
	Kafka        *kafka.Config
}

func loadConfig() *Config {
	workers := application.DefaultBatchWorkers
	if raw := os.Getenv("BATCH_WORKERS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			workers = parsed
		}
	}

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		PolicyFile:   getEnv("POLICY_FILE", ""),
		BatchWorkers: workers,
		MongoDB: &mongodb.Config{
			URI:            getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:       getEnv("MONGODB_DATABASE", "hsc_supply"),
			ConnectTimeout: 10 * time.Second,
			MaxPoolSize:    100,
			MinPoolSize:    10,
		},
		Kafka: &kafka.Config{
			Brokers:       []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			ConsumerGroup: serviceName,
			ClientID:      serviceName,
			BatchSize:     100,
			BatchTimeout:  10 * time.Millisecond,
			RequiredAcks:  -1,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
