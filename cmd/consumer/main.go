package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
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

	"github.com/hospital-supply/replenishment-service/internal/application"
	"github.com/hospital-supply/replenishment-service/internal/domain"
	mongoRepo "github.com/hospital-supply/replenishment-service/internal/infrastructure/mongodb"
	"github.com/hospital-supply/replenishment-service/internal/ingest"
)

const serviceName = "replenishment-consumer"

func main() {
	// Setup enhanced logger
	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.LogLevel(getEnv("LOG_LEVEL", "info"))
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting replenishment consumer")

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

	// Initialize MongoDB with instrumentation and circuit breaker
	mongoClient, err := mongodb.NewProductionClient(ctx, config.MongoDB, m, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	defer mongoClient.Close(ctx)
	logger.Info("Connected to MongoDB", "database", config.MongoDB.Database)

	// Message-level idempotency store
	if err := idempotency.InitializeMessageIndexes(ctx, mongoClient.Database()); err != nil {
		logger.WithError(err).Error("Failed to initialize processed message indexes")
	}
	messageRepo := idempotency.NewMongoMessageRepository(mongoClient.Database())
	dedupeConfig := idempotency.DefaultConsumerConfig(
		serviceName,
		kafka.Topics.InventoryEvents,
		config.Kafka.ConsumerGroup,
		messageRepo,
	)
	dedupeMetrics := idempotency.NewMetrics(m.Registry())

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

	// Initialize decision pipeline
	engine := domain.NewDecisionEngine(policy)
	pipeline := application.NewPipeline(
		application.NewReportValidator(),
		engine,
		ledger,
		commandSchemas,
		logger,
		middleware.NewBusinessMetrics(m),
	)

	// Initialize Kafka consumer and register the inventory handler
	consumer := kafka.NewProductionConsumer(config.Kafka, m, logger)
	defer consumer.Close()

	handler := ingest.NewInventoryEventHandler(pipeline, logger)
	handler.Register(consumer, dedupeConfig, dedupeMetrics)
	logger.Info("Subscribed to inventory events",
		"topic", kafka.Topics.InventoryEvents,
		"group", config.Kafka.ConsumerGroup,
	)

	// Start consumer in background
	consumeCtx, cancelConsume := context.WithCancel(ctx)
	defer cancelConsume()
	go func() {
		if err := consumer.Start(consumeCtx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("Consumer stopped with error")
		}
	}()
	logger.Info("Consumer started", "brokers", config.Kafka.Brokers)

	// Health and metrics endpoints
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, func() error {
		return mongoClient.HealthCheck(ctx)
	}))
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	srv := &http.Server{
		Addr:         config.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server error")
		}
	}()
	logger.Info("Health server started", "addr", config.HTTPAddr)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down consumer...")

	cancelConsume()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Health server forced to shutdown")
	}

	logger.Info("Consumer stopped")
}

// Config holds application configuration
type Config struct {
	HTTPAddr   string
	PolicyFile string
	MongoDB    *mongodb.Config
	Kafka      *kafka.Config
}

func loadConfig() *Config {
	return &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8081"),
		PolicyFile: getEnv("POLICY_FILE", ""),
		MongoDB: &mongodb.Config{
			URI:            getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:       getEnv("MONGODB_DATABASE", "hsc_supply"),
			ConnectTimeout: 10 * time.Second,
			MaxPoolSize:    100,
			MinPoolSize:    10,
		},
		Kafka: &kafka.Config{
			Brokers:       []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "hsc-replenishment"),
			ClientID:      serviceName,
			MinBytes:      1,
			MaxBytes:      10e6,
			MaxWait:       500 * time.Millisecond,
			CommitTimeout: 5 * time.Second,
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
