package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/hospital-supply/replenishment-service/pkg/events"
	"github.com/hospital-supply/replenishment-service/pkg/logging"
	"github.com/hospital-supply/replenishment-service/pkg/metrics"
	"github.com/hospital-supply/replenishment-service/pkg/resilience"
)

// CircuitBreakerProducer wraps InstrumentedProducer with circuit breaker protection
type CircuitBreakerProducer struct {
	producer       *InstrumentedProducer
	circuitBreaker *resilience.CircuitBreaker
	logger         *logging.Logger
}

// NewCircuitBreakerProducer creates a new circuit breaker protected Kafka producer
func NewCircuitBreakerProducer(producer *InstrumentedProducer, logger *logging.Logger) *CircuitBreakerProducer {
	config := &resilience.CircuitBreakerConfig{
		Name:                  "kafka-producer",
		MaxRequests:           5,
		Interval:              time.Minute,
		Timeout:               30 * time.Second,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		FailureRatioThreshold: 0.5,
		MinRequestsToTrip:     10,
	}

	var slogLogger *slog.Logger
	if logger != nil && logger.Logger != nil {
		slogLogger = logger.Logger
	} else {
		slogLogger = slog.Default()
	}

	cb := resilience.NewCircuitBreaker(config, slogLogger)

	return &CircuitBreakerProducer{
		producer:       producer,
		circuitBreaker: cb,
		logger:         logger,
	}
}

// PublishEvent publishes a CloudEvent with circuit breaker protection
func (p *CircuitBreakerProducer) PublishEvent(ctx context.Context, topic string, event *events.CloudEvent) error {
	_, err := p.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return nil, p.producer.PublishEvent(ctx, topic, event)
	})
	return err
}

// PublishEventAsync publishes a CloudEvent asynchronously with circuit breaker protection
func (p *CircuitBreakerProducer) PublishEventAsync(ctx context.Context, topic string, event *events.CloudEvent, callback func(error)) {
	// For async operations, check circuit breaker state first
	if p.circuitBreaker.State() == 2 { // Open state
		if callback != nil {
			callback(resilience.ErrCircuitOpen)
		}
		return
	}

	// Wrap the callback to record failures with the circuit breaker
	wrappedCallback := func(err error) {
		if err != nil {
			p.circuitBreaker.Execute(ctx, func() (interface{}, error) {
				return nil, err
			})
		}

		if callback != nil {
			callback(err)
		}
	}

	p.producer.PublishEventAsync(ctx, topic, event, wrappedCallback)
}

// PublishBatch publishes multiple events with circuit breaker protection
func (p *CircuitBreakerProducer) PublishBatch(ctx context.Context, topic string, batch []*events.CloudEvent) error {
	_, err := p.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return nil, p.producer.PublishBatch(ctx, topic, batch)
	})
	return err
}

// Close closes the underlying producer
func (p *CircuitBreakerProducer) Close() error {
	return p.producer.Close()
}

// Underlying returns the underlying InstrumentedProducer
func (p *CircuitBreakerProducer) Underlying() *InstrumentedProducer {
	return p.producer
}

// NewProductionProducer creates a fully configured Kafka producer with instrumentation and circuit breaker
func NewProductionProducer(config *Config, m *metrics.Metrics, logger *logging.Logger) *CircuitBreakerProducer {
	baseProducer := NewProducer(config)
	instrumentedProducer := NewInstrumentedProducer(baseProducer, m, logger)
	return NewCircuitBreakerProducer(instrumentedProducer, logger)
}

// NewProductionConsumer creates a fully configured Kafka consumer with instrumentation
func NewProductionConsumer(config *Config, m *metrics.Metrics, logger *logging.Logger) *InstrumentedConsumer {
	baseConsumer := NewConsumer(config, logger.Logger)
	return NewInstrumentedConsumer(baseConsumer, m, logger)
}
