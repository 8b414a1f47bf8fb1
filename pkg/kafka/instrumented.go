package kafka

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hospital-supply/replenishment-service/pkg/events"
	"github.com/hospital-supply/replenishment-service/pkg/logging"
	"github.com/hospital-supply/replenishment-service/pkg/metrics"
	"github.com/hospital-supply/replenishment-service/pkg/tracing"
)

// addEventAttributes adds hsc extension attributes to a span
func addEventAttributes(span trace.Span, event *events.CloudEvent) {
	if event.CorrelationID != "" {
		span.SetAttributes(attribute.String("hsc.correlation_id", event.CorrelationID))
	}
	if event.HospitalID != "" {
		span.SetAttributes(attribute.String("hsc.hospital_id", event.HospitalID))
	}
	if event.ProductCode != "" {
		span.SetAttributes(attribute.String("hsc.product_code", event.ProductCode))
	}
	if event.OrderID != "" {
		span.SetAttributes(attribute.String("hsc.order_id", event.OrderID))
	}
}

// InstrumentedProducer wraps a Producer with metrics and tracing
type InstrumentedProducer struct {
	producer *Producer
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewInstrumentedProducer creates a new instrumented producer
func NewInstrumentedProducer(producer *Producer, m *metrics.Metrics, logger *logging.Logger) *InstrumentedProducer {
	return &InstrumentedProducer{
		producer: producer,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("kafka-producer"),
	}
}

// PublishEvent publishes a CloudEvent with metrics and tracing
func (p *InstrumentedProducer) PublishEvent(ctx context.Context, topic string, event *events.CloudEvent) error {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationNameKey.String(topic),
			semconv.MessagingOperationKey.String("publish"),
			attribute.String("messaging.kafka.event_type", event.Type),
			attribute.String("messaging.message_id", event.ID),
		),
	)
	defer span.End()

	addEventAttributes(span, event)

	// Propagate trace context through the event envelope
	carrier := tracing.MapCarrier{}
	tracing.InjectTraceContext(ctx, carrier)
	if tp, ok := carrier["traceparent"]; ok {
		event.TraceParent = tp
		if ts, ok := carrier["tracestate"]; ok {
			event.TraceState = ts
		}
	}

	err := p.producer.PublishEvent(ctx, topic, event)
	duration := time.Since(start)

	success := err == nil
	if p.metrics != nil {
		p.metrics.RecordKafkaPublish(topic, event.Type, success, duration)
	}

	if p.logger != nil {
		p.logger.KafkaPublish(ctx, topic, event.Type, success, duration)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("messaging.duration_ms", duration.Milliseconds()))
	}

	return err
}

// PublishEventAsync publishes a CloudEvent asynchronously with metrics
func (p *InstrumentedProducer) PublishEventAsync(ctx context.Context, topic string, event *events.CloudEvent, callback func(error)) {
	start := time.Now()

	// Span is detached for async delivery
	_, span := p.tracer.Start(ctx, "kafka.publish.async",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationNameKey.String(topic),
			semconv.MessagingOperationKey.String("publish"),
			attribute.String("messaging.kafka.event_type", event.Type),
			attribute.String("messaging.message_id", event.ID),
			attribute.Bool("messaging.async", true),
		),
	)

	addEventAttributes(span, event)

	wrappedCallback := func(err error) {
		defer span.End()
		duration := time.Since(start)

		success := err == nil
		if p.metrics != nil {
			p.metrics.RecordKafkaPublish(topic, event.Type, success, duration)
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		if callback != nil {
			callback(err)
		}
	}

	p.producer.PublishEventAsync(ctx, topic, event, wrappedCallback)
}

// PublishBatch publishes multiple events with metrics and tracing
func (p *InstrumentedProducer) PublishBatch(ctx context.Context, topic string, batch []*events.CloudEvent) error {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "kafka.publish.batch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationNameKey.String(topic),
			semconv.MessagingOperationKey.String("publish"),
			attribute.Int("messaging.batch_size", len(batch)),
		),
	)
	defer span.End()

	err := p.producer.PublishBatch(ctx, topic, batch)
	duration := time.Since(start)

	success := err == nil
	if p.metrics != nil && len(batch) > 0 {
		for _, event := range batch {
			p.metrics.RecordKafkaPublish(topic, event.Type, success, duration/time.Duration(len(batch)))
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("messaging.duration_ms", duration.Milliseconds()))
	}

	return err
}

// Close closes the underlying producer
func (p *InstrumentedProducer) Close() error {
	return p.producer.Close()
}

// InstrumentedConsumer wraps a Consumer with metrics and tracing
type InstrumentedConsumer struct {
	consumer *Consumer
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewInstrumentedConsumer creates a new instrumented consumer
func NewInstrumentedConsumer(consumer *Consumer, m *metrics.Metrics, logger *logging.Logger) *InstrumentedConsumer {
	return &InstrumentedConsumer{
		consumer: consumer,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("kafka-consumer"),
	}
}

// Subscribe subscribes to a topic with instrumented handler
func (c *InstrumentedConsumer) Subscribe(topic string, eventType string, handler EventHandler) {
	wrappedHandler := c.instrumentHandler(topic, eventType, handler)
	c.consumer.Subscribe(topic, eventType, wrappedHandler)
}

// SubscribeAll subscribes to all event types with instrumented handler
func (c *InstrumentedConsumer) SubscribeAll(topic string, handler EventHandler) {
	wrappedHandler := c.instrumentHandler(topic, "*", handler)
	c.consumer.SubscribeAll(topic, wrappedHandler)
}

// instrumentHandler wraps an event handler with metrics and tracing
func (c *InstrumentedConsumer) instrumentHandler(topic, eventType string, handler EventHandler) EventHandler {
	return func(ctx context.Context, event *events.CloudEvent) error {
		start := time.Now()

		// Resume the producer's trace when a traceparent came with the event
		if event.TraceParent != "" {
			carrier := tracing.MapCarrier{
				"traceparent": event.TraceParent,
			}
			if event.TraceState != "" {
				carrier["tracestate"] = event.TraceState
			}
			ctx = tracing.ExtractTraceContext(ctx, carrier)
		}

		ctx, span := c.tracer.Start(ctx, "kafka.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				semconv.MessagingSystemKey.String("kafka"),
				semconv.MessagingDestinationNameKey.String(topic),
				semconv.MessagingOperationKey.String("receive"),
				attribute.String("messaging.kafka.event_type", event.Type),
				attribute.String("messaging.message_id", event.ID),
				attribute.String("messaging.kafka.consumer_group", c.consumer.config.ConsumerGroup),
			),
		)
		defer span.End()

		addEventAttributes(span, event)

		err := handler(ctx, event)
		duration := time.Since(start)

		success := err == nil
		if c.metrics != nil {
			c.metrics.RecordKafkaConsume(topic, event.Type, success)
		}

		if c.logger != nil {
			c.logger.KafkaConsume(ctx, topic, event.Type, 0, 0) // partition/offset not available here
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
			span.SetAttributes(attribute.Int64("messaging.processing_duration_ms", duration.Milliseconds()))
		}

		return err
	}
}

// Start starts the instrumented consumer
func (c *InstrumentedConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Close closes the underlying consumer
func (c *InstrumentedConsumer) Close() error {
	return c.consumer.Close()
}

// SetConsumerLag updates the consumer lag metric
func (c *InstrumentedConsumer) SetConsumerLag(topic string, partition int, lag int64) {
	if c.metrics != nil {
		c.metrics.SetKafkaConsumerLag(topic, partition, lag)
	}
}

// KafkaTracePropagator helps propagate trace context through Kafka messages
type KafkaTracePropagator struct {
	propagator propagation.TextMapPropagator
}

// NewKafkaTracePropagator creates a new trace propagator
func NewKafkaTracePropagator() *KafkaTracePropagator {
	return &KafkaTracePropagator{
		propagator: otel.GetTextMapPropagator(),
	}
}

// InjectContext injects trace context into Kafka headers
func (p *KafkaTracePropagator) InjectContext(ctx context.Context, headers map[string]string) {
	carrier := propagation.MapCarrier(headers)
	p.propagator.Inject(ctx, carrier)
}

// ExtractContext extracts trace context from Kafka headers
func (p *KafkaTracePropagator) ExtractContext(ctx context.Context, headers map[string]string) context.Context {
	carrier := propagation.MapCarrier(headers)
	return p.propagator.Extract(ctx, carrier)
}
