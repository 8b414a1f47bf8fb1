// Package ingest adapts the asynchronous transport: low-stock CloudEvents
// consumed from Kafka are fed through the same decision pipeline the HTTP
// handlers use.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hospital-supply/replenishment-service/pkg/errors"
	"github.com/hospital-supply/replenishment-service/pkg/events"
	"github.com/hospital-supply/replenishment-service/pkg/idempotency"
	"github.com/hospital-supply/replenishment-service/pkg/kafka"
	"github.com/hospital-supply/replenishment-service/pkg/logging"

	"github.com/hospital-supply/replenishment-service/internal/application"
	"github.com/hospital-supply/replenishment-service/internal/domain"
)

// InventoryEventHandler handles hsc.inventory.low events.
type InventoryEventHandler struct {
	pipeline *application.Pipeline
	logger   *logging.Logger
}

// NewInventoryEventHandler creates a new InventoryEventHandler
func NewInventoryEventHandler(pipeline *application.Pipeline, logger *logging.Logger) *InventoryEventHandler {
	return &InventoryEventHandler{
		pipeline: pipeline,
		logger:   logger.WithComponent("ingest"),
	}
}

// Register subscribes the handler on the inventory topic, wrapped with
// message-level deduplication. The dedup store absorbs at-least-once
// redelivery before the pipeline's own gate even runs.
func (h *InventoryEventHandler) Register(consumer *kafka.InstrumentedConsumer, dedupe *idempotency.ConsumerConfig, dedupeMetrics *idempotency.Metrics) {
	handler := idempotency.DeduplicatingHandlerWithMetrics(dedupe, dedupeMetrics, h.HandleInventoryLow)
	consumer.Subscribe(kafka.Topics.InventoryEvents, events.InventoryLow, kafka.EventHandler(handler))
}

// HandleInventoryLow runs a low-stock event through the decision pipeline.
//
// Malformed or invalid payloads are logged and dropped: redelivery cannot fix
// them and they must not wedge the partition. Persistence failures propagate
// so the message stays uncommitted and the transport retries.
func (h *InventoryEventHandler) HandleInventoryLow(ctx context.Context, event *events.CloudEvent) error {
	payload, err := eventPayload(event)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Dropping undecodable inventory event",
			"eventId", event.ID,
			"eventType", event.Type)
		return nil
	}

	outcome, err := h.pipeline.ProcessPayload(ctx, payload, domain.TransportAsynchronous)
	if err != nil {
		if errors.HasCode(err, errors.CodeValidationError) || errors.HasCode(err, errors.CodeBadRequest) {
			h.logger.WithContext(ctx).WithError(err).Error("Dropping invalid inventory event",
				"eventId", event.ID,
				"hospitalId", event.HospitalID,
				"productCode", event.ProductCode)
			return nil
		}
		return err
	}

	h.logger.WithContext(ctx).Info("Inventory event processed",
		"eventId", event.ID,
		"orderTriggered", outcome.OrderTriggered,
		"orderId", outcome.OrderID,
		"duplicate", outcome.Duplicate)
	return nil
}

// eventPayload normalizes the event data into the untyped map the pipeline
// validator expects, regardless of how the envelope was decoded.
func eventPayload(event *events.CloudEvent) (map[string]interface{}, error) {
	switch data := event.Data.(type) {
	case map[string]interface{}:
		return data, nil
	case nil:
		return nil, fmt.Errorf("event %s has no data", event.ID)
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("event %s data is not an object: %w", event.ID, err)
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("event %s data is not an object: %w", event.ID, err)
		}
		return payload, nil
	}
}
