package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventFactory creates CloudEvents for a fixed source.
type EventFactory struct {
	source string
}

// NewEventFactory creates a new EventFactory for a specific source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source}
}

// CreateEvent creates a new CloudEvent with the given parameters
func (f *EventFactory) CreateEvent(
	ctx context.Context,
	eventType string,
	subject string,
	data interface{},
) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// CreateOrderCommandEvent creates the envelope carrying an
// OrderCreationCommand downstream.
func (f *EventFactory) CreateOrderCommandEvent(
	ctx context.Context,
	orderID string,
	hospitalID string,
	productCode string,
	command interface{},
) *CloudEvent {
	event := f.CreateEvent(ctx, OrderCreateCommand, "order/"+orderID, command)
	event.OrderID = orderID
	event.HospitalID = hospitalID
	event.ProductCode = productCode
	return event
}
