package contracts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-supply/replenishment-service/pkg/events"
)

func TestNewEventValidator(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	assert.True(t, v.HasSchema(events.InventoryLow))
	assert.True(t, v.HasSchema(events.OrderCreateCommand))
	assert.False(t, v.HasSchema("hsc.unknown.event"))

	types := v.SupportedEventTypes()
	assert.Equal(t, []string{events.InventoryLow, events.OrderCreateCommand}, types)
}

func TestValidateData_InventoryLow(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	valid := map[string]interface{}{
		"eventId":               "evt-123",
		"eventType":             "LOW_STOCK",
		"hospitalId":            "HOSP-001",
		"productCode":           "MED-GLOVES",
		"currentStockUnits":     40,
		"dailyConsumptionUnits": 50,
		"daysOfSupply":          0.8,
		"timestamp":             "2026-01-15T10:30:00Z",
	}

	assert.NoError(t, v.ValidateData(events.InventoryLow, valid))

	tests := []struct {
		name   string
		mutate func(m map[string]interface{})
	}{
		{
			name:   "missing hospitalId",
			mutate: func(m map[string]interface{}) { delete(m, "hospitalId") },
		},
		{
			name:   "negative stock",
			mutate: func(m map[string]interface{}) { m["currentStockUnits"] = -1 },
		},
		{
			name:   "negative consumption",
			mutate: func(m map[string]interface{}) { m["dailyConsumptionUnits"] = -3 },
		},
		{
			name:   "non-integer stock",
			mutate: func(m map[string]interface{}) { m["currentStockUnits"] = 12.5 },
		},
		{
			name:   "bad product code",
			mutate: func(m map[string]interface{}) { m["productCode"] = "has spaces" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make(map[string]interface{}, len(valid))
			for k, val := range valid {
				payload[k] = val
			}
			tt.mutate(payload)

			assert.Error(t, v.ValidateData(events.InventoryLow, payload))
		})
	}
}

func TestValidateData_OrderCreationCommand(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	valid := map[string]interface{}{
		"commandId":             "cmd-550e8400-e29b-41d4-a716-446655440000",
		"commandType":           "CreateOrder",
		"orderId":               "ORD-20260115-A1B2C3D4",
		"hospitalId":            "HOSP-001",
		"productCode":           "MED-GLOVES",
		"orderQuantity":         310,
		"priority":              "URGENT",
		"estimatedDeliveryDate": "2026-01-17T10:30:00Z",
		"warehouseId":           "CENTRAL-WAREHOUSE",
		"timestamp":             "2026-01-15T10:30:01Z",
	}

	assert.NoError(t, v.ValidateData(events.OrderCreateCommand, valid))

	tests := []struct {
		name   string
		mutate func(m map[string]interface{})
	}{
		{
			name:   "wrong command type",
			mutate: func(m map[string]interface{}) { m["commandType"] = "CancelOrder" },
		},
		{
			name:   "malformed order id",
			mutate: func(m map[string]interface{}) { m["orderId"] = "ORD-2026-XYZ" },
		},
		{
			name:   "zero quantity",
			mutate: func(m map[string]interface{}) { m["orderQuantity"] = 0 },
		},
		{
			name:   "unknown priority",
			mutate: func(m map[string]interface{}) { m["priority"] = "LOW" },
		},
		{
			name:   "unexpected field",
			mutate: func(m map[string]interface{}) { m["discountCode"] = "SAVE10" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make(map[string]interface{}, len(valid))
			for k, val := range valid {
				payload[k] = val
			}
			tt.mutate(payload)

			assert.Error(t, v.ValidateData(events.OrderCreateCommand, payload))
		})
	}
}

func TestValidateData_StructPayload(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	data := events.InventoryLowData{
		EventID:               "evt-456",
		EventType:             "LOW_STOCK",
		HospitalID:            "HOSP-002",
		ProductCode:           "SYRINGE-5ML",
		CurrentStockUnits:     10,
		DailyConsumptionUnits: 8,
		DaysOfSupply:          1.25,
		Timestamp:             "2026-01-15T08:00:00Z",
	}

	assert.NoError(t, v.ValidateData(events.InventoryLow, data))
}

func TestValidateEvent(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	factory := events.NewEventFactory(events.SourceHospital)
	event := factory.CreateEvent(context.Background(), events.InventoryLow, "HOSP-001/MED-GLOVES", events.InventoryLowData{
		EventID:               "evt-789",
		EventType:             "LOW_STOCK",
		HospitalID:            "HOSP-001",
		ProductCode:           "MED-GLOVES",
		CurrentStockUnits:     40,
		DailyConsumptionUnits: 50,
		DaysOfSupply:          0.8,
		Timestamp:             time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC).Format(time.RFC3339),
	})

	assert.NoError(t, v.ValidateEvent(event))

	event.Data = nil
	assert.Error(t, v.ValidateEvent(event))

	event.Type = ""
	assert.Error(t, v.ValidateEvent(event))
}
