package domain

import (
	"time"

	"github.com/google/uuid"
)

// CommandTypeCreateOrder is the only command type this service emits.
const CommandTypeCreateOrder = "CreateOrder"

// OrderCreationCommand is the canonical downstream contract emitted for every
// order created from an asynchronous report. Its field set is stable; renames
// or removals break downstream consumers and are validated against a JSON
// schema before the command is enqueued.
type OrderCreationCommand struct {
	CommandID             string    `bson:"commandId" json:"commandId"`
	CommandType           string    `bson:"commandType" json:"commandType"`
	OrderID               string    `bson:"orderId" json:"orderId"`
	HospitalID            string    `bson:"hospitalId" json:"hospitalId"`
	ProductCode           string    `bson:"productCode" json:"productCode"`
	OrderQuantity         int       `bson:"orderQuantity" json:"orderQuantity"`
	Priority              Priority  `bson:"priority" json:"priority"`
	EstimatedDeliveryDate time.Time `bson:"estimatedDeliveryDate" json:"estimatedDeliveryDate"`
	WarehouseID           string    `bson:"warehouseId" json:"warehouseId"`
	Timestamp             time.Time `bson:"timestamp" json:"timestamp"`
}

// NewOrderCreationCommand builds the downstream command for a created order.
func NewOrderCreationCommand(order *Order) *OrderCreationCommand {
	return &OrderCreationCommand{
		CommandID:             "cmd-" + uuid.New().String(),
		CommandType:           CommandTypeCreateOrder,
		OrderID:               order.OrderID,
		HospitalID:            order.HospitalID,
		ProductCode:           order.ProductCode,
		OrderQuantity:         order.OrderQuantity,
		Priority:              order.Priority,
		EstimatedDeliveryDate: order.EstimatedDeliveryDate,
		WarehouseID:           order.WarehouseID,
		Timestamp:             time.Now().UTC(),
	}
}
