package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Errors for the Order factory
var (
	ErrInvalidQuantity  = errors.New("computed order quantity is not positive")
	ErrVerdictNotOrder  = errors.New("verdict did not trigger an order")
	ErrInvalidPriority  = errors.New("invalid order priority")
	ErrDuplicateOrder   = errors.New("an open order already exists for this hospital/product pair")
	ErrOrderNotFound    = errors.New("order not found")
)

// OrderStatus represents the lifecycle status of a replenishment order.
// Only Pending and Processing count toward the open decision window;
// transitions past Pending belong to downstream fulfillment.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// IsValid checks if the status is valid
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OpenStatuses are the statuses during which a hospital/product pair is
// considered to already have an outstanding order. Reports for the pair are
// suppressed as duplicates until the order leaves these statuses.
func OpenStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusPending, OrderStatusProcessing}
}

// CentralWarehouseID identifies the single central warehouse this service
// orders from. Multi-warehouse routing is out of scope.
const CentralWarehouseID = "CENTRAL-WAREHOUSE"

// DeliveryLeadTime is the fixed fulfillment target applied to every order.
const DeliveryLeadTime = 48 * time.Hour

// Order is a replenishment order produced by a trigger verdict.
type Order struct {
	OrderID               string          `bson:"orderId" json:"orderId"`
	HospitalID            string          `bson:"hospitalId" json:"hospitalId"`
	ProductCode           string          `bson:"productCode" json:"productCode"`
	OrderQuantity         int             `bson:"orderQuantity" json:"orderQuantity"`
	Priority              Priority        `bson:"priority" json:"priority"`
	Status                OrderStatus     `bson:"status" json:"status"`
	CreatedAt             time.Time       `bson:"createdAt" json:"createdAt"`
	EstimatedDeliveryDate time.Time       `bson:"estimatedDeliveryDate" json:"estimatedDeliveryDate"`
	WarehouseID           string          `bson:"warehouseId" json:"warehouseId"`
	SourceTransport       SourceTransport `bson:"sourceTransport" json:"sourceTransport"`
	TriggeringReportID    string          `bson:"triggeringReportId" json:"triggeringReportId"`
}

// NewOrder builds a fully-formed order from a report and a trigger verdict.
//
// It fails closed with ErrInvalidQuantity when the computed quantity is not
// positive: stock already exceeds the restock target despite the trigger,
// which happens with stale or inconsistent inputs. Callers downgrade that to
// an audited skip, never a crash and never a zero-quantity order.
func NewOrder(report *StockReport, verdict Verdict, policy DecisionPolicy) (*Order, error) {
	if !verdict.ShouldOrder {
		return nil, ErrVerdictNotOrder
	}
	if !verdict.Priority.IsValid() {
		return nil, ErrInvalidPriority
	}

	quantity := report.DailyConsumptionUnits*policy.RestockTargetDays - report.CurrentStockUnits
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %d units for %s/%s", ErrInvalidQuantity,
			quantity, report.HospitalID, report.ProductCode)
	}

	now := time.Now().UTC()
	return &Order{
		OrderID:               NewOrderID(now),
		HospitalID:            report.HospitalID,
		ProductCode:           report.ProductCode,
		OrderQuantity:         quantity,
		Priority:              verdict.Priority,
		Status:                OrderStatusPending,
		CreatedAt:             now,
		EstimatedDeliveryDate: report.Timestamp.Add(DeliveryLeadTime),
		WarehouseID:           CentralWarehouseID,
		SourceTransport:       report.SourceTransport,
		TriggeringReportID:    report.ReportID,
	}, nil
}

// NewOrderID generates an order identifier of the form
// ORD-<YYYYMMDD>-<8 hex chars>. The suffix is derived from a v4 UUID so it is
// collision-resistant across concurrent creations on the same day; it is
// never a counter or a timestamp.
func NewOrderID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

// IsOpen reports whether the order still occupies its decision window.
func (o *Order) IsOpen() bool {
	for _, s := range OpenStatuses() {
		if o.Status == s {
			return true
		}
	}
	return false
}
