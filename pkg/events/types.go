package events

import (
	"time"
)

// EventType constants for hospital supply chain events
const (
	// Inbound inventory events
	InventoryLow = "hsc.inventory.low"

	// Outbound order commands and events
	OrderCreateCommand = "hsc.order.create-command"
	OrderCreated       = "hsc.order.created"
	OrderSkipped       = "hsc.order.skipped"
)

// Source constants for event sources
const (
	SourceHospital      = "/hsc/hospital"
	SourceReplenishment = "/hsc/replenishment-service"
)

// CloudEvent represents a CloudEvents v1.0 compliant event for the supply
// chain platform.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	// Supply-chain extensions
	CorrelationID string `json:"hsccorrelationid,omitempty"`
	HospitalID    string `json:"hschospitalid,omitempty"`
	ProductCode   string `json:"hscproductcode,omitempty"`
	OrderID       string `json:"hscorderid,omitempty"`

	// W3C trace context
	TraceParent string `json:"traceparent,omitempty"`
	TraceState  string `json:"tracestate,omitempty"`
}

// InventoryLowData is the data payload of an InventoryLow event as published
// by hospitals. Field names follow the shared JSON contract.
type InventoryLowData struct {
	EventID               string  `json:"eventId"`
	EventType             string  `json:"eventType"`
	HospitalID            string  `json:"hospitalId"`
	ProductCode           string  `json:"productCode"`
	CurrentStockUnits     int     `json:"currentStockUnits"`
	DailyConsumptionUnits int     `json:"dailyConsumptionUnits"`
	DaysOfSupply          float64 `json:"daysOfSupply"`
	Timestamp             string  `json:"timestamp"`
}
