package domain

import (
	"time"
)

// SourceTransport identifies which ingress path delivered a stock report.
type SourceTransport string

const (
	TransportSynchronous  SourceTransport = "synchronous"
	TransportAsynchronous SourceTransport = "asynchronous"
)

// IsValid checks if the source transport is valid
func (t SourceTransport) IsValid() bool {
	switch t {
	case TransportSynchronous, TransportAsynchronous:
		return true
	default:
		return false
	}
}

// StockReport is a validated inventory-level report from a hospital.
// It is immutable once built by the validator; the pipeline never sees
// untyped payloads.
type StockReport struct {
	ReportID              string          `json:"reportId"`
	HospitalID            string          `json:"hospitalId"`
	ProductCode           string          `json:"productCode"`
	CurrentStockUnits     int             `json:"currentStockUnits"`
	DailyConsumptionUnits int             `json:"dailyConsumptionUnits"`
	DaysOfSupply          float64         `json:"daysOfSupply"`
	Timestamp             time.Time       `json:"timestamp"`
	SourceTransport       SourceTransport `json:"sourceTransport"`
}

// DedupKey returns the deduplication key for this report's hospital/product pair.
func (r *StockReport) DedupKey() DedupKey {
	return DedupKey{HospitalID: r.HospitalID, ProductCode: r.ProductCode}
}

// DedupKey identifies a hospital/product pair for duplicate suppression.
// Two reports with the same key observed inside one decision window must
// produce at most one order.
type DedupKey struct {
	HospitalID  string `bson:"hospitalId" json:"hospitalId"`
	ProductCode string `bson:"productCode" json:"productCode"`
}

func (k DedupKey) String() string {
	return k.HospitalID + "/" + k.ProductCode
}
