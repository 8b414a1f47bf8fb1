package domain

import (
	"time"

	"github.com/google/uuid"
)

// DecisionType classifies an audit entry.
type DecisionType string

const (
	DecisionOrderCreated DecisionType = "ORDER_CREATED"
	DecisionOrderSkipped DecisionType = "ORDER_SKIPPED"
)

// IsValid checks if the decision type is valid
func (d DecisionType) IsValid() bool {
	switch d {
	case DecisionOrderCreated, DecisionOrderSkipped:
		return true
	default:
		return false
	}
}

// Skip reasons that are produced by the pipeline itself rather than the
// decision engine.
const (
	ReasonDuplicateSuppressed = "duplicate suppressed"
	ReasonInvalidQuantity     = "order quantity not positive despite trigger verdict"
)

// AuditEntry is an append-only record of a single ordering decision. It
// embeds the identity of the originating report so the trail survives even
// though reports are never persisted on their own.
type AuditEntry struct {
	DecisionID            string          `bson:"decisionId" json:"decisionId"`
	ReportID              string          `bson:"reportId" json:"reportId"`
	HospitalID            string          `bson:"hospitalId" json:"hospitalId"`
	ProductCode           string          `bson:"productCode" json:"productCode"`
	OrderID               string          `bson:"orderId,omitempty" json:"orderId,omitempty"`
	DecisionType          DecisionType    `bson:"decisionType" json:"decisionType"`
	Reason                string          `bson:"reason" json:"reason"`
	DaysOfSupplyAtDecision float64        `bson:"daysOfSupplyAtDecision" json:"daysOfSupplyAtDecision"`
	ThresholdUsed         float64         `bson:"thresholdUsed" json:"thresholdUsed"`
	SourceTransport       SourceTransport `bson:"sourceTransport" json:"sourceTransport"`
	DecidedAt             time.Time       `bson:"decidedAt" json:"decidedAt"`
}

// NewOrderCreatedEntry records the creation of an order for a report.
func NewOrderCreatedEntry(report *StockReport, verdict Verdict, order *Order) *AuditEntry {
	entry := newAuditEntry(report, verdict)
	entry.DecisionType = DecisionOrderCreated
	entry.OrderID = order.OrderID
	return entry
}

// NewOrderSkippedEntry records a no-order decision for a report.
func NewOrderSkippedEntry(report *StockReport, verdict Verdict) *AuditEntry {
	entry := newAuditEntry(report, verdict)
	entry.DecisionType = DecisionOrderSkipped
	return entry
}

// NewDuplicateSuppressedEntry records a suppressed duplicate, referencing the
// order that already occupies the decision window.
func NewDuplicateSuppressedEntry(report *StockReport, verdict Verdict, existingOrderID string) *AuditEntry {
	entry := newAuditEntry(report, verdict)
	entry.DecisionType = DecisionOrderSkipped
	entry.Reason = ReasonDuplicateSuppressed
	entry.OrderID = existingOrderID
	return entry
}

// NewInvalidQuantityEntry records a trigger verdict downgraded to a skip
// because the computed quantity was not positive.
func NewInvalidQuantityEntry(report *StockReport, verdict Verdict) *AuditEntry {
	entry := newAuditEntry(report, verdict)
	entry.DecisionType = DecisionOrderSkipped
	entry.Reason = ReasonInvalidQuantity
	return entry
}

func newAuditEntry(report *StockReport, verdict Verdict) *AuditEntry {
	return &AuditEntry{
		DecisionID:             "dec-" + uuid.New().String(),
		ReportID:               report.ReportID,
		HospitalID:             report.HospitalID,
		ProductCode:            report.ProductCode,
		Reason:                 verdict.Reason,
		DaysOfSupplyAtDecision: verdict.DaysOfSupply,
		ThresholdUsed:          verdict.ThresholdUsed,
		SourceTransport:        report.SourceTransport,
		DecidedAt:              time.Now().UTC(),
	}
}
