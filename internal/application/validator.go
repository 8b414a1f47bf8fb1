package application

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hospital-supply/replenishment-service/pkg/errors"
	"github.com/hospital-supply/replenishment-service/pkg/middleware"

	"github.com/hospital-supply/replenishment-service/internal/domain"
)

// StockReportRequest is the wire-level stock report accepted from both
// transports. Numeric fields are pointers so a missing field is
// distinguishable from an explicit zero.
type StockReportRequest struct {
	ReportID              string   `json:"reportId" validate:"omitempty,max=128,safe_string"`
	EventID               string   `json:"eventId" validate:"omitempty,max=128,safe_string"`
	HospitalID            string   `json:"hospitalId" validate:"required,hospital_id"`
	ProductCode           string   `json:"productCode" validate:"required,product_code"`
	CurrentStockUnits     *int     `json:"currentStockUnits" validate:"required,gte=0"`
	DailyConsumptionUnits *int     `json:"dailyConsumptionUnits" validate:"required,gte=0"`
	DaysOfSupply          *float64 `json:"daysOfSupply" validate:"required,gte=0"`
	Timestamp             string   `json:"timestamp" validate:"required"`
}

// ReportValidator turns untyped report payloads into immutable
// domain.StockReport values. Everything past this point works on typed data.
type ReportValidator struct{}

// NewReportValidator creates a ReportValidator. The underlying validator is
// the shared singleton with the custom domain validations registered.
func NewReportValidator() *ReportValidator {
	middleware.InitValidator()
	return &ReportValidator{}
}

// ParseStockReport decodes and validates an untyped payload, as delivered by
// the asynchronous transport, into a StockReport.
func (v *ReportValidator) ParseStockReport(payload map[string]interface{}, source domain.SourceTransport) (*domain.StockReport, *errors.AppError) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.ErrBadRequest("invalid report payload: " + err.Error())
	}

	var req StockReportRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errors.ErrBadRequest("invalid report payload: " + err.Error())
	}

	return v.ValidateRequest(&req, source)
}

// ValidateRequest validates an already-bound request and builds the
// StockReport. Returns a VALIDATION_ERROR naming each offending field.
func (v *ReportValidator) ValidateRequest(req *StockReportRequest, source domain.SourceTransport) (*domain.StockReport, *errors.AppError) {
	if !source.IsValid() {
		return nil, errors.ErrValidationField("sourceTransport", "must be one of: synchronous, asynchronous")
	}

	if appErr := middleware.ValidateStruct(req); appErr != nil {
		return nil, appErr
	}

	timestamp, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		return nil, errors.ErrValidationField("timestamp", "must be a valid RFC3339 timestamp")
	}

	reportID := req.ReportID
	if reportID == "" {
		reportID = req.EventID
	}
	if reportID == "" {
		reportID = "rpt-" + uuid.New().String()
	}

	return &domain.StockReport{
		ReportID:              reportID,
		HospitalID:            req.HospitalID,
		ProductCode:           req.ProductCode,
		CurrentStockUnits:     *req.CurrentStockUnits,
		DailyConsumptionUnits: *req.DailyConsumptionUnits,
		DaysOfSupply:          *req.DaysOfSupply,
		Timestamp:             timestamp.UTC(),
		SourceTransport:       source,
	}, nil
}
