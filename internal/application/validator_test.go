package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-supply/replenishment-service/internal/domain"
)

func TestValidateRequest_BuildsReport(t *testing.T) {
	v := NewReportValidator()

	report, appErr := v.ValidateRequest(validRequest(), domain.TransportSynchronous)
	require.Nil(t, appErr)

	assert.Equal(t, "rpt-001", report.ReportID)
	assert.Equal(t, "HOSP-A", report.HospitalID)
	assert.Equal(t, "PHYSIO-SALINE", report.ProductCode)
	assert.Equal(t, 40, report.CurrentStockUnits)
	assert.Equal(t, 50, report.DailyConsumptionUnits)
	assert.Equal(t, 0.8, report.DaysOfSupply)
	assert.Equal(t, domain.TransportSynchronous, report.SourceTransport)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), report.Timestamp)
}

func TestValidateRequest_TimestampNormalizedToUTC(t *testing.T) {
	v := NewReportValidator()

	req := validRequest()
	req.Timestamp = "2026-01-15T12:30:00+02:00"

	report, appErr := v.ValidateRequest(req, domain.TransportSynchronous)
	require.Nil(t, appErr)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), report.Timestamp)
}

func TestValidateRequest_ReportIDFallback(t *testing.T) {
	v := NewReportValidator()

	req := validRequest()
	req.ReportID = ""
	req.EventID = "evt-17"

	report, appErr := v.ValidateRequest(req, domain.TransportAsynchronous)
	require.Nil(t, appErr)
	assert.Equal(t, "evt-17", report.ReportID)

	req = validRequest()
	req.ReportID = ""
	req.EventID = ""

	report, appErr = v.ValidateRequest(req, domain.TransportAsynchronous)
	require.Nil(t, appErr)
	assert.True(t, len(report.ReportID) > 4 && report.ReportID[:4] == "rpt-")
}

func TestValidateRequest_ZeroValuesAreValid(t *testing.T) {
	v := NewReportValidator()

	req := validRequest()
	req.CurrentStockUnits = intPtr(0)
	req.DailyConsumptionUnits = intPtr(0)
	req.DaysOfSupply = floatPtr(0)

	report, appErr := v.ValidateRequest(req, domain.TransportSynchronous)
	require.Nil(t, appErr)
	assert.Equal(t, 0, report.CurrentStockUnits)
	assert.Equal(t, 0, report.DailyConsumptionUnits)
	assert.Equal(t, 0.0, report.DaysOfSupply)
}

func TestValidateRequest_InvalidTransport(t *testing.T) {
	v := NewReportValidator()

	report, appErr := v.ValidateRequest(validRequest(), domain.SourceTransport("carrier-pigeon"))
	assert.Nil(t, report)
	require.NotNil(t, appErr)
	assert.Contains(t, appErr.Details, "sourceTransport")
}

func TestParseStockReport_RejectsNonObjectFields(t *testing.T) {
	v := NewReportValidator()

	payload := map[string]interface{}{
		"hospitalId":            "HOSP-A",
		"productCode":           "PHYSIO-SALINE",
		"currentStockUnits":     "forty",
		"dailyConsumptionUnits": 50,
		"daysOfSupply":          0.8,
		"timestamp":             "2026-01-15T10:30:00Z",
	}

	report, appErr := v.ParseStockReport(payload, domain.TransportAsynchronous)
	assert.Nil(t, report)
	require.NotNil(t, appErr)
}
