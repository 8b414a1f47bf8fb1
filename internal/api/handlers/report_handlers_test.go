package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-supply/replenishment-service/pkg/contracts"
	"github.com/hospital-supply/replenishment-service/pkg/logging"
	"github.com/hospital-supply/replenishment-service/pkg/metrics"
	"github.com/hospital-supply/replenishment-service/pkg/middleware"

	"github.com/hospital-supply/replenishment-service/internal/application"
	"github.com/hospital-supply/replenishment-service/internal/domain"
)

type stubLedger struct {
	mu      sync.Mutex
	open    map[domain.DedupKey]*domain.Order
	entries []*domain.AuditEntry

	failCommit error
}

func newStubLedger() *stubLedger {
	return &stubLedger{open: make(map[domain.DedupKey]*domain.Order)}
}

func (l *stubLedger) FindOpenOrder(ctx context.Context, key domain.DedupKey) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[key], nil
}

func (l *stubLedger) CommitDecision(ctx context.Context, order *domain.Order, entry *domain.AuditEntry, command *domain.OrderCreationCommand) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failCommit != nil {
		return l.failCommit
	}
	key := domain.DedupKey{HospitalID: order.HospitalID, ProductCode: order.ProductCode}
	if _, exists := l.open[key]; exists {
		return domain.ErrDuplicateOrder
	}
	l.open[key] = order
	l.entries = append(l.entries, entry)
	return nil
}

func (l *stubLedger) RecordSkip(ctx context.Context, entry *domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *stubLedger) FindAuditTrail(ctx context.Context, key domain.DedupKey, limit int) ([]*domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var trail []*domain.AuditEntry
	for i := len(l.entries) - 1; i >= 0 && len(trail) < limit; i-- {
		e := l.entries[i]
		if e.HospitalID == key.HospitalID && e.ProductCode == key.ProductCode {
			trail = append(trail, e)
		}
	}
	return trail, nil
}

func setupRouter(t *testing.T, ledger domain.DecisionLedger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	commandSchemas, err := contracts.NewEventValidator()
	require.NoError(t, err)

	m := metrics.New(metrics.DefaultConfig("handlers-test"))
	logger := logging.New(logging.DefaultConfig("handlers-test"))

	pipeline := application.NewPipeline(
		application.NewReportValidator(),
		domain.NewDecisionEngine(domain.DefaultPolicy()),
		ledger,
		commandSchemas,
		logger,
		middleware.NewBusinessMetrics(m),
	)
	batch := application.NewBatchProcessor(pipeline, 2, logger)

	router := gin.New()
	h := NewReportHandlers(pipeline, batch, ledger, logger)
	h.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func reportBody(overrides map[string]interface{}) []byte {
	body := map[string]interface{}{
		"reportId":              "rpt-001",
		"hospitalId":            "HOSP-A",
		"productCode":           "PHYSIO-SALINE",
		"currentStockUnits":     40,
		"dailyConsumptionUnits": 50,
		"daysOfSupply":          0.8,
		"timestamp":             "2026-01-15T10:30:00Z",
	}
	for k, v := range overrides {
		body[k] = v
	}
	raw, _ := json.Marshal(body)
	return raw
}

func postJSON(router *gin.Engine, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitReport_OrderCreated(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	w := postJSON(router, "/api/v1/stock-reports", reportBody(nil))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp application.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.True(t, resp.OrderTriggered)
	assert.Regexp(t, `^ORD-\d{8}-[A-F0-9]{8}$`, resp.OrderID)
}

func TestSubmitReport_AdequateStock(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	w := postJSON(router, "/api/v1/stock-reports", reportBody(map[string]interface{}{
		"currentStockUnits": 500,
		"daysOfSupply":      10.0,
	}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp application.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.False(t, resp.OrderTriggered)
	assert.Empty(t, resp.OrderID)
}

func TestSubmitReport_DuplicateSuppressed(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	first := postJSON(router, "/api/v1/stock-reports", reportBody(nil))
	require.Equal(t, http.StatusCreated, first.Code)
	var firstResp application.Outcome
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))

	second := postJSON(router, "/api/v1/stock-reports", reportBody(map[string]interface{}{
		"reportId": "rpt-002",
	}))
	require.Equal(t, http.StatusOK, second.Code)

	var secondResp application.Outcome
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
	assert.True(t, secondResp.OK)
	assert.False(t, secondResp.OrderTriggered)
	assert.True(t, secondResp.Duplicate)
	assert.Equal(t, firstResp.OrderID, secondResp.OrderID)
}

func TestSubmitReport_ValidationError(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	w := postJSON(router, "/api/v1/stock-reports", reportBody(map[string]interface{}{
		"currentStockUnits": -10,
	}))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp middleware.APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	assert.Contains(t, resp.Details, "currentStockUnits")
}

func TestSubmitReport_MalformedBody(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	w := postJSON(router, "/api/v1/stock-reports", []byte(`{"hospitalId": `))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitReport_PersistenceUnavailable(t *testing.T) {
	ledger := newStubLedger()
	ledger.failCommit = fmt.Errorf("primary stepped down")
	router := setupRouter(t, ledger)

	w := postJSON(router, "/api/v1/stock-reports", reportBody(nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp middleware.APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PERSISTENCE_UNAVAILABLE", resp.Code)
}

func TestSubmitBatch(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	body, _ := json.Marshal(map[string]interface{}{
		"reports": []map[string]interface{}{
			{
				"hospitalId":            "HOSP-A",
				"productCode":           "MED-GLOVES",
				"currentStockUnits":     40,
				"dailyConsumptionUnits": 50,
				"daysOfSupply":          0.8,
				"timestamp":             "2026-01-15T10:30:00Z",
			},
			{
				"hospitalId":            "HOSP-B",
				"productCode":           "MED-GLOVES",
				"currentStockUnits":     900,
				"dailyConsumptionUnits": 50,
				"daysOfSupply":          18.0,
				"timestamp":             "2026-01-15T10:30:00Z",
			},
			{
				"hospitalId":            "",
				"productCode":           "MED-GLOVES",
				"currentStockUnits":     10,
				"dailyConsumptionUnits": 5,
				"daysOfSupply":          2.0,
				"timestamp":             "2026-01-15T10:30:00Z",
			},
		},
	})

	w := postJSON(router, "/api/v1/stock-reports/batch", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []BatchItemResponse `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)

	assert.True(t, resp.Results[0].OrderTriggered)
	assert.NotEmpty(t, resp.Results[0].OrderID)

	assert.True(t, resp.Results[1].OK)
	assert.False(t, resp.Results[1].OrderTriggered)

	assert.False(t, resp.Results[2].OK)
	assert.Equal(t, "VALIDATION_ERROR", resp.Results[2].ErrorCode)
}

func TestSubmitBatch_EmptyRejected(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	body, _ := json.Marshal(map[string]interface{}{"reports": []interface{}{}})
	w := postJSON(router, "/api/v1/stock-reports/batch", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAuditTrail(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	// One created order and one suppressed duplicate leave two entries.
	postJSON(router, "/api/v1/stock-reports", reportBody(nil))
	postJSON(router, "/api/v1/stock-reports", reportBody(map[string]interface{}{"reportId": "rpt-002"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-trail/HOSP-A/PHYSIO-SALINE", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		HospitalID  string               `json:"hospitalId"`
		ProductCode string               `json:"productCode"`
		Entries     []*domain.AuditEntry `json:"entries"`
		Count       int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "HOSP-A", resp.HospitalID)
	require.Equal(t, 2, resp.Count)
	// Most recent first: the duplicate suppression precedes the creation.
	assert.Equal(t, domain.DecisionOrderSkipped, resp.Entries[0].DecisionType)
	assert.Equal(t, domain.DecisionOrderCreated, resp.Entries[1].DecisionType)
	assert.Equal(t, "rpt-002", resp.Entries[0].ReportID)
}

func TestGetAuditTrail_BadLimit(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-trail/HOSP-A/PHYSIO-SALINE?limit=0", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOpenOrder(t *testing.T) {
	router := setupRouter(t, newStubLedger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/open/HOSP-A/PHYSIO-SALINE", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	postJSON(router, "/api/v1/stock-reports", reportBody(nil))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var order domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, "HOSP-A", order.HospitalID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
}
