package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hospital-supply/replenishment-service/pkg/errors"
	"github.com/hospital-supply/replenishment-service/pkg/logging"
	"github.com/hospital-supply/replenishment-service/pkg/middleware"

	"github.com/hospital-supply/replenishment-service/internal/application"
	"github.com/hospital-supply/replenishment-service/internal/domain"
)

// ReportHandlers serves the synchronous transport: hospitals POST stock
// reports and receive the ordering decision inline.
type ReportHandlers struct {
	pipeline *application.Pipeline
	batch    *application.BatchProcessor
	ledger   domain.DecisionLedger
	logger   *logging.Logger
}

// NewReportHandlers creates a new ReportHandlers
func NewReportHandlers(
	pipeline *application.Pipeline,
	batch *application.BatchProcessor,
	ledger domain.DecisionLedger,
	logger *logging.Logger,
) *ReportHandlers {
	return &ReportHandlers{
		pipeline: pipeline,
		batch:    batch,
		ledger:   ledger,
		logger:   logger,
	}
}

// RegisterRoutes registers report routes on the router
func (h *ReportHandlers) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/stock-reports")
	{
		reports.POST("", h.SubmitReport)
		reports.POST("/batch", h.SubmitBatch)
	}
	router.GET("/audit-trail/:hospitalId/:productCode", h.GetAuditTrail)
	router.GET("/orders/open/:hospitalId/:productCode", h.GetOpenOrder)
}

// SubmitReport handles a single stock report and returns the decision.
func (h *ReportHandlers) SubmitReport(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req application.StockReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responder.RespondBadRequest("invalid request body: " + err.Error())
		return
	}

	middleware.AddSpanAttributes(c, map[string]interface{}{
		"hsc.hospital_id":  req.HospitalID,
		"hsc.product_code": req.ProductCode,
	})

	outcome, err := h.pipeline.ProcessRequest(c.Request.Context(), &req, domain.TransportSynchronous)
	if err != nil {
		responder.RespondWithError(err)
		return
	}

	status := http.StatusOK
	if outcome.OrderTriggered {
		status = http.StatusCreated
	}
	c.JSON(status, outcome)
}

// BatchRequest carries a batch of stock reports.
type BatchRequest struct {
	Reports []*application.StockReportRequest `json:"reports" binding:"required,min=1,max=500"`
}

// BatchItemResponse is the per-report result within a batch response.
type BatchItemResponse struct {
	Index          int    `json:"index"`
	OK             bool   `json:"ok"`
	OrderTriggered bool   `json:"orderTriggered"`
	OrderID        string `json:"orderId,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// SubmitBatch fans a batch of reports out over the worker pool and returns
// one result per report, in input order.
func (h *ReportHandlers) SubmitBatch(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responder.RespondBadRequest("invalid request body: " + err.Error())
		return
	}

	middleware.AddSpanAttributes(c, map[string]interface{}{
		"hsc.batch_size": len(req.Reports),
	})

	results := h.batch.ProcessBatch(c.Request.Context(), req.Reports, domain.TransportSynchronous)

	items := make([]BatchItemResponse, len(results))
	for i, r := range results {
		item := BatchItemResponse{Index: r.Index}
		switch {
		case r.Err != nil:
			appErr := errors.FromError(r.Err)
			item.ErrorCode = appErr.Code
			item.ErrorMessage = appErr.Message
		case r.Outcome != nil:
			item.OK = r.Outcome.OK
			item.OrderTriggered = r.Outcome.OrderTriggered
			item.OrderID = r.Outcome.OrderID
			item.Duplicate = r.Outcome.Duplicate
			item.Reason = r.Outcome.Reason
		}
		items[i] = item
	}

	c.JSON(http.StatusOK, gin.H{"results": items})
}

// GetAuditTrail returns the decision history for a hospital/product pair,
// most recent first.
func (h *ReportHandlers) GetAuditTrail(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	key := domain.DedupKey{
		HospitalID:  c.Param("hospitalId"),
		ProductCode: c.Param("productCode"),
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			responder.RespondBadRequest("limit must be an integer between 1 and 500")
			return
		}
		limit = parsed
	}

	middleware.AddSpanAttributes(c, map[string]interface{}{
		"hsc.hospital_id":  key.HospitalID,
		"hsc.product_code": key.ProductCode,
	})

	trail, err := h.ledger.FindAuditTrail(c.Request.Context(), key, limit)
	if err != nil {
		responder.RespondWithError(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hospitalId":  key.HospitalID,
		"productCode": key.ProductCode,
		"entries":     trail,
		"count":       len(trail),
	})
}

// GetOpenOrder returns the order currently occupying the decision window for
// a hospital/product pair, or 404 when the window is clear.
func (h *ReportHandlers) GetOpenOrder(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	key := domain.DedupKey{
		HospitalID:  c.Param("hospitalId"),
		ProductCode: c.Param("productCode"),
	}

	order, err := h.ledger.FindOpenOrder(c.Request.Context(), key)
	if err != nil {
		responder.RespondWithError(err)
		return
	}
	if order == nil {
		responder.RespondNotFound("open order")
		return
	}

	c.JSON(http.StatusOK, order)
}
