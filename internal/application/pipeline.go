package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hospital-supply/replenishment-service/pkg/contracts"
	"github.com/hospital-supply/replenishment-service/pkg/errors"
	"github.com/hospital-supply/replenishment-service/pkg/events"
	"github.com/hospital-supply/replenishment-service/pkg/logging"
	"github.com/hospital-supply/replenishment-service/pkg/middleware"

	"github.com/hospital-supply/replenishment-service/internal/domain"
)

// Outcome is the result of processing a single stock report. It is returned
// inline to synchronous callers and logged for asynchronous ones.
type Outcome struct {
	OK             bool   `json:"ok"`
	OrderTriggered bool   `json:"orderTriggered"`
	OrderID        string `json:"orderId,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Decision outcome labels for the reports_processed metric.
const (
	decisionOrdered         = "ordered"
	decisionSkipped         = "skipped"
	decisionDuplicate       = "duplicate"
	decisionInvalidQuantity = "invalid_quantity"
)

// Pipeline is the shared decision path behind both transports. Validation and
// the decision engine are pure; all state lives in the ledger, so a single
// Pipeline instance serves concurrent callers.
type Pipeline struct {
	validator       *ReportValidator
	engine          *domain.DecisionEngine
	ledger          domain.DecisionLedger
	commandSchemas  *contracts.EventValidator
	logger          *logging.Logger
	businessMetrics *middleware.BusinessMetrics
}

// NewPipeline creates a Pipeline around the given collaborators.
func NewPipeline(
	validator *ReportValidator,
	engine *domain.DecisionEngine,
	ledger domain.DecisionLedger,
	commandSchemas *contracts.EventValidator,
	logger *logging.Logger,
	businessMetrics *middleware.BusinessMetrics,
) *Pipeline {
	return &Pipeline{
		validator:       validator,
		engine:          engine,
		ledger:          ledger,
		commandSchemas:  commandSchemas,
		logger:          logger,
		businessMetrics: businessMetrics,
	}
}

// ProcessPayload validates an untyped payload and runs it through the
// pipeline. Used by the asynchronous transport.
func (p *Pipeline) ProcessPayload(ctx context.Context, payload map[string]interface{}, source domain.SourceTransport) (*Outcome, error) {
	report, appErr := p.validator.ParseStockReport(payload, source)
	if appErr != nil {
		p.recordValidationFailure(source, appErr)
		return nil, appErr
	}
	return p.Process(ctx, report)
}

// ProcessRequest validates a bound request and runs it through the pipeline.
// Used by the synchronous transport.
func (p *Pipeline) ProcessRequest(ctx context.Context, req *StockReportRequest, source domain.SourceTransport) (*Outcome, error) {
	report, appErr := p.validator.ValidateRequest(req, source)
	if appErr != nil {
		p.recordValidationFailure(source, appErr)
		return nil, appErr
	}
	return p.Process(ctx, report)
}

// Process runs a validated report through the decision engine, the
// idempotency gate and the ledger. Exactly one audit entry is written per
// report that reaches a decision; persistence failures propagate with
// nothing written.
func (p *Pipeline) Process(ctx context.Context, report *domain.StockReport) (*Outcome, error) {
	start := time.Now()
	transport := string(report.SourceTransport)
	ctx = logging.ContextWithReport(ctx, report.ReportID, report.HospitalID)

	verdict := p.engine.Decide(report)

	if !verdict.ShouldOrder {
		return p.recordSkip(ctx, report, domain.NewOrderSkippedEntry(report, verdict), decisionSkipped, start)
	}

	// Idempotency gate: an open order for the pair suppresses the trigger.
	existing, err := p.ledger.FindOpenOrder(ctx, report.DedupKey())
	if err != nil {
		return nil, p.persistenceFailure(ctx, report, "find open order", err)
	}
	if existing != nil {
		return p.suppressDuplicate(ctx, report, verdict, existing.OrderID, start)
	}

	order, err := domain.NewOrder(report, verdict, p.engine.Policy())
	if err != nil {
		if stderrors.Is(err, domain.ErrInvalidQuantity) {
			p.logger.WithContext(ctx).Warn("Trigger verdict downgraded to skip",
				"reason", err.Error(),
				"hospitalId", report.HospitalID,
				"productCode", report.ProductCode)
			return p.recordSkip(ctx, report, domain.NewInvalidQuantityEntry(report, verdict), decisionInvalidQuantity, start)
		}
		return nil, errors.ErrInternal("failed to build order").Wrap(err)
	}

	entry := domain.NewOrderCreatedEntry(report, verdict, order)

	// Outbound commands are only enqueued for asynchronous reports;
	// synchronous callers receive the outcome inline.
	var command *domain.OrderCreationCommand
	if report.SourceTransport == domain.TransportAsynchronous {
		command = domain.NewOrderCreationCommand(order)
		if err := p.commandSchemas.ValidateData(events.OrderCreateCommand, command); err != nil {
			return nil, errors.ErrInternal("order command violates the downstream contract").Wrap(err)
		}
	}

	if err := p.ledger.CommitDecision(ctx, order, entry, command); err != nil {
		if stderrors.Is(err, domain.ErrDuplicateOrder) {
			// A concurrent writer won the window between the gate check
			// and the commit.
			winner, ferr := p.ledger.FindOpenOrder(ctx, report.DedupKey())
			if ferr != nil {
				return nil, p.persistenceFailure(ctx, report, "find open order", ferr)
			}
			winnerID := ""
			if winner != nil {
				winnerID = winner.OrderID
			}
			return p.suppressDuplicate(ctx, report, verdict, winnerID, start)
		}
		return nil, p.persistenceFailure(ctx, report, "commit decision", err)
	}

	p.businessMetrics.RecordOrderCreated(string(order.Priority), transport)
	p.businessMetrics.RecordReportProcessed(transport, decisionOrdered)
	p.businessMetrics.RecordDecisionDuration(transport, time.Since(start))

	p.logger.Decision(logging.ContextWithOrderID(ctx, order.OrderID),
		string(domain.DecisionOrderCreated), verdict.Reason, map[string]any{
			"orderId":       order.OrderID,
			"hospitalId":    order.HospitalID,
			"productCode":   order.ProductCode,
			"orderQuantity": order.OrderQuantity,
			"priority":      string(order.Priority),
			"daysOfSupply":  verdict.DaysOfSupply,
			"transport":     transport,
		})

	return &Outcome{
		OK:             true,
		OrderTriggered: true,
		OrderID:        order.OrderID,
		Reason:         verdict.Reason,
	}, nil
}

func (p *Pipeline) recordSkip(ctx context.Context, report *domain.StockReport, entry *domain.AuditEntry, decision string, start time.Time) (*Outcome, error) {
	transport := string(report.SourceTransport)

	if err := p.ledger.RecordSkip(ctx, entry); err != nil {
		return nil, p.persistenceFailure(ctx, report, "record skip", err)
	}

	p.businessMetrics.RecordReportProcessed(transport, decision)
	p.businessMetrics.RecordDecisionDuration(transport, time.Since(start))

	p.logger.Decision(ctx, string(domain.DecisionOrderSkipped), entry.Reason, map[string]any{
		"hospitalId":   report.HospitalID,
		"productCode":  report.ProductCode,
		"daysOfSupply": entry.DaysOfSupplyAtDecision,
		"transport":    transport,
	})

	return &Outcome{OK: true, Reason: entry.Reason}, nil
}

func (p *Pipeline) suppressDuplicate(ctx context.Context, report *domain.StockReport, verdict domain.Verdict, existingOrderID string, start time.Time) (*Outcome, error) {
	transport := string(report.SourceTransport)

	entry := domain.NewDuplicateSuppressedEntry(report, verdict, existingOrderID)
	if err := p.ledger.RecordSkip(ctx, entry); err != nil {
		return nil, p.persistenceFailure(ctx, report, "record skip", err)
	}

	p.businessMetrics.RecordDuplicateSuppressed(transport)
	p.businessMetrics.RecordReportProcessed(transport, decisionDuplicate)
	p.businessMetrics.RecordDecisionDuration(transport, time.Since(start))

	p.logger.Decision(ctx, string(domain.DecisionOrderSkipped), domain.ReasonDuplicateSuppressed, map[string]any{
		"hospitalId":      report.HospitalID,
		"productCode":     report.ProductCode,
		"existingOrderId": existingOrderID,
		"transport":       transport,
	})

	return &Outcome{
		OK:        true,
		Duplicate: true,
		OrderID:   existingOrderID,
		Reason:    domain.ReasonDuplicateSuppressed,
	}, nil
}

func (p *Pipeline) persistenceFailure(ctx context.Context, report *domain.StockReport, operation string, err error) error {
	p.logger.WithContext(ctx).WithError(err).Error("Decision could not be persisted",
		"operation", operation,
		"reportId", report.ReportID,
		"hospitalId", report.HospitalID,
		"productCode", report.ProductCode,
		"transport", string(report.SourceTransport))

	if appErr, ok := errors.AsAppError(err); ok {
		return appErr
	}
	return errors.ErrPersistenceUnavailable(operation).Wrap(fmt.Errorf("%s: %w", operation, err))
}

func (p *Pipeline) recordValidationFailure(source domain.SourceTransport, appErr *errors.AppError) {
	transport := string(source)
	if len(appErr.Details) == 0 {
		p.businessMetrics.RecordValidationFailure(transport, "payload")
		return
	}
	for field := range appErr.Details {
		p.businessMetrics.RecordValidationFailure(transport, field)
	}
}
