package application

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-supply/replenishment-service/pkg/contracts"
	"github.com/hospital-supply/replenishment-service/pkg/errors"
	"github.com/hospital-supply/replenishment-service/pkg/logging"
	"github.com/hospital-supply/replenishment-service/pkg/metrics"
	"github.com/hospital-supply/replenishment-service/pkg/middleware"

	"github.com/hospital-supply/replenishment-service/internal/domain"
)

// memLedger is an in-memory DecisionLedger that mirrors the atomicity
// contract of the Mongo implementation: CommitDecision is a check-and-write
// under one lock, so concurrent duplicates lose with ErrDuplicateOrder.
type memLedger struct {
	mu       sync.Mutex
	open     map[domain.DedupKey]*domain.Order
	orders   []*domain.Order
	entries  []*domain.AuditEntry
	commands []*domain.OrderCreationCommand

	failCommit error
	failSkip   error
	failFind   error
}

func newMemLedger() *memLedger {
	return &memLedger{open: make(map[domain.DedupKey]*domain.Order)}
}

func (l *memLedger) FindOpenOrder(ctx context.Context, key domain.DedupKey) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failFind != nil {
		return nil, l.failFind
	}
	return l.open[key], nil
}

func (l *memLedger) CommitDecision(ctx context.Context, order *domain.Order, entry *domain.AuditEntry, command *domain.OrderCreationCommand) error {
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
	l.orders = append(l.orders, order)
	l.entries = append(l.entries, entry)
	if command != nil {
		l.commands = append(l.commands, command)
	}
	return nil
}

func (l *memLedger) RecordSkip(ctx context.Context, entry *domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSkip != nil {
		return l.failSkip
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memLedger) FindAuditTrail(ctx context.Context, key domain.DedupKey, limit int) ([]*domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var trail []*domain.AuditEntry
	for i := len(l.entries) - 1; i >= 0 && (limit <= 0 || len(trail) < limit); i-- {
		e := l.entries[i]
		if e.HospitalID == key.HospitalID && e.ProductCode == key.ProductCode {
			trail = append(trail, e)
		}
	}
	return trail, nil
}

func newTestPipeline(t *testing.T, ledger domain.DecisionLedger) *Pipeline {
	t.Helper()

	commandSchemas, err := contracts.NewEventValidator()
	require.NoError(t, err)

	m := metrics.New(metrics.DefaultConfig("pipeline-test"))
	logger := logging.New(logging.DefaultConfig("pipeline-test"))

	return NewPipeline(
		NewReportValidator(),
		domain.NewDecisionEngine(domain.DefaultPolicy()),
		ledger,
		commandSchemas,
		logger,
		middleware.NewBusinessMetrics(m),
	)
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func validRequest() *StockReportRequest {
	return &StockReportRequest{
		ReportID:              "rpt-001",
		HospitalID:            "HOSP-A",
		ProductCode:           "PHYSIO-SALINE",
		CurrentStockUnits:     intPtr(40),
		DailyConsumptionUnits: intPtr(50),
		DaysOfSupply:          floatPtr(0.8),
		Timestamp:             "2026-01-15T10:30:00Z",
	}
}

func TestProcessRequest_UrgentOrderCreated(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)

	outcome, err := p.ProcessRequest(context.Background(), validRequest(), domain.TransportSynchronous)
	require.NoError(t, err)

	assert.True(t, outcome.OK)
	assert.True(t, outcome.OrderTriggered)
	assert.False(t, outcome.Duplicate)
	assert.Regexp(t, `^ORD-\d{8}-[A-F0-9]{8}$`, outcome.OrderID)

	require.Len(t, ledger.orders, 1)
	order := ledger.orders[0]
	assert.Equal(t, domain.PriorityUrgent, order.Priority)
	assert.Equal(t, 50*7-40, order.OrderQuantity)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.CentralWarehouseID, order.WarehouseID)

	require.Len(t, ledger.entries, 1)
	assert.Equal(t, domain.DecisionOrderCreated, ledger.entries[0].DecisionType)
	assert.Equal(t, order.OrderID, ledger.entries[0].OrderID)
	assert.Equal(t, "rpt-001", ledger.entries[0].ReportID)

	// Synchronous reports never enqueue downstream commands.
	assert.Empty(t, ledger.commands)
}

func TestProcessRequest_AsyncEnqueuesCommand(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)

	req := validRequest()
	req.CurrentStockUnits = intPtr(30)
	req.DailyConsumptionUnits = intPtr(20)
	req.DaysOfSupply = floatPtr(1.5)

	outcome, err := p.ProcessRequest(context.Background(), req, domain.TransportAsynchronous)
	require.NoError(t, err)
	assert.True(t, outcome.OrderTriggered)

	require.Len(t, ledger.commands, 1)
	cmd := ledger.commands[0]
	assert.Equal(t, domain.CommandTypeCreateOrder, cmd.CommandType)
	assert.Equal(t, outcome.OrderID, cmd.OrderID)
	assert.Equal(t, 20*7-30, cmd.OrderQuantity)
	assert.Equal(t, domain.PriorityHigh, cmd.Priority)
}

func TestProcessRequest_AdequateStockSkips(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)

	req := validRequest()
	req.CurrentStockUnits = intPtr(500)
	req.DaysOfSupply = floatPtr(10.0)

	outcome, err := p.ProcessRequest(context.Background(), req, domain.TransportSynchronous)
	require.NoError(t, err)

	assert.True(t, outcome.OK)
	assert.False(t, outcome.OrderTriggered)
	assert.Empty(t, outcome.OrderID)

	require.Len(t, ledger.entries, 1)
	assert.Equal(t, domain.DecisionOrderSkipped, ledger.entries[0].DecisionType)
	assert.Empty(t, ledger.orders)
}

func TestProcessRequest_InvalidQuantityDowngradesToSkip(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)

	// Stock above the restock target despite a low daysOfSupply reading.
	req := validRequest()
	req.CurrentStockUnits = intPtr(400)
	req.DailyConsumptionUnits = intPtr(50)
	req.DaysOfSupply = floatPtr(0.5)

	outcome, err := p.ProcessRequest(context.Background(), req, domain.TransportSynchronous)
	require.NoError(t, err)

	assert.True(t, outcome.OK)
	assert.False(t, outcome.OrderTriggered)
	assert.Equal(t, domain.ReasonInvalidQuantity, outcome.Reason)

	require.Len(t, ledger.entries, 1)
	assert.Equal(t, domain.DecisionOrderSkipped, ledger.entries[0].DecisionType)
	assert.Equal(t, domain.ReasonInvalidQuantity, ledger.entries[0].Reason)
	assert.Empty(t, ledger.orders)
}

func TestProcessRequest_DuplicateSuppressed(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)

	first, err := p.ProcessRequest(context.Background(), validRequest(), domain.TransportAsynchronous)
	require.NoError(t, err)
	require.True(t, first.OrderTriggered)

	second, err := p.ProcessRequest(context.Background(), validRequest(), domain.TransportAsynchronous)
	require.NoError(t, err)

	assert.True(t, second.OK)
	assert.False(t, second.OrderTriggered)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, domain.ReasonDuplicateSuppressed, second.Reason)

	// One order, one command, two audit entries.
	assert.Len(t, ledger.orders, 1)
	assert.Len(t, ledger.commands, 1)
	require.Len(t, ledger.entries, 2)
	assert.Equal(t, domain.DecisionOrderSkipped, ledger.entries[1].DecisionType)
	assert.Equal(t, first.OrderID, ledger.entries[1].OrderID)
}

func TestProcessRequest_ValidationFailure(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)

	tests := []struct {
		name   string
		mutate func(req *StockReportRequest)
		field  string
	}{
		{
			name:   "missing hospital id",
			mutate: func(req *StockReportRequest) { req.HospitalID = "" },
			field:  "hospitalId",
		},
		{
			name:   "negative stock",
			mutate: func(req *StockReportRequest) { req.CurrentStockUnits = intPtr(-5) },
			field:  "currentStockUnits",
		},
		{
			name:   "missing daysOfSupply",
			mutate: func(req *StockReportRequest) { req.DaysOfSupply = nil },
			field:  "daysOfSupply",
		},
		{
			name:   "bad timestamp",
			mutate: func(req *StockReportRequest) { req.Timestamp = "yesterday" },
			field:  "timestamp",
		},
		{
			name:   "malformed product code",
			mutate: func(req *StockReportRequest) { req.ProductCode = "has spaces in it" },
			field:  "productCode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			outcome, err := p.ProcessRequest(context.Background(), req, domain.TransportSynchronous)
			assert.Nil(t, outcome)
			require.Error(t, err)

			appErr, ok := errors.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, errors.CodeValidationError, appErr.Code)
			assert.Contains(t, appErr.Details, tt.field)

			// Nothing reaches the ledger on validation failure.
			assert.Empty(t, ledger.entries)
			assert.Empty(t, ledger.orders)
		})
	}
}

func TestProcessPayload_UntypedPayload(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)

	payload := map[string]interface{}{
		"eventId":               "evt-42",
		"hospitalId":            "HOSP-B",
		"productCode":           "SYRINGE-5ML",
		"currentStockUnits":     10,
		"dailyConsumptionUnits": 8,
		"daysOfSupply":          1.25,
		"timestamp":             "2026-01-15T08:00:00Z",
	}

	outcome, err := p.ProcessPayload(context.Background(), payload, domain.TransportAsynchronous)
	require.NoError(t, err)
	assert.True(t, outcome.OrderTriggered)

	require.Len(t, ledger.entries, 1)
	assert.Equal(t, "evt-42", ledger.entries[0].ReportID)
}

func TestProcessRequest_PersistenceFailurePropagates(t *testing.T) {
	ledger := newMemLedger()
	ledger.failCommit = fmt.Errorf("connection reset")
	p := newTestPipeline(t, ledger)

	outcome, err := p.ProcessRequest(context.Background(), validRequest(), domain.TransportSynchronous)
	assert.Nil(t, outcome)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodePersistenceUnavailable))
}

func TestProcessRequest_SkipPersistenceFailurePropagates(t *testing.T) {
	ledger := newMemLedger()
	ledger.failSkip = fmt.Errorf("connection reset")
	p := newTestPipeline(t, ledger)

	req := validRequest()
	req.DaysOfSupply = floatPtr(5.0)

	outcome, err := p.ProcessRequest(context.Background(), req, domain.TransportSynchronous)
	assert.Nil(t, outcome)
	assert.True(t, errors.HasCode(err, errors.CodePersistenceUnavailable))
}

func TestProcess_ConcurrentIdenticalReports(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)

	const goroutines = 8
	outcomes := make([]*Outcome, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest()
			req.ReportID = fmt.Sprintf("rpt-%03d", i)
			outcomes[i], errs[i] = p.ProcessRequest(context.Background(), req, domain.TransportAsynchronous)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
		if outcomes[i].OrderTriggered {
			created++
		} else {
			assert.True(t, outcomes[i].Duplicate)
		}
	}

	assert.Equal(t, 1, created)
	assert.Len(t, ledger.orders, 1)
	assert.Len(t, ledger.commands, 1)
}
