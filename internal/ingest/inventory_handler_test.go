package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-supply/replenishment-service/pkg/contracts"
	"github.com/hospital-supply/replenishment-service/pkg/events"
	"github.com/hospital-supply/replenishment-service/pkg/idempotency"
	"github.com/hospital-supply/replenishment-service/pkg/logging"
	"github.com/hospital-supply/replenishment-service/pkg/metrics"
	"github.com/hospital-supply/replenishment-service/pkg/middleware"

	"github.com/hospital-supply/replenishment-service/internal/application"
	"github.com/hospital-supply/replenishment-service/internal/domain"
)

type fakeLedger struct {
	mu       sync.Mutex
	open     map[domain.DedupKey]*domain.Order
	entries  []*domain.AuditEntry
	commands []*domain.OrderCreationCommand

	failCommit error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{open: make(map[domain.DedupKey]*domain.Order)}
}

func (l *fakeLedger) FindOpenOrder(ctx context.Context, key domain.DedupKey) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[key], nil
}

func (l *fakeLedger) CommitDecision(ctx context.Context, order *domain.Order, entry *domain.AuditEntry, command *domain.OrderCreationCommand) error {
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
	if command != nil {
		l.commands = append(l.commands, command)
	}
	return nil
}

func (l *fakeLedger) RecordSkip(ctx context.Context, entry *domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *fakeLedger) FindAuditTrail(ctx context.Context, key domain.DedupKey, limit int) ([]*domain.AuditEntry, error) {
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

// memMessageRepo is an in-memory idempotency.MessageRepository.
type memMessageRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{seen: make(map[string]bool)}
}

func (r *memMessageRepo) dedupeKey(messageID, topic, consumerGroup string) string {
	return messageID + "|" + topic + "|" + consumerGroup
}

func (r *memMessageRepo) MarkProcessed(ctx context.Context, msg *idempotency.ProcessedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.dedupeKey(msg.MessageID, msg.Topic, msg.ConsumerGroup)
	if r.seen[key] {
		return idempotency.ErrMessageAlreadyProcessed
	}
	r.seen[key] = true
	return nil
}

func (r *memMessageRepo) IsProcessed(ctx context.Context, messageID, topic, consumerGroup string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[r.dedupeKey(messageID, topic, consumerGroup)], nil
}

func (r *memMessageRepo) Clean(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *memMessageRepo) EnsureIndexes(ctx context.Context) error {
	return nil
}

func newTestHandler(t *testing.T, ledger domain.DecisionLedger) *InventoryEventHandler {
	t.Helper()

	commandSchemas, err := contracts.NewEventValidator()
	require.NoError(t, err)

	m := metrics.New(metrics.DefaultConfig("ingest-test"))
	logger := logging.New(logging.DefaultConfig("ingest-test"))

	pipeline := application.NewPipeline(
		application.NewReportValidator(),
		domain.NewDecisionEngine(domain.DefaultPolicy()),
		ledger,
		commandSchemas,
		logger,
		middleware.NewBusinessMetrics(m),
	)
	return NewInventoryEventHandler(pipeline, logger)
}

func lowStockEvent(eventID string) *events.CloudEvent {
	factory := events.NewEventFactory(events.SourceHospital)
	event := factory.CreateEvent(context.Background(), events.InventoryLow, "HOSP-A/PHYSIO-SALINE", map[string]interface{}{
		"eventId":               eventID,
		"eventType":             "LOW_STOCK",
		"hospitalId":            "HOSP-A",
		"productCode":           "PHYSIO-SALINE",
		"currentStockUnits":     40,
		"dailyConsumptionUnits": 50,
		"daysOfSupply":          0.8,
		"timestamp":             "2026-01-15T10:30:00Z",
	})
	event.ID = eventID
	event.HospitalID = "HOSP-A"
	event.ProductCode = "PHYSIO-SALINE"
	return event
}

func TestHandleInventoryLow_CreatesOrderAndCommand(t *testing.T) {
	ledger := newFakeLedger()
	h := newTestHandler(t, ledger)

	err := h.HandleInventoryLow(context.Background(), lowStockEvent("evt-1"))
	require.NoError(t, err)

	require.Len(t, ledger.entries, 1)
	assert.Equal(t, domain.DecisionOrderCreated, ledger.entries[0].DecisionType)
	assert.Equal(t, "evt-1", ledger.entries[0].ReportID)
	assert.Equal(t, domain.TransportAsynchronous, ledger.entries[0].SourceTransport)

	// Asynchronous reports enqueue the downstream command.
	require.Len(t, ledger.commands, 1)
	assert.Equal(t, domain.CommandTypeCreateOrder, ledger.commands[0].CommandType)
}

func TestHandleInventoryLow_RedeliverySuppressedByGate(t *testing.T) {
	ledger := newFakeLedger()
	h := newTestHandler(t, ledger)

	require.NoError(t, h.HandleInventoryLow(context.Background(), lowStockEvent("evt-1")))
	require.NoError(t, h.HandleInventoryLow(context.Background(), lowStockEvent("evt-2")))

	// One order and one command; the redelivery leaves only a skip entry.
	assert.Len(t, ledger.commands, 1)
	require.Len(t, ledger.entries, 2)
	assert.Equal(t, domain.DecisionOrderSkipped, ledger.entries[1].DecisionType)
	assert.Equal(t, domain.ReasonDuplicateSuppressed, ledger.entries[1].Reason)
	assert.Equal(t, ledger.entries[0].OrderID, ledger.entries[1].OrderID)
}

func TestHandleInventoryLow_InvalidPayloadDropped(t *testing.T) {
	ledger := newFakeLedger()
	h := newTestHandler(t, ledger)

	event := lowStockEvent("evt-bad")
	event.Data = map[string]interface{}{
		"hospitalId": "HOSP-A",
		// productCode and the numeric fields are missing
	}

	err := h.HandleInventoryLow(context.Background(), event)
	assert.NoError(t, err)
	assert.Empty(t, ledger.entries)
}

func TestHandleInventoryLow_NoDataDropped(t *testing.T) {
	ledger := newFakeLedger()
	h := newTestHandler(t, ledger)

	event := lowStockEvent("evt-empty")
	event.Data = nil

	assert.NoError(t, h.HandleInventoryLow(context.Background(), event))
	assert.Empty(t, ledger.entries)
}

func TestHandleInventoryLow_PersistenceFailurePropagates(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failCommit = fmt.Errorf("no reachable primary")
	h := newTestHandler(t, ledger)

	err := h.HandleInventoryLow(context.Background(), lowStockEvent("evt-1"))
	assert.Error(t, err)
}

func TestHandleInventoryLow_StructPayload(t *testing.T) {
	ledger := newFakeLedger()
	h := newTestHandler(t, ledger)

	event := lowStockEvent("evt-struct")
	event.Data = events.InventoryLowData{
		EventID:               "evt-struct",
		EventType:             "LOW_STOCK",
		HospitalID:            "HOSP-B",
		ProductCode:           "MED-GLOVES",
		CurrentStockUnits:     10,
		DailyConsumptionUnits: 8,
		DaysOfSupply:          1.25,
		Timestamp:             time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}

	require.NoError(t, h.HandleInventoryLow(context.Background(), event))
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, "HOSP-B", ledger.entries[0].HospitalID)
}

func TestDeduplicatingHandler_SkipsRedeliveredMessage(t *testing.T) {
	ledger := newFakeLedger()
	h := newTestHandler(t, ledger)

	repo := newMemMessageRepo()
	config := idempotency.DefaultConsumerConfig("ingest-test", "hsc.inventory.events", "hsc-replenishment", repo)
	handler := idempotency.DeduplicatingHandler(config, h.HandleInventoryLow)

	event := lowStockEvent("evt-1")
	require.NoError(t, handler(context.Background(), event))
	require.NoError(t, handler(context.Background(), event))

	// Second delivery never reaches the pipeline: one audit entry, not two.
	assert.Len(t, ledger.entries, 1)

	processed, err := repo.IsProcessed(context.Background(), "evt-1", "hsc.inventory.events", "hsc-replenishment")
	require.NoError(t, err)
	assert.True(t, processed)
}
