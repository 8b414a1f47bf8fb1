package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-supply/replenishment-service/internal/domain"
	"github.com/hospital-supply/replenishment-service/internal/infrastructure/mongodb"
	"github.com/hospital-supply/replenishment-service/pkg/events"
	"github.com/hospital-supply/replenishment-service/pkg/kafka"
	sharedtesting "github.com/hospital-supply/replenishment-service/pkg/testing"
)

// Test fixtures
func testReport(hospitalID, productCode string, daysOfSupply float64) *domain.StockReport {
	return &domain.StockReport{
		ReportID:              fmt.Sprintf("rpt-%s-%s", hospitalID, productCode),
		HospitalID:            hospitalID,
		ProductCode:           productCode,
		CurrentStockUnits:     40,
		DailyConsumptionUnits: 50,
		DaysOfSupply:          daysOfSupply,
		Timestamp:             time.Now().UTC(),
		SourceTransport:       domain.TransportAsynchronous,
	}
}

// testDecision builds a committed-decision fixture: an order, its audit entry,
// and the downstream command, from a low-stock report.
func testDecision(t *testing.T, hospitalID, productCode string) (*domain.StockReport, *domain.Order, *domain.AuditEntry, *domain.OrderCreationCommand) {
	t.Helper()

	engine := domain.NewDecisionEngine(domain.DefaultPolicy())
	report := testReport(hospitalID, productCode, 0.8)
	verdict := engine.Decide(report)
	require.True(t, verdict.ShouldOrder)

	order, err := domain.NewOrder(report, verdict, engine.Policy())
	require.NoError(t, err)

	entry := domain.NewOrderCreatedEntry(report, verdict, order)
	command := domain.NewOrderCreationCommand(order)
	return report, order, entry, command
}

func setupTestLedger(t *testing.T) (*mongodb.LedgerRepository, func()) {
	ctx := context.Background()

	// Start MongoDB container (single-node replica set for transactions)
	mongoContainer, err := sharedtesting.NewMongoDBContainer(ctx)
	require.NoError(t, err)

	// Get MongoDB client
	client, err := mongoContainer.GetClient(ctx)
	require.NoError(t, err)

	// Create repository with event factory
	db := client.Database("test_hsc_supply")
	eventFactory := events.NewEventFactory(events.SourceReplenishment)
	repo := mongodb.NewLedgerRepository(db, eventFactory)
	require.NoError(t, repo.EnsureIndexes(ctx))

	cleanup := func() {
		if err := client.Disconnect(ctx); err != nil {
			t.Logf("Failed to disconnect MongoDB client: %v", err)
		}
		if err := mongoContainer.Close(ctx); err != nil {
			t.Logf("Failed to close MongoDB container: %v", err)
		}
	}

	return repo, cleanup
}

// TestLedgerRepository_CommitDecision tests the atomic order+audit+command write
func TestLedgerRepository_CommitDecision(t *testing.T) {
	repo, cleanup := setupTestLedger(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t.Run("Commit with command writes order, audit entry and outbox event", func(t *testing.T) {
		report, order, entry, command := testDecision(t, "HOSP-A", "PHYSIO-SALINE")

		err := repo.CommitDecision(ctx, order, entry, command)
		require.NoError(t, err)

		// Order is persisted and occupies the decision window
		found, err := repo.FindOrderByID(ctx, order.OrderID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, domain.OrderStatusPending, found.Status)
		assert.Equal(t, order.OrderQuantity, found.OrderQuantity)

		open, err := repo.FindOpenOrder(ctx, report.DedupKey())
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, order.OrderID, open.OrderID)

		// Audit trail records the creation
		trail, err := repo.FindAuditTrail(ctx, report.DedupKey(), 10)
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, domain.DecisionOrderCreated, trail[0].DecisionType)
		assert.Equal(t, order.OrderID, trail[0].OrderID)

		// The command is staged in the outbox for the commands topic
		pending, err := repo.GetOutboxRepository().FindUnpublished(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, kafka.Topics.OrderCommands, pending[0].Topic)
		assert.Equal(t, order.OrderID, pending[0].AggregateID)
	})

	t.Run("Commit without command writes no outbox event", func(t *testing.T) {
		_, order, entry, _ := testDecision(t, "HOSP-SYNC", "GAUZE-STERILE")
		order.SourceTransport = domain.TransportSynchronous

		err := repo.CommitDecision(ctx, order, entry, nil)
		require.NoError(t, err)

		pending, err := repo.GetOutboxRepository().FindUnpublished(ctx, 100)
		require.NoError(t, err)
		for _, event := range pending {
			assert.NotEqual(t, order.OrderID, event.AggregateID)
		}
	})
}

// TestLedgerRepository_DuplicateSuppression tests the partial unique index on
// the open decision window
func TestLedgerRepository_DuplicateSuppression(t *testing.T) {
	repo, cleanup := setupTestLedger(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	report, first, firstEntry, firstCommand := testDecision(t, "HOSP-B", "INSULIN-PEN")
	require.NoError(t, repo.CommitDecision(ctx, first, firstEntry, firstCommand))

	t.Run("Second commit for the same pair fails with ErrDuplicateOrder", func(t *testing.T) {
		_, second, secondEntry, secondCommand := testDecision(t, "HOSP-B", "INSULIN-PEN")

		err := repo.CommitDecision(ctx, second, secondEntry, secondCommand)
		require.ErrorIs(t, err, domain.ErrDuplicateOrder)

		// The losing transaction left nothing behind
		found, err := repo.FindOrderByID(ctx, second.OrderID)
		require.NoError(t, err)
		assert.Nil(t, found)

		trail, err := repo.FindAuditTrail(ctx, report.DedupKey(), 10)
		require.NoError(t, err)
		assert.Len(t, trail, 1)

		pending, err := repo.GetOutboxRepository().FindUnpublished(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("Different product for the same hospital is not a duplicate", func(t *testing.T) {
		_, other, otherEntry, otherCommand := testDecision(t, "HOSP-B", "SYRINGE-5ML")
		assert.NoError(t, repo.CommitDecision(ctx, other, otherEntry, otherCommand))
	})

	t.Run("Window reopens once the order leaves an open status", func(t *testing.T) {
		require.NoError(t, repo.UpdateOrderStatus(ctx, first.OrderID, domain.OrderStatusDelivered))

		open, err := repo.FindOpenOrder(ctx, report.DedupKey())
		require.NoError(t, err)
		assert.Nil(t, open)

		_, replacement, replacementEntry, replacementCommand := testDecision(t, "HOSP-B", "INSULIN-PEN")
		assert.NoError(t, repo.CommitDecision(ctx, replacement, replacementEntry, replacementCommand))
	})
}

// TestLedgerRepository_RecordSkip tests the append-only skip path and trail ordering
func TestLedgerRepository_RecordSkip(t *testing.T) {
	repo, cleanup := setupTestLedger(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	engine := domain.NewDecisionEngine(domain.DefaultPolicy())
	key := domain.DedupKey{HospitalID: "HOSP-C", ProductCode: "BANDAGE-ROLL"}

	// Record three skip decisions with distinct timestamps
	for i := 1; i <= 3; i++ {
		report := testReport(key.HospitalID, key.ProductCode, 5.0)
		report.ReportID = fmt.Sprintf("rpt-skip-%d", i)
		verdict := engine.Decide(report)
		require.False(t, verdict.ShouldOrder)

		entry := domain.NewOrderSkippedEntry(report, verdict)
		entry.DecidedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.RecordSkip(ctx, entry))
	}

	t.Run("Trail is most recent first", func(t *testing.T) {
		trail, err := repo.FindAuditTrail(ctx, key, 10)
		require.NoError(t, err)
		require.Len(t, trail, 3)
		assert.Equal(t, "rpt-skip-3", trail[0].ReportID)
		assert.Equal(t, "rpt-skip-1", trail[2].ReportID)
		for _, entry := range trail {
			assert.Equal(t, domain.DecisionOrderSkipped, entry.DecisionType)
		}
	})

	t.Run("Limit caps the trail", func(t *testing.T) {
		trail, err := repo.FindAuditTrail(ctx, key, 2)
		require.NoError(t, err)
		assert.Len(t, trail, 2)
	})

	t.Run("Unknown pair has an empty trail", func(t *testing.T) {
		trail, err := repo.FindAuditTrail(ctx, domain.DedupKey{HospitalID: "HOSP-NONE", ProductCode: "NONE"}, 10)
		assert.NoError(t, err)
		assert.Empty(t, trail)
	})
}

// TestLedgerRepository_Lookups tests point lookups and status updates
func TestLedgerRepository_Lookups(t *testing.T) {
	repo, cleanup := setupTestLedger(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t.Run("FindOrderByID for non-existent order", func(t *testing.T) {
		found, err := repo.FindOrderByID(ctx, "ORD-NONEXISTENT")
		assert.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("FindOpenOrder for a clear window", func(t *testing.T) {
		open, err := repo.FindOpenOrder(ctx, domain.DedupKey{HospitalID: "HOSP-D", ProductCode: "CLEAR"})
		assert.NoError(t, err)
		assert.Nil(t, open)
	})

	t.Run("UpdateOrderStatus for non-existent order", func(t *testing.T) {
		err := repo.UpdateOrderStatus(ctx, "ORD-NONEXISTENT", domain.OrderStatusShipped)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("UpdateOrderStatus rejects an invalid status", func(t *testing.T) {
		_, order, entry, _ := testDecision(t, "HOSP-D", "THERMOMETER")
		require.NoError(t, repo.CommitDecision(ctx, order, entry, nil))

		err := repo.UpdateOrderStatus(ctx, order.OrderID, domain.OrderStatus("BOGUS"))
		assert.Error(t, err)
	})
}
