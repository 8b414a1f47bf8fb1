package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hospital-supply/replenishment-service/pkg/events"
	"github.com/hospital-supply/replenishment-service/pkg/kafka"
	"github.com/hospital-supply/replenishment-service/pkg/outbox"
	outboxMongo "github.com/hospital-supply/replenishment-service/pkg/outbox/mongodb"

	"github.com/hospital-supply/replenishment-service/internal/domain"
)

const (
	ordersCollection = "orders"
	auditCollection  = "audit_entries"

	// writeTimeout bounds every ledger write. A hung primary surfaces as a
	// persistence failure instead of blocking the pipeline.
	writeTimeout = 10 * time.Second
)

// LedgerRepository implements domain.DecisionLedger on MongoDB.
//
// The atomicity contract rests on two mechanisms: CommitDecision runs in a
// multi-document transaction, and a partial unique index on
// {hospitalId, productCode} filtered to open statuses turns a concurrent
// duplicate into a duplicate-key error inside that transaction.
type LedgerRepository struct {
	orders       *mongo.Collection
	audit        *mongo.Collection
	db           *mongo.Database
	outboxRepo   *outboxMongo.OutboxRepository
	eventFactory *events.EventFactory
}

// NewLedgerRepository creates a new LedgerRepository and ensures its indexes.
func NewLedgerRepository(db *mongo.Database, eventFactory *events.EventFactory) *LedgerRepository {
	r := &LedgerRepository{
		orders:       db.Collection(ordersCollection),
		audit:        db.Collection(auditCollection),
		db:           db,
		outboxRepo:   outboxMongo.NewOutboxRepository(db),
		eventFactory: eventFactory,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.EnsureIndexes(ctx)

	return r
}

// EnsureIndexes creates the ledger indexes. The partial unique index is the
// load-bearing one; without it two concurrent commits for the same pair could
// both succeed.
func (r *LedgerRepository) EnsureIndexes(ctx context.Context) error {
	openStatuses := make([]string, 0, len(domain.OpenStatuses()))
	for _, s := range domain.OpenStatuses() {
		openStatuses = append(openStatuses, string(s))
	}

	orderIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "orderId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "hospitalId", Value: 1},
				{Key: "productCode", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetName("open_decision_window").
				SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": openStatuses},
				}),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "createdAt", Value: -1},
			},
		},
	}

	if _, err := r.orders.Indexes().CreateMany(ctx, orderIndexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}

	auditIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "decisionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "hospitalId", Value: 1},
				{Key: "productCode", Value: 1},
				{Key: "decidedAt", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "reportId", Value: 1}},
		},
	}

	if _, err := r.audit.Indexes().CreateMany(ctx, auditIndexes); err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}

	return r.outboxRepo.EnsureIndexes(ctx)
}

// FindOpenOrder returns the order occupying the decision window for the key,
// or nil when the window is clear.
func (r *LedgerRepository) FindOpenOrder(ctx context.Context, key domain.DedupKey) (*domain.Order, error) {
	filter := bson.M{
		"hospitalId":  key.HospitalID,
		"productCode": key.ProductCode,
		"status":      bson.M{"$in": domain.OpenStatuses()},
	}

	var order domain.Order
	err := r.orders.FindOne(ctx, filter).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open order for %s: %w", key, err)
	}

	return &order, nil
}

// CommitDecision atomically persists the order, its audit entry and, when
// command is non-nil, the outbound command as an outbox event. A concurrent
// commit for the same pair aborts with domain.ErrDuplicateOrder.
func (r *LedgerRepository) CommitDecision(ctx context.Context, order *domain.Order, entry *domain.AuditEntry, command *domain.OrderCreationCommand) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	session, err := r.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if _, err := r.orders.InsertOne(sessCtx, order); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, domain.ErrDuplicateOrder
			}
			return nil, fmt.Errorf("failed to insert order: %w", err)
		}

		if _, err := r.audit.InsertOne(sessCtx, entry); err != nil {
			return nil, fmt.Errorf("failed to insert audit entry: %w", err)
		}

		if command != nil {
			event := r.eventFactory.CreateOrderCommandEvent(sessCtx,
				order.OrderID, order.HospitalID, order.ProductCode, command)

			outboxEvent, err := outbox.NewOutboxEventFromCloudEvent(
				order.OrderID,
				"Order",
				kafka.Topics.OrderCommands,
				event,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create outbox event: %w", err)
			}

			if err := r.outboxRepo.Save(sessCtx, outboxEvent); err != nil {
				return nil, fmt.Errorf("failed to save outbox event: %w", err)
			}
		}

		return nil, nil
	})

	if err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// RecordSkip appends an ORDER_SKIPPED audit entry.
func (r *LedgerRepository) RecordSkip(ctx context.Context, entry *domain.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if _, err := r.audit.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// FindAuditTrail returns the audit entries for a pair, most recent first.
func (r *LedgerRepository) FindAuditTrail(ctx context.Context, key domain.DedupKey, limit int) ([]*domain.AuditEntry, error) {
	filter := bson.M{
		"hospitalId":  key.HospitalID,
		"productCode": key.ProductCode,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "decidedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.audit.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail for %s: %w", key, err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.AuditEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit trail for %s: %w", key, err)
	}

	return entries, nil
}

// FindOrderByID returns an order by its identifier, or nil when absent.
func (r *LedgerRepository) FindOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := r.orders.FindOne(ctx, bson.M{"orderId": orderID}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find order %s: %w", orderID, err)
	}
	return &order, nil
}

// UpdateOrderStatus moves an order to a new lifecycle status. Leaving the
// open statuses releases the pair's decision window.
func (r *LedgerRepository) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid order status %q", status)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	result, err := r.orders.UpdateOne(ctx,
		bson.M{"orderId": orderID},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", orderID, err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// GetOutboxRepository returns the outbox repository backing this ledger.
func (r *LedgerRepository) GetOutboxRepository() outbox.Repository {
	return r.outboxRepo
}
