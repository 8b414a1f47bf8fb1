package domain

import (
	"context"
)

// DecisionLedger is the persistence collaborator shared by both transports.
// It is the single source of truth for orders and their audit trail.
//
// Implementations must make CommitDecision an atomic check-and-write keyed by
// the order's hospital/product pair: two concurrent callers observing the
// same qualifying condition must not both commit. The losing writer receives
// ErrDuplicateOrder.
type DecisionLedger interface {
	// FindOpenOrder returns the order currently occupying the decision window
	// for the key, or nil when the window is clear.
	FindOpenOrder(ctx context.Context, key DedupKey) (*Order, error)

	// CommitDecision atomically persists an order together with its
	// ORDER_CREATED audit entry and, when command is non-nil, the outbound
	// command for downstream delivery. Either all three are written or none.
	// Returns ErrDuplicateOrder when an open order already holds the window.
	CommitDecision(ctx context.Context, order *Order, entry *AuditEntry, command *OrderCreationCommand) error

	// RecordSkip appends an ORDER_SKIPPED audit entry. Used for adequate
	// stock, suppressed duplicates, and invalid-quantity downgrades.
	RecordSkip(ctx context.Context, entry *AuditEntry) error

	// FindAuditTrail returns the audit entries for a hospital/product pair,
	// most recent first.
	FindAuditTrail(ctx context.Context, key DedupKey, limit int) ([]*AuditEntry, error)
}
