package domain

import (
	"testing"
)

func TestAuditEntryConstructors(t *testing.T) {
	policy := DefaultPolicy()
	engine := NewDecisionEngine(policy)

	t.Run("order created entry", func(t *testing.T) {
		r := report(1.33, 40, 30)
		verdict := engine.Decide(r)
		order, err := NewOrder(r, verdict, policy)
		if err != nil {
			t.Fatalf("NewOrder() error = %v", err)
		}

		entry := NewOrderCreatedEntry(r, verdict, order)

		if entry.DecisionType != DecisionOrderCreated {
			t.Errorf("DecisionType = %v, want %v", entry.DecisionType, DecisionOrderCreated)
		}
		if entry.OrderID != order.OrderID {
			t.Errorf("OrderID = %q, want %q", entry.OrderID, order.OrderID)
		}
		if entry.ReportID != r.ReportID {
			t.Errorf("ReportID = %q, want %q", entry.ReportID, r.ReportID)
		}
		if entry.DaysOfSupplyAtDecision != 1.33 {
			t.Errorf("DaysOfSupplyAtDecision = %v, want 1.33", entry.DaysOfSupplyAtDecision)
		}
		if entry.ThresholdUsed != 2.0 {
			t.Errorf("ThresholdUsed = %v, want 2.0", entry.ThresholdUsed)
		}
		if entry.DecisionID == "" {
			t.Error("DecisionID should not be empty")
		}
	})

	t.Run("skip entry carries verdict reason", func(t *testing.T) {
		r := report(5.0, 500, 100)
		verdict := engine.Decide(r)

		entry := NewOrderSkippedEntry(r, verdict)

		if entry.DecisionType != DecisionOrderSkipped {
			t.Errorf("DecisionType = %v, want %v", entry.DecisionType, DecisionOrderSkipped)
		}
		if entry.OrderID != "" {
			t.Errorf("OrderID = %q, want empty", entry.OrderID)
		}
		if entry.Reason != verdict.Reason {
			t.Errorf("Reason = %q, want %q", entry.Reason, verdict.Reason)
		}
	})

	t.Run("duplicate suppression references surviving order", func(t *testing.T) {
		r := report(0.5, 25, 50)
		verdict := engine.Decide(r)

		entry := NewDuplicateSuppressedEntry(r, verdict, "ORD-20260831-AAAA1111")

		if entry.DecisionType != DecisionOrderSkipped {
			t.Errorf("DecisionType = %v, want %v", entry.DecisionType, DecisionOrderSkipped)
		}
		if entry.Reason != ReasonDuplicateSuppressed {
			t.Errorf("Reason = %q, want %q", entry.Reason, ReasonDuplicateSuppressed)
		}
		if entry.OrderID != "ORD-20260831-AAAA1111" {
			t.Errorf("OrderID = %q, want the surviving order's id", entry.OrderID)
		}
	})

	t.Run("invalid quantity downgrade", func(t *testing.T) {
		r := report(1.5, 400, 30)
		verdict := engine.Decide(r)

		entry := NewInvalidQuantityEntry(r, verdict)

		if entry.DecisionType != DecisionOrderSkipped {
			t.Errorf("DecisionType = %v, want %v", entry.DecisionType, DecisionOrderSkipped)
		}
		if entry.Reason != ReasonInvalidQuantity {
			t.Errorf("Reason = %q, want %q", entry.Reason, ReasonInvalidQuantity)
		}
	})
}
