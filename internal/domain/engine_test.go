package domain

import (
	"testing"
	"time"
)

func report(days float64, stock, consumption int) *StockReport {
	return &StockReport{
		ReportID:              "rep-test",
		HospitalID:            "Hospital-A",
		ProductCode:           "PHYSIO-SALINE",
		CurrentStockUnits:     stock,
		DailyConsumptionUnits: consumption,
		DaysOfSupply:          days,
		Timestamp:             time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC),
		SourceTransport:       TransportSynchronous,
	}
}

func TestDecisionEngine_Decide(t *testing.T) {
	engine := NewDecisionEngine(DefaultPolicy())

	tests := []struct {
		name         string
		daysOfSupply float64
		wantOrder    bool
		wantPriority Priority
	}{
		{"far below urgent threshold", 0.5, true, PriorityUrgent},
		{"just below urgent threshold", 0.99, true, PriorityUrgent},
		{"exactly 1.0 belongs to the high band", 1.0, true, PriorityHigh},
		{"between the bands", 1.33, true, PriorityHigh},
		{"just below trigger threshold", 1.99, true, PriorityHigh},
		{"exactly 2.0 is a skip", 2.0, false, ""},
		{"well above threshold", 5.0, false, ""},
		{"zero days of supply", 0.0, true, PriorityUrgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := engine.Decide(report(tt.daysOfSupply, 40, 30))

			if verdict.ShouldOrder != tt.wantOrder {
				t.Errorf("ShouldOrder = %v, want %v", verdict.ShouldOrder, tt.wantOrder)
			}
			if tt.wantOrder && verdict.Priority != tt.wantPriority {
				t.Errorf("Priority = %v, want %v", verdict.Priority, tt.wantPriority)
			}
			if verdict.DaysOfSupply != tt.daysOfSupply {
				t.Errorf("DaysOfSupply = %v, want %v", verdict.DaysOfSupply, tt.daysOfSupply)
			}
			if verdict.ThresholdUsed != 2.0 {
				t.Errorf("ThresholdUsed = %v, want 2.0", verdict.ThresholdUsed)
			}
			if verdict.Reason == "" {
				t.Error("Reason should never be empty")
			}
		})
	}
}

func TestDecisionEngine_Decide_IsDeterministic(t *testing.T) {
	engine := NewDecisionEngine(DefaultPolicy())
	r := report(1.33, 40, 30)

	first := engine.Decide(r)
	for i := 0; i < 100; i++ {
		if got := engine.Decide(r); got != first {
			t.Fatalf("Decide() is not deterministic: %+v != %+v", got, first)
		}
	}
}

func TestDecisionEngine_OrderQuantity(t *testing.T) {
	engine := NewDecisionEngine(DefaultPolicy())

	tests := []struct {
		name        string
		stock       int
		consumption int
		want        int
	}{
		{"documented domain example", 40, 30, 170},
		{"zero stock", 0, 50, 350},
		{"stock already above restock target", 400, 30, -190},
		{"exactly at restock target", 210, 30, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.OrderQuantity(report(1.0, tt.stock, tt.consumption)); got != tt.want {
				t.Errorf("OrderQuantity() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecisionPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  DecisionPolicy
		wantErr bool
	}{
		{"default policy is valid", DefaultPolicy(), false},
		{"urgent band must be positive", DecisionPolicy{UrgentBelowDays: 0, TriggerBelowDays: 2, RestockTargetDays: 7}, true},
		{"trigger band must exceed urgent band", DecisionPolicy{UrgentBelowDays: 2, TriggerBelowDays: 2, RestockTargetDays: 7}, true},
		{"restock target must be positive", DecisionPolicy{UrgentBelowDays: 1, TriggerBelowDays: 2, RestockTargetDays: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
