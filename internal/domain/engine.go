package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DecisionPolicy holds the replenishment thresholds. The engine reads it but
// never mutates it.
type DecisionPolicy struct {
	// UrgentBelowDays marks the upper edge of the URGENT band. A report with
	// daysOfSupply strictly below this value triggers an URGENT order.
	UrgentBelowDays float64 `yaml:"urgentBelowDays"`

	// TriggerBelowDays marks the upper edge of the HIGH band. A report with
	// daysOfSupply strictly below this value (and at or above
	// UrgentBelowDays) triggers a HIGH order; at or above it, no order.
	TriggerBelowDays float64 `yaml:"triggerBelowDays"`

	// RestockTargetDays is the days of supply an order should restore.
	RestockTargetDays int `yaml:"restockTargetDays"`
}

// DefaultPolicy returns the standard replenishment policy.
func DefaultPolicy() DecisionPolicy {
	return DecisionPolicy{
		UrgentBelowDays:   1.0,
		TriggerBelowDays:  2.0,
		RestockTargetDays: 7,
	}
}

// LoadPolicy reads a DecisionPolicy from a YAML file, falling back to the
// defaults for zero-valued fields.
func LoadPolicy(path string) (DecisionPolicy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return DefaultPolicy(), err
	}
	return policy, nil
}

// Validate checks the policy bands are coherent.
func (p DecisionPolicy) Validate() error {
	if p.UrgentBelowDays <= 0 {
		return fmt.Errorf("urgentBelowDays must be positive, got %v", p.UrgentBelowDays)
	}
	if p.TriggerBelowDays <= p.UrgentBelowDays {
		return fmt.Errorf("triggerBelowDays (%v) must exceed urgentBelowDays (%v)", p.TriggerBelowDays, p.UrgentBelowDays)
	}
	if p.RestockTargetDays <= 0 {
		return fmt.Errorf("restockTargetDays must be positive, got %d", p.RestockTargetDays)
	}
	return nil
}

// DecisionEngine maps a validated stock report to an ordering verdict.
// It is pure and stateless; callers may share one instance across goroutines.
type DecisionEngine struct {
	policy DecisionPolicy
}

// NewDecisionEngine creates a DecisionEngine with the given policy.
func NewDecisionEngine(policy DecisionPolicy) *DecisionEngine {
	return &DecisionEngine{policy: policy}
}

// Policy returns the policy the engine decides against.
func (e *DecisionEngine) Policy() DecisionPolicy {
	return e.policy
}

// Decide evaluates a stock report against the policy.
//
// Band boundaries belong to the higher band: daysOfSupply of exactly
// UrgentBelowDays is HIGH, not URGENT; exactly TriggerBelowDays is a skip.
// Comparisons are strict less-than against the upper edge; changing either
// to <= would reclassify identical inputs and break the audit contract.
func (e *DecisionEngine) Decide(report *StockReport) Verdict {
	days := report.DaysOfSupply

	if days >= e.policy.TriggerBelowDays {
		return skipVerdict(days, e.policy.TriggerBelowDays)
	}

	if days < e.policy.UrgentBelowDays {
		reason := fmt.Sprintf("CRITICAL: Only %.1f days of supply remaining (< %g day)",
			days, e.policy.UrgentBelowDays)
		return triggerVerdict(PriorityUrgent, reason, days, e.policy.TriggerBelowDays)
	}

	reason := fmt.Sprintf("LOW STOCK: %.1f days of supply remaining (< %g days)",
		days, e.policy.TriggerBelowDays)
	return triggerVerdict(PriorityHigh, reason, days, e.policy.TriggerBelowDays)
}

// OrderQuantity computes the units needed to restore the restock target.
// Only meaningful for trigger verdicts; the result may be non-positive when
// inputs are stale or inconsistent, in which case the order factory fails
// closed rather than creating a zero or negative order.
func (e *DecisionEngine) OrderQuantity(report *StockReport) int {
	return report.DailyConsumptionUnits*e.policy.RestockTargetDays - report.CurrentStockUnits
}
