package domain

import "fmt"

// Priority represents order priority levels
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
)

// IsValid checks if the priority is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh:
		return true
	default:
		return false
	}
}

// Verdict is the outcome of the decision engine for a single stock report.
// It carries the threshold values used so every decision is auditable.
type Verdict struct {
	ShouldOrder   bool
	Priority      Priority
	Reason        string
	DaysOfSupply  float64
	ThresholdUsed float64
}

// Skip returns a no-order verdict with the given reason.
func skipVerdict(daysOfSupply, threshold float64) Verdict {
	return Verdict{
		ShouldOrder:   false,
		Reason:        fmt.Sprintf("Stock levels adequate: %.1f days of supply", daysOfSupply),
		DaysOfSupply:  daysOfSupply,
		ThresholdUsed: threshold,
	}
}

func triggerVerdict(priority Priority, reason string, daysOfSupply, threshold float64) Verdict {
	return Verdict{
		ShouldOrder:   true,
		Priority:      priority,
		Reason:        reason,
		DaysOfSupply:  daysOfSupply,
		ThresholdUsed: threshold,
	}
}
