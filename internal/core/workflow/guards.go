// Package workflow contains the pure business logic for workflow state
// transitions. Guards are pure functions that evaluate preconditions
// without side effects.
package workflow

import (
	"fmt"
	"time"

	"github.com/example/kbflow/internal/models"
)

// MaxGatheringAttempts is the fixed cap on clarification round-trips.
const MaxGatheringAttempts = 5

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

// transitions is the directed graph of legal state changes. Terminal
// states have no outgoing edges. The abandoned edge from every
// non-terminal state is handled in CanTransition rather than listed here.
var transitions = map[string][]string{
	models.StateAssessing:       {models.StateGenerating, models.StateGathering, models.StateAwaitingNotes},
	models.StateGathering:       {models.StateGenerating, models.StateGathering},
	models.StateGenerating:      {models.StatePendingApproval},
	models.StatePendingApproval: {models.StateApproved, models.StateRejected},
	models.StateAwaitingNotes:   {},
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(state string) bool {
	switch state {
	case models.StateApproved, models.StateRejected, models.StateAbandoned:
		return true
	}
	return false
}

// CanTransition evaluates whether a state change is legal.
// Rules:
// - Terminal states have no outgoing transitions
// - Any non-terminal state may move to abandoned
// - Otherwise the edge must exist in the transition graph
func CanTransition(from, to string) GuardResult {
	if IsTerminal(from) {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("state %s is terminal, no transitions allowed", from),
		}
	}

	if to == models.StateAbandoned {
		return GuardResult{Allowed: true}
	}

	for _, next := range transitions[from] {
		if next == to {
			return GuardResult{Allowed: true}
		}
	}

	return GuardResult{
		Allowed: false,
		Reason:  fmt.Sprintf("illegal transition %s -> %s", from, to),
	}
}

// ReachedMaxAttempts reports whether the gathering loop is exhausted.
func ReachedMaxAttempts(count int) bool {
	return count >= MaxGatheringAttempts
}

// IsExpired reports whether a workflow is eligible for the timeout sweep.
// Only gathering workflows expire; every other state is immune to the
// sweep regardless of age.
func IsExpired(state string, lastUpdated, now time.Time, timeout time.Duration) bool {
	if state != models.StateGathering {
		return false
	}
	return now.Sub(lastUpdated) > timeout
}
