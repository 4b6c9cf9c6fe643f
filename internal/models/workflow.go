// Package models contains domain types for kbflow entities.
// SQL persistence lives in internal/adapters/sqlite/*.go
package models

import "time"

// WorkflowKey identifies a workflow instance. A resolved case can have at
// most one workflow per conversation thread.
type WorkflowKey struct {
	CaseNumber string
	ThreadID   string
}

// WorkflowContext is the per-(case, thread) state machine instance. The
// state service owns all mutation; callers only observe snapshots.
type WorkflowContext struct {
	CaseNumber      string
	ThreadID        string
	ChannelID       string
	State           string
	AttemptCount    int
	UserResponses   []string
	AssessmentScore *float64
	MissingInfo     []string
	StartedAt       time.Time
	LastUpdated     time.Time
}

// Key returns the composite identity of the workflow.
func (w *WorkflowContext) Key() WorkflowKey {
	return WorkflowKey{CaseNumber: w.CaseNumber, ThreadID: w.ThreadID}
}

// Workflow state constants
const (
	StateAssessing       = "assessing"
	StateGathering       = "gathering"
	StateGenerating      = "generating"
	StateAwaitingNotes   = "awaiting_notes"
	StatePendingApproval = "pending_approval"
	StateApproved        = "approved"
	StateRejected        = "rejected"
	StateAbandoned       = "abandoned"
)

// Scorer decision constants
const (
	DecisionHighQuality  = "high_quality"
	DecisionNeedsInput   = "needs_input"
	DecisionInsufficient = "insufficient"
)
