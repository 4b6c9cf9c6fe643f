// Package primary defines the primary ports (driving adapters) for the application.
package primary

import (
	"context"
	"errors"

	"github.com/example/kbflow/internal/models"
)

// ErrWorkflowNotFound is returned by state operations that target a key
// with no active workflow. Callers detect misuse instead of the store
// fabricating a record with an empty channel id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowStateService defines the primary port for the workflow state
// store. It is the sole mutator of workflow records; the orchestration
// service only observes snapshots and requests mutations through these
// operations.
type WorkflowStateService interface {
	// Initialize creates a fresh workflow record in the assessing state
	// and persists it asynchronously. Re-initializing an existing key
	// replaces the prior record wholesale and logs the discarded
	// progress.
	Initialize(ctx context.Context, caseNumber, threadID, channelID string) *models.WorkflowContext

	// GetContext returns a snapshot of the workflow, or nil if absent.
	GetContext(caseNumber, threadID string) *models.WorkflowContext

	// SetState transitions the workflow to a new state and refreshes
	// last_updated. Returns ErrWorkflowNotFound if no record exists.
	SetState(ctx context.Context, caseNumber, threadID, newState string) error

	// StoreAssessment overwrites the latest assessment score and missing
	// info. The state is not changed.
	StoreAssessment(ctx context.Context, caseNumber, threadID string, score float64, missingInfo []string) error

	// AddUserResponse appends a gathered reply. Missing records are a
	// logged no-op.
	AddUserResponse(ctx context.Context, caseNumber, threadID, text string)

	// IncrementAttempt bumps the clarification counter and returns the
	// new count.
	IncrementAttempt(ctx context.Context, caseNumber, threadID string) (int, error)

	// HasReachedMaxAttempts reports whether the gathering loop is
	// exhausted for this workflow.
	HasReachedMaxAttempts(caseNumber, threadID string) bool

	// Remove deletes the workflow from memory and, best-effort, from
	// persistence.
	Remove(ctx context.Context, caseNumber, threadID string)

	// LoadFromDatabase bulk-loads every non-terminal record into memory
	// so in-flight workflows survive a restart.
	LoadFromDatabase(ctx context.Context) error

	// CleanupExpired removes gathering workflows older than the
	// configured timeout from memory and bulk-deletes the matching rows
	// from persistence. Returns the number of in-memory records removed.
	CleanupExpired(ctx context.Context) int

	// GetContextsInState returns snapshots of every workflow in the
	// given state.
	GetContextsInState(state string) []*models.WorkflowContext
}
