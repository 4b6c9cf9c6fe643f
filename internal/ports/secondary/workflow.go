// Package secondary defines the secondary ports (driven adapters) for the application.
// These are the interfaces through which the application drives external systems.
package secondary

import (
	"context"
	"time"
)

// WorkflowRepository defines the secondary port for durable workflow
// persistence. Writes are best-effort from the caller's point of view:
// the in-memory state service remains authoritative within a process
// lifetime and uses this port only for restart recovery.
type WorkflowRepository interface {
	// Upsert inserts or replaces a workflow record by its composite key.
	Upsert(ctx context.Context, record *WorkflowRecord) error

	// Get retrieves a workflow record, or nil if none exists.
	Get(ctx context.Context, caseNumber, threadID string) (*WorkflowRecord, error)

	// LoadActive retrieves every record whose state is non-terminal.
	LoadActive(ctx context.Context) ([]*WorkflowRecord, error)

	// Delete removes a workflow record. Deleting a missing record is not
	// an error.
	Delete(ctx context.Context, caseNumber, threadID string) error

	// DeleteExpired bulk-deletes records in the given state whose
	// last_updated is older than the cutoff. Returns the number of rows
	// removed.
	DeleteExpired(ctx context.Context, state string, olderThan time.Time) (int, error)
}

// WorkflowRecord represents a workflow as stored in persistence.
type WorkflowRecord struct {
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
