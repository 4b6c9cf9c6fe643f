// Package sqlite contains SQLite implementations of repository interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/kbflow/internal/ports/secondary"
)

// terminalStates are the states that never come back from LoadActive.
// Rows in these states are transient: they record the outcome until
// terminal processing deletes them.
const terminalStates = "('approved', 'rejected', 'abandoned')"

// WorkflowRepository implements secondary.WorkflowRepository with SQLite.
type WorkflowRepository struct {
	db *sql.DB
}

// NewWorkflowRepository creates a new SQLite workflow repository.
func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowSelectCols = "case_number, thread_id, channel_id, state, attempt_count, user_responses, assessment_score, missing_info, started_at, last_updated"

// scanWorkflow scans a workflow row into a WorkflowRecord.
func scanWorkflow(scanner interface {
	Scan(dest ...any) error
}) (*secondary.WorkflowRecord, error) {
	var (
		responsesJSON string
		score         sql.NullFloat64
		missingJSON   sql.NullString
	)

	record := &secondary.WorkflowRecord{}
	err := scanner.Scan(
		&record.CaseNumber, &record.ThreadID, &record.ChannelID, &record.State,
		&record.AttemptCount, &responsesJSON, &score, &missingJSON,
		&record.StartedAt, &record.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(responsesJSON), &record.UserResponses); err != nil {
		return nil, fmt.Errorf("failed to decode user responses: %w", err)
	}
	if score.Valid {
		record.AssessmentScore = &score.Float64
	}
	if missingJSON.Valid && missingJSON.String != "" {
		if err := json.Unmarshal([]byte(missingJSON.String), &record.MissingInfo); err != nil {
			return nil, fmt.Errorf("failed to decode missing info: %w", err)
		}
	}

	return record, nil
}

// Upsert inserts or replaces a workflow record.
func (r *WorkflowRepository) Upsert(ctx context.Context, record *secondary.WorkflowRecord) error {
	responsesJSON, err := json.Marshal(record.UserResponses)
	if err != nil {
		return fmt.Errorf("failed to encode user responses: %w", err)
	}
	if record.UserResponses == nil {
		responsesJSON = []byte("[]")
	}

	var score sql.NullFloat64
	if record.AssessmentScore != nil {
		score = sql.NullFloat64{Float64: *record.AssessmentScore, Valid: true}
	}

	var missing sql.NullString
	if record.MissingInfo != nil {
		encoded, err := json.Marshal(record.MissingInfo)
		if err != nil {
			return fmt.Errorf("failed to encode missing info: %w", err)
		}
		missing = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO kb_workflows (case_number, thread_id, channel_id, state, attempt_count, user_responses, assessment_score, missing_info, started_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_number, thread_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			state = excluded.state,
			attempt_count = excluded.attempt_count,
			user_responses = excluded.user_responses,
			assessment_score = excluded.assessment_score,
			missing_info = excluded.missing_info,
			started_at = excluded.started_at,
			last_updated = excluded.last_updated`,
		record.CaseNumber, record.ThreadID, record.ChannelID, record.State,
		record.AttemptCount, string(responsesJSON), score, missing,
		record.StartedAt.UTC(), record.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow: %w", err)
	}

	return nil
}

// Get retrieves a workflow record, or nil if none exists.
func (r *WorkflowRepository) Get(ctx context.Context, caseNumber, threadID string) (*secondary.WorkflowRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+workflowSelectCols+" FROM kb_workflows WHERE case_number = ? AND thread_id = ?",
		caseNumber, threadID,
	)

	record, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return record, nil
}

// LoadActive retrieves every record whose state is non-terminal.
func (r *WorkflowRepository) LoadActive(ctx context.Context) ([]*secondary.WorkflowRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+workflowSelectCols+" FROM kb_workflows WHERE state NOT IN "+terminalStates+" ORDER BY started_at ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load active workflows: %w", err)
	}
	defer rows.Close()

	var records []*secondary.WorkflowRecord
	for rows.Next() {
		record, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Delete removes a workflow record. Missing rows are not an error.
func (r *WorkflowRepository) Delete(ctx context.Context, caseNumber, threadID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM kb_workflows WHERE case_number = ? AND thread_id = ?",
		caseNumber, threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// DeleteExpired bulk-deletes records in the given state older than the cutoff.
func (r *WorkflowRepository) DeleteExpired(ctx context.Context, state string, olderThan time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM kb_workflows WHERE state = ? AND last_updated < ?",
		state, olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired workflows: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return int(rowsAffected), nil
}

// Ensure WorkflowRepository implements the interface
var _ secondary.WorkflowRepository = (*WorkflowRepository)(nil)
