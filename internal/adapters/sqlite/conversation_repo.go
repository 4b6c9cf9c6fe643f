package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/kbflow/internal/ports/secondary"
)

// ConversationRepository implements secondary.ConversationSource with
// SQLite. The webhook layer records thread messages as they arrive;
// the workflow engine reads them back as prior dialogue.
type ConversationRepository struct {
	db *sql.DB
}

// NewConversationRepository creates a new SQLite conversation repository.
func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// RecordMessage appends a thread message to the conversation log.
func (r *ConversationRepository) RecordMessage(ctx context.Context, caseNumber, threadID, author, text string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO kb_conversations (case_number, thread_id, author, text) VALUES (?, ?, ?, ?)",
		caseNumber, threadID, author, text,
	)
	if err != nil {
		return fmt.Errorf("failed to record conversation message: %w", err)
	}
	return nil
}

// GetContext returns the recorded dialogue for a case thread, oldest
// first, or nil when nothing has been recorded.
func (r *ConversationRepository) GetContext(ctx context.Context, caseNumber, threadID string) (*secondary.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT author, text FROM kb_conversations WHERE case_number = ? AND thread_id = ? ORDER BY id ASC",
		caseNumber, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	defer rows.Close()

	var messages []secondary.ConversationMessage
	for rows.Next() {
		var msg secondary.ConversationMessage
		if err := rows.Scan(&msg.Author, &msg.Text); err != nil {
			return nil, fmt.Errorf("failed to scan conversation message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	if len(messages) == 0 {
		return nil, nil
	}

	return &secondary.Conversation{
		CaseNumber: caseNumber,
		ThreadID:   threadID,
		Messages:   messages,
	}, nil
}

// Ensure ConversationRepository implements the interface
var _ secondary.ConversationSource = (*ConversationRepository)(nil)
