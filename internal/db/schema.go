package db

// SchemaSQL is the complete schema for fresh kbflow installs.
//
// This is the SINGLE SOURCE OF TRUTH for the database schema. All tests
// use this schema via GetSchemaSQL(), so repository code that references
// a column which does not exist here fails immediately with "no such
// column" at test time instead of in production.
const SchemaSQL = `
-- KB workflows (one row per case/thread state machine instance)
CREATE TABLE IF NOT EXISTS kb_workflows (
	case_number TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	channel_id TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL CHECK(state IN ('assessing', 'gathering', 'generating', 'awaiting_notes', 'pending_approval', 'approved', 'rejected', 'abandoned')),
	attempt_count INTEGER NOT NULL DEFAULT 0,
	user_responses TEXT NOT NULL DEFAULT '[]',
	assessment_score REAL,
	missing_info TEXT,
	started_at DATETIME NOT NULL,
	last_updated DATETIME NOT NULL,
	PRIMARY KEY (case_number, thread_id)
);

CREATE INDEX IF NOT EXISTS idx_kb_workflows_state ON kb_workflows(state);
CREATE INDEX IF NOT EXISTS idx_kb_workflows_last_updated ON kb_workflows(last_updated);

-- Thread dialogue recorded by the webhook layer; the workflow engine
-- no-ops for threads with no recorded conversation
CREATE TABLE IF NOT EXISTS kb_conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	case_number TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_kb_conversations_key ON kb_conversations(case_number, thread_id);
`

// GetSchemaSQL returns the authoritative schema SQL for use by tests.
// Tests should use this instead of hardcoding their own schema to prevent drift.
func GetSchemaSQL() string {
	return SchemaSQL
}
