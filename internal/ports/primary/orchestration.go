package primary

import "context"

// WorkflowOrchestrationService defines the primary port for driving a KB
// workflow from trigger through assessment, gathering, generation and
// termination. Operations on a single (case, thread) key are serialized
// internally; callers may invoke them concurrently.
type WorkflowOrchestrationService interface {
	// StartWorkflow begins a workflow for a resolved case. If no prior
	// conversation exists for the thread the call silently no-ops.
	// Collaborator failures are contained: the workflow is abandoned and
	// a best-effort error notice is posted, but no error is returned to
	// the trigger.
	StartWorkflow(ctx context.Context, caseNumber, threadID, channelID string)

	// HandleUserResponse processes a new thread reply for a gathering
	// workflow: the reply is recorded, the case is re-scored, and the
	// workflow either proceeds to generation, asks a follow-up question,
	// or is abandoned when attempts are exhausted.
	HandleUserResponse(ctx context.Context, caseNumber, threadID, text string)

	// HandleApprovalResult applies the human approval outcome to a
	// pending workflow and completes its terminal processing.
	HandleApprovalResult(ctx context.Context, caseNumber, threadID string, approved bool) error

	// CleanupTimedOut abandons gathering workflows whose last activity
	// is older than the gathering timeout, posting a timeout notice to
	// each affected thread. Returns the number of workflows abandoned.
	CleanupTimedOut(ctx context.Context) int
}
