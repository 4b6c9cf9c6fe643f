package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/kbflow/internal/models"
	"github.com/example/kbflow/internal/ports/primary"
	"github.com/example/kbflow/internal/ports/secondary"
)

// User-facing notices. Every terminal transition pairs with exactly one
// of these so a human observer always sees why a workflow stopped.
const (
	noticeAwaitingNotes = "There isn't enough detail on this case yet to draft a KB article. Please update the case work notes with the root cause and resolution steps, and I'll pick it up from there."
	noticeAbandoned     = "I wasn't able to collect enough detail after several attempts, so I'm stopping here. The case can still be documented manually."
	noticeTimedOut      = "This conversation has been quiet for a while, so I'm closing out the KB workflow for this case."
	noticeError         = "Something went wrong while working on a KB article for this case, so I'm stopping here."
)

// WorkflowOrchestrationServiceImpl implements the WorkflowOrchestrationService
// interface. It drives workflows through their stages by observing the
// state service and requesting mutations; it never touches record fields
// directly. Operations on one (case, thread) key are serialized by a
// keyed mutex so interleaved events cannot corrupt attempt counts or
// response ordering.
type WorkflowOrchestrationServiceImpl struct {
	state     primary.WorkflowStateService
	convs     secondary.ConversationSource
	cases     secondary.CaseSource
	scorer    secondary.QualityScorer
	questions secondary.QuestionGenerator
	generator secondary.ArticleGenerator
	approvals secondary.ApprovalPoster
	poster    secondary.ThreadPoster
	logger    *slog.Logger

	gatheringTimeout time.Duration
	postSummary      bool

	keyMu sync.Mutex
	keys  map[models.WorkflowKey]*sync.Mutex
}

// OrchestrationDeps bundles the collaborator handles shared by every stage.
type OrchestrationDeps struct {
	State     primary.WorkflowStateService
	Convs     secondary.ConversationSource
	Cases     secondary.CaseSource
	Scorer    secondary.QualityScorer
	Questions secondary.QuestionGenerator
	Generator secondary.ArticleGenerator
	Approvals secondary.ApprovalPoster
	Poster    secondary.ThreadPoster
	Logger    *slog.Logger

	// GatheringTimeout bounds the interactive loop; zero selects the
	// state service default.
	GatheringTimeout time.Duration

	// PostResolutionSummary gates the optional summary message posted
	// when a workflow starts.
	PostResolutionSummary bool
}

// NewWorkflowOrchestrationService creates a new orchestration service
// with injected dependencies.
func NewWorkflowOrchestrationService(deps OrchestrationDeps) *WorkflowOrchestrationServiceImpl {
	timeout := deps.GatheringTimeout
	if timeout <= 0 {
		timeout = DefaultGatheringTimeout
	}
	return &WorkflowOrchestrationServiceImpl{
		state:            deps.State,
		convs:            deps.Convs,
		cases:            deps.Cases,
		scorer:           deps.Scorer,
		questions:        deps.Questions,
		generator:        deps.Generator,
		approvals:        deps.Approvals,
		poster:           deps.Poster,
		logger:           deps.Logger,
		gatheringTimeout: timeout,
		postSummary:      deps.PostResolutionSummary,
		keys:             make(map[models.WorkflowKey]*sync.Mutex),
	}
}

// lockKey serializes stage execution per workflow key. Locks are kept
// for the life of the process; the active key set is small.
func (s *WorkflowOrchestrationServiceImpl) lockKey(key models.WorkflowKey) func() {
	s.keyMu.Lock()
	mu, ok := s.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		s.keys[key] = mu
	}
	s.keyMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// StartWorkflow begins a workflow for a resolved case. Absent prior
// conversation is a silent no-op. This is one of the two error
// boundaries of the pipeline: any collaborator failure downstream of it
// is funneled to the error sink exactly once.
func (s *WorkflowOrchestrationServiceImpl) StartWorkflow(ctx context.Context, caseNumber, threadID, channelID string) {
	unlock := s.lockKey(models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID})
	defer unlock()

	if err := s.start(ctx, caseNumber, threadID, channelID); err != nil {
		s.handleError(ctx, caseNumber, threadID, channelID, err)
	}
}

func (s *WorkflowOrchestrationServiceImpl) start(ctx context.Context, caseNumber, threadID, channelID string) error {
	conv, err := s.convs.GetContext(ctx, caseNumber, threadID)
	if err != nil {
		return fmt.Errorf("failed to resolve conversation context: %w", err)
	}
	if conv == nil {
		s.logger.Info("no prior conversation for case, skipping workflow",
			"case", caseNumber, "thread", threadID)
		return nil
	}

	data, err := s.cases.GetCaseWithJournal(ctx, caseNumber)
	if err != nil {
		return fmt.Errorf("failed to fetch case data: %w", err)
	}

	if s.postSummary {
		summary := resolutionSummary(data)
		if err := s.poster.PostToThread(ctx, channelID, threadID, summary); err != nil {
			return fmt.Errorf("failed to post resolution summary: %w", err)
		}
	}

	s.state.Initialize(ctx, caseNumber, threadID, channelID)

	return s.assessAndRoute(ctx, caseNumber, threadID, channelID, conv, data)
}

// assessAndRoute scores the case and branches three ways on the verdict:
// generate directly, enter the gathering loop, or park the workflow
// awaiting out-of-band case-note updates.
func (s *WorkflowOrchestrationServiceImpl) assessAndRoute(ctx context.Context, caseNumber, threadID, channelID string, conv *secondary.Conversation, data *secondary.CaseData) error {
	assessment, err := s.scorer.Score(ctx, conv, data)
	if err != nil {
		return fmt.Errorf("failed to score case quality: %w", err)
	}

	if err := s.state.StoreAssessment(ctx, caseNumber, threadID, assessment.Score, assessment.MissingInfo); err != nil {
		return fmt.Errorf("failed to store assessment: %w", err)
	}

	switch assessment.Decision {
	case models.DecisionHighQuality:
		if err := s.state.SetState(ctx, caseNumber, threadID, models.StateGenerating); err != nil {
			return fmt.Errorf("failed to enter generating: %w", err)
		}
		return s.generateAndFinalize(ctx, caseNumber, threadID, channelID, conv, data)

	case models.DecisionNeedsInput:
		if err := s.state.SetState(ctx, caseNumber, threadID, models.StateGathering); err != nil {
			return fmt.Errorf("failed to enter gathering: %w", err)
		}
		if _, err := s.state.IncrementAttempt(ctx, caseNumber, threadID); err != nil {
			return fmt.Errorf("failed to count attempt: %w", err)
		}
		prompt, err := s.questions.Generate(ctx, assessment, conv, caseNumber)
		if err != nil {
			return fmt.Errorf("failed to generate clarifying questions: %w", err)
		}
		if err := s.poster.PostToThread(ctx, channelID, threadID, prompt); err != nil {
			return fmt.Errorf("failed to post clarifying questions: %w", err)
		}
		return nil

	default:
		// Insufficient: wait on an external case-note update. This
		// branch does not loop.
		if err := s.state.SetState(ctx, caseNumber, threadID, models.StateAwaitingNotes); err != nil {
			return fmt.Errorf("failed to enter awaiting_notes: %w", err)
		}
		if err := s.poster.PostToThread(ctx, channelID, threadID, noticeAwaitingNotes); err != nil {
			return fmt.Errorf("failed to post case-note request: %w", err)
		}
		return nil
	}
}

// HandleUserResponse processes a thread reply for a gathering workflow.
// This is the second error boundary of the pipeline.
func (s *WorkflowOrchestrationServiceImpl) HandleUserResponse(ctx context.Context, caseNumber, threadID, text string) {
	unlock := s.lockKey(models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID})
	defer unlock()

	wf := s.state.GetContext(caseNumber, threadID)
	if wf == nil || wf.State != models.StateGathering {
		s.logger.Info("ignoring reply outside an active gathering workflow",
			"case", caseNumber, "thread", threadID)
		return
	}

	if err := s.handleUserResponse(ctx, wf, text); err != nil {
		s.handleError(ctx, caseNumber, threadID, wf.ChannelID, err)
	}
}

func (s *WorkflowOrchestrationServiceImpl) handleUserResponse(ctx context.Context, wf *models.WorkflowContext, text string) error {
	caseNumber, threadID, channelID := wf.CaseNumber, wf.ThreadID, wf.ChannelID

	s.state.AddUserResponse(ctx, caseNumber, threadID, text)

	conv, err := s.convs.GetContext(ctx, caseNumber, threadID)
	if err != nil {
		return fmt.Errorf("failed to refresh conversation context: %w", err)
	}

	data, err := s.cases.GetCaseWithJournal(ctx, caseNumber)
	if err != nil {
		return fmt.Errorf("failed to refresh case data: %w", err)
	}

	assessment, err := s.scorer.Score(ctx, conv, data)
	if err != nil {
		return fmt.Errorf("failed to re-score case quality: %w", err)
	}

	if err := s.state.StoreAssessment(ctx, caseNumber, threadID, assessment.Score, assessment.MissingInfo); err != nil {
		return fmt.Errorf("failed to store assessment: %w", err)
	}

	if assessment.Decision == models.DecisionHighQuality {
		if err := s.state.SetState(ctx, caseNumber, threadID, models.StateGenerating); err != nil {
			return fmt.Errorf("failed to enter generating: %w", err)
		}
		return s.generateAndFinalize(ctx, caseNumber, threadID, channelID, conv, data)
	}

	if s.state.HasReachedMaxAttempts(caseNumber, threadID) {
		// Attempt exhaustion is a policy outcome, not an error: it gets
		// its own notice and never routes through the error sink.
		s.postBestEffort(ctx, channelID, threadID, noticeAbandoned)
		if err := s.state.SetState(ctx, caseNumber, threadID, models.StateAbandoned); err != nil {
			return fmt.Errorf("failed to abandon workflow: %w", err)
		}
		s.state.Remove(ctx, caseNumber, threadID)
		s.logger.Info("abandoned workflow after attempt exhaustion",
			"case", caseNumber, "thread", threadID)
		return nil
	}

	if _, err := s.state.IncrementAttempt(ctx, caseNumber, threadID); err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}
	prompt, err := s.questions.Generate(ctx, assessment, conv, caseNumber)
	if err != nil {
		return fmt.Errorf("failed to generate follow-up question: %w", err)
	}
	if err := s.poster.PostToThread(ctx, channelID, threadID, prompt); err != nil {
		return fmt.Errorf("failed to post follow-up question: %w", err)
	}
	return nil
}

// generateAndFinalize drafts the article and routes it to approval.
// Duplicate detection is a policy outcome with its own notice.
func (s *WorkflowOrchestrationServiceImpl) generateAndFinalize(ctx context.Context, caseNumber, threadID, channelID string, conv *secondary.Conversation, data *secondary.CaseData) error {
	result, err := s.generator.GenerateArticle(ctx, conv, data)
	if err != nil {
		return fmt.Errorf("failed to generate article: %w", err)
	}

	if result.IsDuplicate {
		s.postBestEffort(ctx, channelID, threadID, duplicateNotice(result.SimilarKBs))
		if err := s.state.SetState(ctx, caseNumber, threadID, models.StateAbandoned); err != nil {
			return fmt.Errorf("failed to abandon duplicate workflow: %w", err)
		}
		s.state.Remove(ctx, caseNumber, threadID)
		s.logger.Info("abandoned workflow, duplicate article detected",
			"case", caseNumber, "similar", strings.Join(result.SimilarKBs, ","))
		return nil
	}

	message := approvalSummary(caseNumber, result)
	if err := s.approvals.PostForApproval(ctx, caseNumber, channelID, threadID, result.Article, message); err != nil {
		return fmt.Errorf("failed to post article for approval: %w", err)
	}

	if err := s.state.SetState(ctx, caseNumber, threadID, models.StatePendingApproval); err != nil {
		return fmt.Errorf("failed to enter pending_approval: %w", err)
	}
	return nil
}

// HandleApprovalResult applies the human approval outcome. The approved
// and rejected states are recorded transiently and the record is then
// removed; terminal workflows are never resumed.
func (s *WorkflowOrchestrationServiceImpl) HandleApprovalResult(ctx context.Context, caseNumber, threadID string, approved bool) error {
	unlock := s.lockKey(models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID})
	defer unlock()

	wf := s.state.GetContext(caseNumber, threadID)
	if wf == nil {
		return primary.ErrWorkflowNotFound
	}
	if wf.State != models.StatePendingApproval {
		return fmt.Errorf("workflow for case %s is not pending approval (state: %s)", caseNumber, wf.State)
	}

	terminal := models.StateApproved
	if !approved {
		terminal = models.StateRejected
	}
	if err := s.state.SetState(ctx, caseNumber, threadID, terminal); err != nil {
		return fmt.Errorf("failed to record approval outcome: %w", err)
	}
	s.state.Remove(ctx, caseNumber, threadID)

	s.logger.Info("workflow resolved by approval", "case", caseNumber, "outcome", terminal)
	return nil
}

// CleanupTimedOut abandons stale gathering workflows with a user-visible
// timeout notice. It is distinct from the state service's own expiry
// sweep, which only reclaims storage.
func (s *WorkflowOrchestrationServiceImpl) CleanupTimedOut(ctx context.Context) int {
	now := time.Now()
	abandoned := 0

	for _, wf := range s.state.GetContextsInState(models.StateGathering) {
		if now.Sub(wf.LastUpdated) <= s.gatheringTimeout {
			continue
		}

		unlock := s.lockKey(wf.Key())
		current := s.state.GetContext(wf.CaseNumber, wf.ThreadID)
		if current == nil || current.State != models.StateGathering || now.Sub(current.LastUpdated) <= s.gatheringTimeout {
			unlock()
			continue
		}

		s.postBestEffort(ctx, current.ChannelID, current.ThreadID, noticeTimedOut)
		if err := s.state.SetState(ctx, current.CaseNumber, current.ThreadID, models.StateAbandoned); err != nil {
			s.logger.Error("failed to abandon timed-out workflow",
				"case", current.CaseNumber, "error", err)
			unlock()
			continue
		}
		s.state.Remove(ctx, current.CaseNumber, current.ThreadID)
		abandoned++
		s.logger.Info("abandoned timed-out workflow",
			"case", current.CaseNumber, "thread", current.ThreadID)
		unlock()
	}

	return abandoned
}

// handleError is the single error sink for the pipeline: log, notify
// best-effort, abandon, remove. A notification failure never masks the
// underlying abandonment.
func (s *WorkflowOrchestrationServiceImpl) handleError(ctx context.Context, caseNumber, threadID, channelID string, err error) {
	s.logger.Error("workflow failed", "case", caseNumber, "thread", threadID, "error", err)

	s.postBestEffort(ctx, channelID, threadID, noticeError)

	if err := s.state.SetState(ctx, caseNumber, threadID, models.StateAbandoned); err != nil {
		if !errors.Is(err, primary.ErrWorkflowNotFound) {
			s.logger.Error("failed to abandon failed workflow", "case", caseNumber, "error", err)
		}
		return
	}
	s.state.Remove(ctx, caseNumber, threadID)
}

// postBestEffort posts a notice and logs, rather than propagates, any
// transport failure.
func (s *WorkflowOrchestrationServiceImpl) postBestEffort(ctx context.Context, channelID, threadID, text string) {
	if channelID == "" {
		return
	}
	if err := s.poster.PostToThread(ctx, channelID, threadID, text); err != nil {
		s.logger.Error("failed to post notice", "channel", channelID, "thread", threadID, "error", err)
	}
}

func resolutionSummary(data *secondary.CaseData) string {
	c := data.Case
	var b strings.Builder
	fmt.Fprintf(&b, "Case %s has been resolved: %s", c.Number, c.ShortDescription)
	if c.CloseNotes != "" {
		fmt.Fprintf(&b, "\nClose notes: %s", c.CloseNotes)
	}
	b.WriteString("\nI'll check whether this is worth a KB article.")
	return b.String()
}

func duplicateNotice(similarKBs []string) string {
	if len(similarKBs) == 0 {
		return "An existing KB article already covers this case, so I won't draft a new one."
	}
	return fmt.Sprintf("An existing KB article already covers this case (%s), so I won't draft a new one.",
		strings.Join(similarKBs, ", "))
}

func approvalSummary(caseNumber string, result *secondary.GenerationResult) string {
	return fmt.Sprintf("Drafted a KB article for case %s (confidence %.0f%%): *%s*. React to approve or reject.",
		caseNumber, result.Confidence*100, result.Article.Title)
}

// Ensure WorkflowOrchestrationServiceImpl implements the interface
var _ primary.WorkflowOrchestrationService = (*WorkflowOrchestrationServiceImpl)(nil)
