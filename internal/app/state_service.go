// Package app contains the application services that orchestrate business logic.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/example/kbflow/internal/core/workflow"
	"github.com/example/kbflow/internal/models"
	"github.com/example/kbflow/internal/ports/primary"
	"github.com/example/kbflow/internal/ports/secondary"
)

const (
	// DefaultGatheringTimeout is how long a gathering workflow may sit
	// idle before the sweep reclaims it.
	DefaultGatheringTimeout = 24 * time.Hour

	// DefaultSweepInterval is the cadence of the expiry sweep.
	DefaultSweepInterval = time.Hour

	// persistMaxRetries bounds the backoff loop around each durable write.
	persistMaxRetries = 3
)

// WorkflowStateServiceImpl implements the WorkflowStateService interface.
// The in-memory map is authoritative for the process lifetime; the
// repository is a best-effort sink used only for restart recovery.
// Writes to it never block or fail a state mutation.
type WorkflowStateServiceImpl struct {
	repo   secondary.WorkflowRepository
	logger *slog.Logger

	gatheringTimeout time.Duration
	sweepInterval    time.Duration

	mu       sync.RWMutex
	contexts map[models.WorkflowKey]*models.WorkflowContext

	persistWG sync.WaitGroup
	stopSweep chan struct{}
	closeOnce sync.Once
}

// NewWorkflowStateService creates a new WorkflowStateService with injected
// dependencies. Zero durations select the defaults (24h timeout, hourly
// sweep).
func NewWorkflowStateService(repo secondary.WorkflowRepository, logger *slog.Logger, gatheringTimeout, sweepInterval time.Duration) *WorkflowStateServiceImpl {
	if gatheringTimeout <= 0 {
		gatheringTimeout = DefaultGatheringTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &WorkflowStateServiceImpl{
		repo:             repo,
		logger:           logger,
		gatheringTimeout: gatheringTimeout,
		sweepInterval:    sweepInterval,
		contexts:         make(map[models.WorkflowKey]*models.WorkflowContext),
		stopSweep:        make(chan struct{}),
	}
}

// Initialize creates a fresh workflow record in the assessing state.
// An existing record for the same key is replaced wholesale; the
// discarded progress is logged so re-triggers are visible.
func (s *WorkflowStateServiceImpl) Initialize(ctx context.Context, caseNumber, threadID, channelID string) *models.WorkflowContext {
	key := models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID}
	now := time.Now()

	s.mu.Lock()
	if prior, ok := s.contexts[key]; ok {
		s.logger.Warn("re-initializing workflow, discarding prior progress",
			"case", caseNumber, "thread", threadID,
			"prior_state", prior.State, "prior_attempts", prior.AttemptCount)
	}
	wf := &models.WorkflowContext{
		CaseNumber:  caseNumber,
		ThreadID:    threadID,
		ChannelID:   channelID,
		State:       models.StateAssessing,
		StartedAt:   now,
		LastUpdated: now,
	}
	s.contexts[key] = wf
	snapshot := cloneContext(wf)
	s.mu.Unlock()

	s.persistAsync(snapshot)
	return cloneContext(snapshot)
}

// GetContext returns a snapshot of the workflow, or nil if absent.
func (s *WorkflowStateServiceImpl) GetContext(caseNumber, threadID string) *models.WorkflowContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.contexts[models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID}]
	if !ok {
		return nil
	}
	return cloneContext(wf)
}

// SetState transitions the workflow to a new state. Missing records
// yield ErrWorkflowNotFound rather than a lazily fabricated workflow.
// Legality is the caller's responsibility; an edge outside the state
// graph is applied but logged so misuse surfaces in operation.
func (s *WorkflowStateServiceImpl) SetState(ctx context.Context, caseNumber, threadID, newState string) error {
	key := models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID}

	s.mu.Lock()
	wf, ok := s.contexts[key]
	if !ok {
		s.mu.Unlock()
		return primary.ErrWorkflowNotFound
	}

	if guard := workflow.CanTransition(wf.State, newState); !guard.Allowed {
		s.logger.Warn("applying transition outside the state graph",
			"case", caseNumber, "thread", threadID, "reason", guard.Reason)
	}

	wf.State = newState
	wf.LastUpdated = time.Now()
	snapshot := cloneContext(wf)
	s.mu.Unlock()

	s.persistAsync(snapshot)
	return nil
}

// StoreAssessment overwrites the latest assessment score and gap list.
func (s *WorkflowStateServiceImpl) StoreAssessment(ctx context.Context, caseNumber, threadID string, score float64, missingInfo []string) error {
	key := models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID}

	s.mu.Lock()
	wf, ok := s.contexts[key]
	if !ok {
		s.mu.Unlock()
		return primary.ErrWorkflowNotFound
	}

	wf.AssessmentScore = &score
	wf.MissingInfo = append([]string(nil), missingInfo...)
	wf.LastUpdated = time.Now()
	snapshot := cloneContext(wf)
	s.mu.Unlock()

	s.persistAsync(snapshot)
	return nil
}

// AddUserResponse appends a gathered reply. Missing records are a
// logged no-op.
func (s *WorkflowStateServiceImpl) AddUserResponse(ctx context.Context, caseNumber, threadID, text string) {
	key := models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID}

	s.mu.Lock()
	wf, ok := s.contexts[key]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("dropping user response for unknown workflow",
			"case", caseNumber, "thread", threadID)
		return
	}

	wf.UserResponses = append(wf.UserResponses, text)
	wf.LastUpdated = time.Now()
	snapshot := cloneContext(wf)
	s.mu.Unlock()

	s.persistAsync(snapshot)
}

// IncrementAttempt bumps the clarification counter and returns the new count.
func (s *WorkflowStateServiceImpl) IncrementAttempt(ctx context.Context, caseNumber, threadID string) (int, error) {
	key := models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID}

	s.mu.Lock()
	wf, ok := s.contexts[key]
	if !ok {
		s.mu.Unlock()
		return 0, primary.ErrWorkflowNotFound
	}

	wf.AttemptCount++
	wf.LastUpdated = time.Now()
	count := wf.AttemptCount
	snapshot := cloneContext(wf)
	s.mu.Unlock()

	s.persistAsync(snapshot)
	return count, nil
}

// HasReachedMaxAttempts reports whether the gathering loop is exhausted.
// Unknown workflows report false.
func (s *WorkflowStateServiceImpl) HasReachedMaxAttempts(caseNumber, threadID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.contexts[models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID}]
	if !ok {
		return false
	}
	return workflow.ReachedMaxAttempts(wf.AttemptCount)
}

// Remove deletes the workflow from memory and, best-effort, from
// persistence.
func (s *WorkflowStateServiceImpl) Remove(ctx context.Context, caseNumber, threadID string) {
	key := models.WorkflowKey{CaseNumber: caseNumber, ThreadID: threadID}

	s.mu.Lock()
	delete(s.contexts, key)
	s.mu.Unlock()

	s.deleteAsync(caseNumber, threadID)
}

// LoadFromDatabase bulk-loads every non-terminal record into memory so
// in-flight workflows survive a restart. Terminal workflows are
// deliberately not resumed.
func (s *WorkflowStateServiceImpl) LoadFromDatabase(ctx context.Context) error {
	records, err := s.repo.LoadActive(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, record := range records {
		if workflow.IsTerminal(record.State) {
			// LoadActive excludes these; a row slipping through is a
			// gateway bug worth surfacing.
			s.logger.Warn("skipping terminal workflow from active load",
				"case", record.CaseNumber, "thread", record.ThreadID, "state", record.State)
			continue
		}
		wf := recordToContext(record)
		s.contexts[wf.Key()] = wf
		loaded++
	}

	s.logger.Info("restored in-flight workflows", "count", loaded)
	return nil
}

// CleanupExpired removes gathering workflows older than the configured
// timeout from memory, then instructs the gateway to bulk-delete the
// matching rows. Records in any other state are never touched.
func (s *WorkflowStateServiceImpl) CleanupExpired(ctx context.Context) int {
	now := time.Now()
	cutoff := now.Add(-s.gatheringTimeout)

	s.mu.Lock()
	removed := 0
	for key, wf := range s.contexts {
		if workflow.IsExpired(wf.State, wf.LastUpdated, now, s.gatheringTimeout) {
			delete(s.contexts, key)
			removed++
			s.logger.Info("expired gathering workflow",
				"case", key.CaseNumber, "thread", key.ThreadID,
				"idle", now.Sub(wf.LastUpdated).Round(time.Minute).String())
		}
	}
	s.mu.Unlock()

	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		count, err := s.repo.DeleteExpired(context.WithoutCancel(ctx), models.StateGathering, cutoff)
		if err != nil {
			s.logger.Error("failed to bulk-delete expired workflows", "error", err)
			return
		}
		if count > 0 {
			s.logger.Info("bulk-deleted expired workflow rows", "count", count)
		}
	}()

	return removed
}

// GetContextsInState returns snapshots of every workflow in the given state.
func (s *WorkflowStateServiceImpl) GetContextsInState(state string) []*models.WorkflowContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.WorkflowContext
	for _, wf := range s.contexts {
		if wf.State == state {
			result = append(result, cloneContext(wf))
		}
	}
	return result
}

// StartSweep launches the periodic expiry sweep. Call Close to stop it.
func (s *WorkflowStateServiceImpl) StartSweep() {
	ticker := time.NewTicker(s.sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.CleanupExpired(context.Background())
			case <-s.stopSweep:
				return
			}
		}
	}()
}

// Close stops the sweep and waits for in-flight persistence writes.
func (s *WorkflowStateServiceImpl) Close() {
	s.closeOnce.Do(func() {
		close(s.stopSweep)
	})
	s.persistWG.Wait()
}

// persistAsync writes a record snapshot to the gateway without blocking
// the caller. Failures degrade durability only: they are retried with
// bounded backoff and then logged, never raised.
//
// Terminal states are never written: the removal that follows a
// terminal transition is the durable outcome, and an unordered terminal
// upsert could land after that delete and leave a row nothing reclaims.
func (s *WorkflowStateServiceImpl) persistAsync(wf *models.WorkflowContext) {
	if workflow.IsTerminal(wf.State) {
		return
	}
	record := contextToRecord(wf)
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		op := func() error {
			return s.repo.Upsert(context.Background(), record)
		}
		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), persistMaxRetries)
		if err := backoff.Retry(op, policy); err != nil {
			s.logger.Error("failed to persist workflow",
				"case", record.CaseNumber, "thread", record.ThreadID, "error", err)
		}
	}()
}

// deleteAsync removes a record from the gateway without blocking the caller.
func (s *WorkflowStateServiceImpl) deleteAsync(caseNumber, threadID string) {
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		op := func() error {
			return s.repo.Delete(context.Background(), caseNumber, threadID)
		}
		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), persistMaxRetries)
		if err := backoff.Retry(op, policy); err != nil {
			s.logger.Error("failed to delete persisted workflow",
				"case", caseNumber, "thread", threadID, "error", err)
		}
	}()
}

// cloneContext returns a deep copy so callers never alias store-owned state.
func cloneContext(wf *models.WorkflowContext) *models.WorkflowContext {
	cp := *wf
	cp.UserResponses = append([]string(nil), wf.UserResponses...)
	cp.MissingInfo = append([]string(nil), wf.MissingInfo...)
	if wf.AssessmentScore != nil {
		score := *wf.AssessmentScore
		cp.AssessmentScore = &score
	}
	return &cp
}

func contextToRecord(wf *models.WorkflowContext) *secondary.WorkflowRecord {
	return &secondary.WorkflowRecord{
		CaseNumber:      wf.CaseNumber,
		ThreadID:        wf.ThreadID,
		ChannelID:       wf.ChannelID,
		State:           wf.State,
		AttemptCount:    wf.AttemptCount,
		UserResponses:   append([]string(nil), wf.UserResponses...),
		AssessmentScore: wf.AssessmentScore,
		MissingInfo:     append([]string(nil), wf.MissingInfo...),
		StartedAt:       wf.StartedAt,
		LastUpdated:     wf.LastUpdated,
	}
}

func recordToContext(record *secondary.WorkflowRecord) *models.WorkflowContext {
	return &models.WorkflowContext{
		CaseNumber:      record.CaseNumber,
		ThreadID:        record.ThreadID,
		ChannelID:       record.ChannelID,
		State:           record.State,
		AttemptCount:    record.AttemptCount,
		UserResponses:   append([]string(nil), record.UserResponses...),
		AssessmentScore: record.AssessmentScore,
		MissingInfo:     append([]string(nil), record.MissingInfo...),
		StartedAt:       record.StartedAt,
		LastUpdated:     record.LastUpdated,
	}
}

// Ensure WorkflowStateServiceImpl implements the interface
var _ primary.WorkflowStateService = (*WorkflowStateServiceImpl)(nil)
