package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/kbflow/internal/ports/primary"
)

// ============================================================================
// Mock Implementations
// ============================================================================

type startCall struct {
	caseNumber, threadID, channelID string
}

type replyCall struct {
	caseNumber, threadID, text string
}

type approvalCall struct {
	caseNumber, threadID string
	approved             bool
}

// mockOrchestrator records calls and signals asynchronous dispatch on a
// channel so tests can wait for the goroutine handoff.
type mockOrchestrator struct {
	mu          sync.Mutex
	starts      []startCall
	replies     []replyCall
	approvals   []approvalCall
	approvalErr error
	dispatched  chan struct{}
}

func newMockOrchestrator() *mockOrchestrator {
	return &mockOrchestrator{dispatched: make(chan struct{}, 16)}
}

func (m *mockOrchestrator) StartWorkflow(ctx context.Context, caseNumber, threadID, channelID string) {
	m.mu.Lock()
	m.starts = append(m.starts, startCall{caseNumber, threadID, channelID})
	m.mu.Unlock()
	m.dispatched <- struct{}{}
}

func (m *mockOrchestrator) HandleUserResponse(ctx context.Context, caseNumber, threadID, text string) {
	m.mu.Lock()
	m.replies = append(m.replies, replyCall{caseNumber, threadID, text})
	m.mu.Unlock()
	m.dispatched <- struct{}{}
}

func (m *mockOrchestrator) HandleApprovalResult(ctx context.Context, caseNumber, threadID string, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.approvalErr != nil {
		return m.approvalErr
	}
	m.approvals = append(m.approvals, approvalCall{caseNumber, threadID, approved})
	return nil
}

func (m *mockOrchestrator) CleanupTimedOut(ctx context.Context) int { return 0 }

func (m *mockOrchestrator) waitDispatch(t *testing.T) {
	t.Helper()
	select {
	case <-m.dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async dispatch")
	}
}

type mockRecorder struct {
	mu       sync.Mutex
	recorded []replyCall
	err      error
}

func (m *mockRecorder) RecordMessage(ctx context.Context, caseNumber, threadID, author, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recorded = append(m.recorded, replyCall{caseNumber, threadID, text})
	return nil
}

var (
	_ primary.WorkflowOrchestrationService = (*mockOrchestrator)(nil)
	_ Recorder                             = (*mockRecorder)(nil)
)

// ============================================================================
// Tests
// ============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *mockOrchestrator, *mockRecorder) {
	t.Helper()

	orch := newMockOrchestrator()
	recorder := &mockRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := httptest.NewServer(NewServer(orch, recorder, logger).Handler())
	t.Cleanup(server.Close)
	return server, orch, recorder
}

func postEvent(t *testing.T, server *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(server.URL+"/v1/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/events: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleEvent_CaseResolved(t *testing.T) {
	server, orch, _ := newTestServer(t)

	resp := postEvent(t, server,
		`{"type": "case_resolved", "case_number": "CS0001", "thread_id": "T1", "channel_id": "C042KB"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	orch.waitDispatch(t)
	orch.mu.Lock()
	defer orch.mu.Unlock()
	if len(orch.starts) != 1 {
		t.Fatalf("StartWorkflow calls = %d, want 1", len(orch.starts))
	}
	want := startCall{"CS0001", "T1", "C042KB"}
	if orch.starts[0] != want {
		t.Errorf("StartWorkflow called with %+v, want %+v", orch.starts[0], want)
	}
}

func TestHandleEvent_CaseResolvedRequiresChannel(t *testing.T) {
	server, orch, _ := newTestServer(t)

	resp := postEvent(t, server,
		`{"type": "case_resolved", "case_number": "CS0001", "thread_id": "T1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	orch.mu.Lock()
	defer orch.mu.Unlock()
	if len(orch.starts) != 0 {
		t.Error("no workflow should start without a channel")
	}
}

func TestHandleEvent_ThreadReply(t *testing.T) {
	server, orch, recorder := newTestServer(t)

	resp := postEvent(t, server,
		`{"type": "thread_reply", "case_number": "CS0001", "thread_id": "T1", "author": "engineer", "text": "it was the firewall"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	orch.waitDispatch(t)

	// The reply must be recorded before the orchestrator sees it, so a
	// re-read of the conversation includes this message.
	recorder.mu.Lock()
	if len(recorder.recorded) != 1 || recorder.recorded[0].text != "it was the firewall" {
		t.Errorf("recorded = %+v", recorder.recorded)
	}
	recorder.mu.Unlock()

	orch.mu.Lock()
	defer orch.mu.Unlock()
	if len(orch.replies) != 1 {
		t.Fatalf("HandleUserResponse calls = %d, want 1", len(orch.replies))
	}
	want := replyCall{"CS0001", "T1", "it was the firewall"}
	if orch.replies[0] != want {
		t.Errorf("HandleUserResponse called with %+v, want %+v", orch.replies[0], want)
	}
}

func TestHandleEvent_ThreadReplyRecorderFailure(t *testing.T) {
	server, orch, recorder := newTestServer(t)
	recorder.err = errors.New("db locked")

	resp := postEvent(t, server,
		`{"type": "thread_reply", "case_number": "CS0001", "thread_id": "T1", "text": "lost"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	orch.mu.Lock()
	defer orch.mu.Unlock()
	if len(orch.replies) != 0 {
		t.Error("an unrecorded reply must not be dispatched")
	}
}

func TestHandleEvent_ApprovalResult(t *testing.T) {
	server, orch, _ := newTestServer(t)

	resp := postEvent(t, server,
		`{"type": "approval_result", "case_number": "CS0001", "thread_id": "T1", "approved": true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	orch.mu.Lock()
	defer orch.mu.Unlock()
	if len(orch.approvals) != 1 {
		t.Fatalf("HandleApprovalResult calls = %d, want 1", len(orch.approvals))
	}
	if !orch.approvals[0].approved {
		t.Error("approved flag not forwarded")
	}
}

func TestHandleEvent_ApprovalConflict(t *testing.T) {
	server, orch, _ := newTestServer(t)
	orch.approvalErr = errors.New("workflow for case CS0001 is not pending approval")

	resp := postEvent(t, server,
		`{"type": "approval_result", "case_number": "CS0001", "thread_id": "T1", "approved": true}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestHandleEvent_Validation(t *testing.T) {
	server, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing case number", `{"type": "case_resolved", "thread_id": "T1", "channel_id": "C1"}`},
		{"missing thread id", `{"type": "case_resolved", "case_number": "CS0001", "channel_id": "C1"}`},
		{"unknown type", `{"type": "mystery", "case_number": "CS0001", "thread_id": "T1"}`},
		{"reply without text", `{"type": "thread_reply", "case_number": "CS0001", "thread_id": "T1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postEvent(t, server, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"ok"`) {
		t.Errorf("body = %s", body)
	}
}
