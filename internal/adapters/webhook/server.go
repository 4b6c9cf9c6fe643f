// Package webhook exposes the inbound HTTP surface that translates
// messaging-layer events into workflow orchestration calls. It holds no
// workflow state of its own.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/example/kbflow/internal/ctxutil"
	"github.com/example/kbflow/internal/ports/primary"
)

// Recorder captures thread dialogue so the workflow engine can read it
// back as prior conversation context.
type Recorder interface {
	RecordMessage(ctx context.Context, caseNumber, threadID, author, text string) error
}

// Event is the wire shape of an inbound workflow event.
type Event struct {
	Type       string `json:"type"`
	CaseNumber string `json:"case_number"`
	ThreadID   string `json:"thread_id"`
	ChannelID  string `json:"channel_id,omitempty"`
	Author     string `json:"author,omitempty"`
	Text       string `json:"text,omitempty"`
	Approved   bool   `json:"approved,omitempty"`
}

// Event type constants
const (
	EventCaseResolved   = "case_resolved"
	EventThreadReply    = "thread_reply"
	EventApprovalResult = "approval_result"
)

// Server routes workflow events to the orchestration service.
type Server struct {
	orch     primary.WorkflowOrchestrationService
	recorder Recorder
	logger   *slog.Logger
}

// NewServer creates a webhook server with injected dependencies.
func NewServer(orch primary.WorkflowOrchestrationService, recorder Recorder, logger *slog.Logger) *Server {
	return &Server{orch: orch, recorder: recorder, logger: logger}
}

// Handler returns the HTTP handler for the webhook surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleEvent)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx, requestID := ctxutil.WithNewRequestID(r.Context())

	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if event.CaseNumber == "" || event.ThreadID == "" {
		http.Error(w, "case_number and thread_id are required", http.StatusBadRequest)
		return
	}

	logger := s.logger.With("request_id", requestID, "type", event.Type, "case", event.CaseNumber)

	switch event.Type {
	case EventCaseResolved:
		if event.ChannelID == "" {
			http.Error(w, "channel_id is required for case_resolved", http.StatusBadRequest)
			return
		}
		logger.Info("accepted case-resolved trigger")
		// The orchestrator serializes per key and contains its own
		// failures; the event source only needs acceptance.
		go s.orch.StartWorkflow(context.WithoutCancel(ctx), event.CaseNumber, event.ThreadID, event.ChannelID)
		w.WriteHeader(http.StatusAccepted)

	case EventThreadReply:
		if event.Text == "" {
			http.Error(w, "text is required for thread_reply", http.StatusBadRequest)
			return
		}
		if err := s.recorder.RecordMessage(ctx, event.CaseNumber, event.ThreadID, event.Author, event.Text); err != nil {
			logger.Error("failed to record thread reply", "error", err)
			http.Error(w, "failed to record message", http.StatusInternalServerError)
			return
		}
		logger.Info("accepted thread reply")
		go s.orch.HandleUserResponse(context.WithoutCancel(ctx), event.CaseNumber, event.ThreadID, event.Text)
		w.WriteHeader(http.StatusAccepted)

	case EventApprovalResult:
		if err := s.orch.HandleApprovalResult(ctx, event.CaseNumber, event.ThreadID, event.Approved); err != nil {
			logger.Warn("approval result not applied", "error", err)
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		logger.Info("applied approval result", "approved", event.Approved)
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, fmt.Sprintf("unknown event type %q", event.Type), http.StatusBadRequest)
	}
}
