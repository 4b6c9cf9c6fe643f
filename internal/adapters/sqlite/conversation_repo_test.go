package sqlite_test

import (
	"context"
	"testing"

	"github.com/example/kbflow/internal/adapters/sqlite"
)

func TestConversationRepository_RecordAndGetContext(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewConversationRepository(testDB)
	ctx := context.Background()

	messages := []struct {
		author string
		text   string
	}{
		{"agent", "Customer reports hourly VPN drops."},
		{"engineer", "Cleared the stale DNS cache on the concentrator."},
		{"agent", "Confirmed resolved with the customer."},
	}
	for _, msg := range messages {
		if err := repo.RecordMessage(ctx, "CS0001", "T1", msg.author, msg.text); err != nil {
			t.Fatalf("RecordMessage: %v", err)
		}
	}
	// A message on another thread must not leak in.
	if err := repo.RecordMessage(ctx, "CS0001", "T2", "agent", "unrelated thread"); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}

	conv, err := repo.GetContext(ctx, "CS0001", "T1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if conv == nil {
		t.Fatal("GetContext returned nil for a recorded thread")
	}
	if conv.CaseNumber != "CS0001" || conv.ThreadID != "T1" {
		t.Errorf("conversation key = %s/%s", conv.CaseNumber, conv.ThreadID)
	}
	if len(conv.Messages) != len(messages) {
		t.Fatalf("message count = %d, want %d", len(conv.Messages), len(messages))
	}
	for i, want := range messages {
		if conv.Messages[i].Author != want.author || conv.Messages[i].Text != want.text {
			t.Errorf("Messages[%d] = %+v, want %+v", i, conv.Messages[i], want)
		}
	}
}

func TestConversationRepository_GetContextEmpty(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewConversationRepository(testDB)

	conv, err := repo.GetContext(context.Background(), "CS9999", "no-thread")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if conv != nil {
		t.Errorf("GetContext for an unrecorded thread = %+v, want nil", conv)
	}
}
