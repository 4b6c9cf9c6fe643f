package servicenow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestServer fakes the two table endpoints the client touches.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("svc-user:svc-pass"))
		if auth != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		query := r.URL.Query().Get("sysparm_query")
		switch {
		case strings.HasSuffix(r.URL.Path, "/sn_customerservice_case"):
			if query != "number=CS0001" {
				json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"result": []map[string]string{{
				"sys_id":            "abc123",
				"number":            "CS0001",
				"short_description": "VPN drops every hour",
				"description":       "Customer reports hourly VPN disconnects.",
				"close_notes":       "Stale DNS cache on the concentrator.",
				"category":          "network",
				"state":             "resolved",
			}}})

		case strings.HasSuffix(r.URL.Path, "/sys_journal_field"):
			if !strings.Contains(query, "element_id=abc123") || !strings.Contains(query, "element=work_notes") {
				t.Errorf("unexpected journal query %q", query)
			}
			json.NewEncoder(w).Encode(map[string]any{"result": []map[string]string{
				{"sys_created_on": "2026-08-01 10:00:00", "sys_created_by": "engineer", "value": "Cleared DNS cache."},
				{"sys_created_on": "2026-08-01 11:00:00", "sys_created_by": "agent", "value": "Customer confirmed."},
			}})

		default:
			http.NotFound(w, r)
		}
	}))
}

func TestClient_GetCase(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := NewClient(server.URL, "svc-user", "svc-pass")

	details, err := client.GetCase(context.Background(), "CS0001")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if details.SysID != "abc123" {
		t.Errorf("SysID = %s, want abc123", details.SysID)
	}
	if details.ShortDescription != "VPN drops every hour" {
		t.Errorf("ShortDescription = %s", details.ShortDescription)
	}
	if details.CloseNotes != "Stale DNS cache on the concentrator." {
		t.Errorf("CloseNotes = %s", details.CloseNotes)
	}
}

func TestClient_GetCaseNotFound(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := NewClient(server.URL, "svc-user", "svc-pass")

	_, err := client.GetCase(context.Background(), "CS9999")
	if err == nil {
		t.Fatal("expected error for an unknown case number")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want a not-found error", err)
	}
}

func TestClient_GetCaseWithJournal(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := NewClient(server.URL, "svc-user", "svc-pass")

	data, err := client.GetCaseWithJournal(context.Background(), "CS0001")
	if err != nil {
		t.Fatalf("GetCaseWithJournal: %v", err)
	}
	if data.Case.Number != "CS0001" {
		t.Errorf("case number = %s", data.Case.Number)
	}
	if len(data.Journal) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(data.Journal))
	}
	if data.Journal[0].Value != "Cleared DNS cache." {
		t.Errorf("Journal[0] = %+v", data.Journal[0])
	}
	if data.Journal[1].CreatedBy != "agent" {
		t.Errorf("Journal[1] = %+v", data.Journal[1])
	}
}

func TestClient_BadCredentials(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	client := NewClient(server.URL, "svc-user", "wrong")

	_, err := client.GetCase(context.Background(), "CS0001")
	if err == nil {
		t.Fatal("expected error on rejected credentials")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want a 401 status error", err)
	}
}
